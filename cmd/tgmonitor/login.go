package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const maxLoginSteps = 5

// loginReply is the subset of the gateway envelope the login flow reads.
type loginReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Wait    int    `json:"wait_seconds"`
}

// loginClient drives the login endpoints of a running gateway.
type loginClient struct {
	server string
	token  string
	http   *http.Client
}

func (c *loginClient) post(ctx context.Context, id, step string, body any) (loginReply, error) {
	var reply loginReply
	payload, err := json.Marshal(body)
	if err != nil {
		return reply, err
	}
	url := strings.TrimRight(c.server, "/") + "/api/identities/" + id + "/" + step
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return reply, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reply, fmt.Errorf("contacting gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return reply, errors.New("gateway rejected the token (set --token or TGMONITOR_TOKEN)")
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		return reply, fmt.Errorf("decoding %s reply (HTTP %d): %w", step, resp.StatusCode, err)
	}
	return reply, nil
}

// prompter asks the operator for login secrets.
type prompter interface {
	Phone() (string, error)
	Code() (string, error)
	Password() (string, error)
}

// huhPrompter asks interactively on the terminal.
type huhPrompter struct{}

func (huhPrompter) ask(title, placeholder string, secret bool) (string, error) {
	var v string
	in := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&v).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("required")
			}
			return nil
		})
	if secret {
		in = in.EchoMode(huh.EchoModePassword)
	}
	if err := huh.NewForm(huh.NewGroup(in)).Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func (p huhPrompter) Phone() (string, error) {
	return p.ask("Phone number", "+33612345678", false)
}

func (p huhPrompter) Code() (string, error) {
	return p.ask("Login code sent by Telegram", "12345", false)
}

func (p huhPrompter) Password() (string, error) {
	return p.ask("Two-step verification password", "", true)
}

// runLogin walks one identity through phone, code and password until the
// gateway reports success.
func runLogin(ctx context.Context, out io.Writer, c *loginClient, ask prompter, id, phone string) error {
	if phone == "" {
		var err error
		if phone, err = ask.Phone(); err != nil {
			return err
		}
	}

	reply, err := c.post(ctx, id, "login", map[string]string{"phone": phone})
	for range maxLoginSteps {
		if err != nil {
			return err
		}
		if reply.Wait > 0 {
			return fmt.Errorf("telegram asked to wait %s before retrying", time.Duration(reply.Wait)*time.Second)
		}

		switch reply.Status {
		case "success":
			fmt.Fprintf(out, "%s %s\n", color.New(color.FgGreen).Sprint("Logged in:"), id)
			return nil
		case "code_required":
			if reply.Message != "" {
				fmt.Fprintln(out, color.New(color.FgYellow).Sprint(reply.Message))
			}
			code, perr := ask.Code()
			if perr != nil {
				return perr
			}
			reply, err = c.post(ctx, id, "code", map[string]string{"code": code})
		case "password_required":
			pass, perr := ask.Password()
			if perr != nil {
				return perr
			}
			reply, err = c.post(ctx, id, "password", map[string]string{"password": pass})
		default:
			msg := reply.Message
			if msg == "" {
				msg = "login failed"
			}
			return errors.New(msg)
		}
	}
	return errors.New("login did not complete")
}

func loginCmd() *cobra.Command {
	var (
		server string
		token  string
		phone  string
	)
	cmd := &cobra.Command{
		Use:   "login <identity>",
		Short: "Log an identity in through a running gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("TGMONITOR_TOKEN")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client := &loginClient{
				server: server,
				token:  token,
				http:   &http.Client{Timeout: 2 * time.Minute},
			}
			return runLogin(ctx, cmd.OutOrStdout(), client, huhPrompter{}, args[0], phone)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "Gateway base URL")
	cmd.Flags().StringVar(&token, "token", "", "Gateway bearer token (default $TGMONITOR_TOKEN)")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number; prompted when empty")
	return cmd
}
