package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/tgmonitor/pkg/app"
)

// program adapts app.RunContext to the service manager lifecycle.
type program struct {
	params app.RunParams
	run    func(context.Context, app.RunParams) error

	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- p.run(ctx, p.params) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

// serviceConfig describes the installed unit. Flags given at install time
// are baked into its arguments.
func serviceConfig(flags runFlags) (*service.Config, error) {
	args := []string{"service", "run"}
	if flags.configPath != "" {
		abs, err := filepath.Abs(flags.configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if flags.dataDir != "" {
		args = append(args, "--data-dir", flags.dataDir)
	}
	if flags.sessionsDir != "" {
		args = append(args, "--sessions-dir", flags.sessionsDir)
	}
	if flags.logLevel != "" {
		args = append(args, "--log-level", flags.logLevel)
	}
	return &service.Config{
		Name:        "tgmonitor",
		DisplayName: "tgmonitor",
		Description: "Multi-account Telegram keyword monitor",
		Arguments:   args,
		Option: service.KeyValue{
			"Restart": "on-failure",
		},
	}, nil
}

func serviceCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|status|run>",
		Short:     "Manage tgmonitor as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "restart", "status", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			cfg, err := serviceConfig(flags)
			if err != nil {
				return err
			}
			svc, err := service.New(&program{params: params, run: app.RunContext}, cfg)
			if err != nil {
				return err
			}

			switch action := args[0]; action {
			case "run":
				return svc.Run()
			case "status":
				st, err := svc.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusText(st))
				return nil
			default:
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgGreen).Sprint("Service"), action)
				return nil
			}
		},
	}
	flags.register(cmd)
	return cmd
}

func statusText(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return color.New(color.FgGreen).Sprint("running")
	case service.StatusStopped:
		return color.New(color.FgYellow).Sprint("stopped")
	default:
		return color.New(color.FgRed).Sprint("unknown")
	}
}
