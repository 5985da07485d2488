// Package main is the entry point for the tgmonitor CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flemzord/tgmonitor/internal/config"
	"github.com/flemzord/tgmonitor/internal/core"
	"github.com/flemzord/tgmonitor/pkg/app"

	// Compiled-in modules.
	_ "github.com/flemzord/tgmonitor/internal/engine"
	_ "github.com/flemzord/tgmonitor/internal/gateway"
	_ "github.com/flemzord/tgmonitor/modules/session/mtproto"
	_ "github.com/flemzord/tgmonitor/modules/store/jsonfile"
	_ "github.com/flemzord/tgmonitor/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed).Sprint("Error:"), err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tgmonitor",
		Short:         "Multi-account Telegram keyword monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd(), loginCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "tgmonitor %s (commit: %s, built: %s)\n", version, commit, date)
	mods := core.GetModules()
	if len(mods) == 0 {
		fmt.Fprintln(w, "\nNo compiled modules.")
		return
	}
	fmt.Fprintln(w, "\nCompiled modules:")
	for _, mod := range mods {
		fmt.Fprintf(w, "  %s\n", mod.ID)
	}
}

// runFlags are shared by start and service.
type runFlags struct {
	configPath  string
	dataDir     string
	sessionsDir string
	logLevel    string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "Persistent data directory")
	cmd.Flags().StringVar(&f.sessionsDir, "sessions-dir", "", "Directory holding session files")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
}

func (f *runFlags) params() (app.RunParams, error) {
	p := app.RunParams{
		ConfigPath:  f.configPath,
		DataDir:     f.dataDir,
		SessionsDir: f.sessionsDir,
		Version:     version,
		Commit:      commit,
		Date:        date,
	}
	if f.logLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(f.logLevel))); err != nil {
			return p, fmt.Errorf("invalid --log-level %q", f.logLevel)
		}
		p.LogLevel = &lvl
	}
	return p, nil
}

func startCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start tgmonitor with all configured modules",
		RunE: func(_ *cobra.Command, _ []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			return app.Run(params)
		},
	}
	flags.register(cmd)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd.OutOrStdout(), args[0])
		},
	})
	return cmd
}

// checkConfig loads and validates the file, then configures every module
// without starting anything.
func checkConfig(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ids := config.Resolve(cfg)
	for _, id := range ids {
		info, _ := core.GetModule(id)
		mod := info.New()
		if c, ok := mod.(core.Configurable); ok {
			node := cfg.Modules[id]
			if err := c.Configure(&node); err != nil {
				return fmt.Errorf("module %s: %w", id, err)
			}
		}
	}

	ok := color.New(color.FgGreen).Sprint("OK")
	fmt.Fprintf(w, "Configuration %s (%d modules)\n", ok, len(ids))
	for _, id := range ids {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}
