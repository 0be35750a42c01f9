// Package cmd contains all Cobra commands for sqlpilot.
//
// Running `sqlpilot` with no arguments starts the interactive UI. The
// subcommands ask one question, run one statement, manage the server
// configuration or serve the mock backend.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/config"
	"github.com/DachengChen/sqlpilot/db"
	"github.com/DachengChen/sqlpilot/tui"
)

// Version is set at build time.
var Version = "0.1.0"

var cfgFile string

// configKey stores the loaded config in the command context.
type configKey struct{}

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sqlpilot",
		Short: "Ask your data questions in plain language",
		Long: `sqlpilot is a terminal client for a natural-language-to-SQL assistant:
  • Metadata tree with suggested and hand-picked tables
  • Chat that retrieves related metadata and generates SQL
  • Result dashboard with charts and CSV/XLSX export
  • Live backend log panel

Run 'sqlpilot' to start the TUI.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logDir := ""
			if dir, err := config.Dir(); err == nil {
				logDir = filepath.Join(dir, "logs")
			}
			if err := applog.Init(logDir, cfg.Debug); err != nil {
				return err
			}
			if cfg.File != "" {
				applog.Info("using config file %s", cfg.File)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			applog.Close()
		},
		// Running with no subcommand launches the TUI.
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := GetConfig(cmd.Context())
			exec, closeExec, err := NewExecutor(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeExec()
			applog.Info("starting TUI against %s", cfg.Backend.URL)
			return tui.Start(cmd.Context(), cfg, exec)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ~/.sqlpilot/config.yaml)")
	flags.String("backend", "", "assistant backend URL")
	flags.String("user", "", "user name sent with backend requests")
	flags.String("executor", "", "where SQL runs: backend or direct")
	flags.String("export-dir", "", "directory for exported results")
	flags.Bool("debug", false, "write debug entries to the log file")

	_ = rootCmd.RegisterFlagCompletionFunc("executor", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{config.ExecutorBackend, config.ExecutorDirect}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(NewAskCommand())
	rootCmd.AddCommand(NewExecCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewMockCommand())
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// GetConfig retrieves the config from the command context.
func GetConfig(ctx context.Context) *config.Config {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c
	}
	c, err := config.Load("", nil)
	if err != nil {
		return &config.Config{Backend: config.BackendConfig{URL: "http://localhost:5000"}, Executor: config.ExecutorBackend}
	}
	return c
}

// NewClient builds the backend client of cfg.
func NewClient(cfg *config.Config) *backend.Client {
	return backend.New(cfg.Backend.URL, cfg.Backend.User, cfg.Backend.Timeout)
}

// NewExecutor returns the direct PostgreSQL executor when configured. A nil
// executor means statements run through the backend.
func NewExecutor(ctx context.Context, cfg *config.Config) (chat.Executor, func(), error) {
	if cfg.Executor != config.ExecutorDirect {
		return nil, func() {}, nil
	}
	d, err := db.Connect(ctx, cfg.Direct)
	if err != nil {
		return nil, nil, fmt.Errorf("direct executor: %w", err)
	}
	return d, d.Close, nil
}
