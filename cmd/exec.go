package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/dashboard"
)

const defaultTableWidth = 120

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "exec <sql>",
		Short: "Run one SQL statement and print the result",
		Long: `Exec runs a statement through the configured executor (the backend's
/execute or the direct PostgreSQL connection) and prints the result as a
table. --export also writes it as csv or xlsx to the export directory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd.Context())

			var exec chat.Executor = NewClient(cfg)
			direct, closeExec, err := NewExecutor(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeExec()
			if direct != nil {
				exec = direct
			}

			sql := strings.Join(args, " ")
			rs, err := exec.Execute(cmd.Context(), sql)
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}
			return printResult(cmd.OutOrStdout(), rs, export, cfg.Export.Dir)
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "export the result as csv or xlsx")
	return cmd
}

// printResult writes rs as a table and optionally exports it.
func printResult(out io.Writer, rs *backend.ResultSet, format, dir string) error {
	if !rs.IsTabular() && (rs.Message != "" || rs.AffectedRows != 0) {
		fmt.Fprintln(out, dashboard.Summary(rs))
	} else {
		fmt.Fprintln(out, dashboard.RenderTable(rs, tableWidth(out)))
	}
	if format == "" {
		return nil
	}
	format = strings.ToLower(format)
	if format != dashboard.FormatCSV && format != dashboard.FormatXLSX {
		return fmt.Errorf("unknown export format %q, want csv or xlsx", format)
	}
	path, err := dashboard.Export(rs, format, dir, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported to %s\n", path)
	return nil
}

// tableWidth is the terminal width when out is a terminal.
func tableWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultTableWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultTableWidth
	}
	return w
}
