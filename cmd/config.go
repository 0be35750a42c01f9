package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/DachengChen/sqlpilot/admin"
)

// NewConfigCommand creates the config command with its list and set
// subcommands. They manage the backend's configuration, not the local
// config file.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the backend configuration",
	}
	cmd.AddCommand(newConfigListCommand(), newConfigSetCommand())
	return cmd
}

func newConfigListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the backend configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := NewClient(GetConfig(cmd.Context()))
			items, err := client.ListConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("list config: %w", err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Name", "Value"})
			for _, it := range items {
				t.AppendRow(table.Row{it.Key, it.Name, it.Value})
			}
			t.Render()
			return nil
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Change backend configuration entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			updates, err := admin.ParseAssignments(args)
			if err != nil {
				return err
			}
			client := NewClient(GetConfig(cmd.Context()))
			if err := client.UpdateConfig(cmd.Context(), updates); err != nil {
				return fmt.Errorf("update config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d entries\n", len(updates))
			return nil
		},
	}
}
