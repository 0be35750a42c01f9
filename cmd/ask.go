package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/catalog"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/selection"
)

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	var (
		execute bool
		export  string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the generated SQL",
		Long: `Ask runs the same pipeline as the chat: it recalls related metadata,
retrieves tables, examples and terms, and asks the assistant for SQL.
With --execute the generated statement runs and its result is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd.Context())
			client := NewClient(cfg)

			var exec chat.Executor = client
			direct, closeExec, err := NewExecutor(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeExec()
			if direct != nil {
				exec = direct
			}

			tree := catalog.NewTree(client)
			if err := tree.Load(cmd.Context()); err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			sel := selection.NewController(tree, client)
			session := chat.NewSession(client, exec, sel)
			defer session.Close()

			out := cmd.OutOrStdout()
			question := strings.Join(args, " ")
			sql, err := ask(cmd.Context(), session, question, out)
			if err != nil {
				return err
			}
			if !execute || sql == "" {
				return nil
			}
			rs, err := session.Execute(cmd.Context(), sql)
			if err != nil {
				return err
			}
			return printResult(out, rs, export, cfg.Export.Dir)
		},
	}
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "execute the generated SQL")
	cmd.Flags().StringVar(&export, "export", "", "export the result as csv or xlsx")
	return cmd
}

// ask sends one question and prints the session output until it is
// answered. It returns the generated SQL, if any.
func ask(ctx context.Context, s *chat.Session, question string, out io.Writer) (string, error) {
	stop := make(chan struct{})
	done := make(chan string)
	go func() {
		var sql string
		for {
			select {
			case ev := <-s.Events():
				if printEvent(out, ev) {
					sql = ev.SQL
				}
			case <-stop:
				for {
					select {
					case ev := <-s.Events():
						if printEvent(out, ev) {
							sql = ev.SQL
						}
					default:
						done <- sql
						return
					}
				}
			}
		}
	}()

	err := s.Send(ctx, question)
	close(stop)
	sql := <-done
	return sql, err
}

// printEvent writes one event and reports whether it carried SQL.
func printEvent(out io.Writer, ev chat.Event) bool {
	switch ev.Kind {
	case chat.EventMetadata:
		fmt.Fprintf(out, "%s: %d\n", ev.Collection.Title(), len(ev.Items))
		for _, it := range ev.Items {
			fmt.Fprintf(out, "  - %s\n", it.Name)
		}
	case chat.EventAssistantMessage:
		fmt.Fprintf(out, "\n%s\n", ev.Text)
	case chat.EventSQL:
		if ev.Text != "" {
			fmt.Fprintf(out, "\n%s\n", ev.Text)
		}
		fmt.Fprintf(out, "\n%s\n", ev.SQL)
		return true
	case chat.EventError:
		fmt.Fprintf(out, "error: %s\n", ev.Text)
	}
	return false
}

var _ chat.Executor = (*backend.Client)(nil)
