package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/mockbackend"
)

// NewMockCommand creates the mock-backend command.
func NewMockCommand() *cobra.Command {
	var (
		addr     string
		fixtures string
		latency  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve a fixture-backed assistant backend",
		Long: `mock-backend serves every endpoint the client uses, including the
Socket.IO log stream, from a YAML fixture file. Without --fixtures the
built-in sample data is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := mockbackend.Options{Latency: latency}
			if fixtures != "" {
				fx, err := mockbackend.LoadFixtures(fixtures)
				if err != nil {
					return err
				}
				opts.Fixtures = fx
			}
			srv, err := mockbackend.New(opts)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}, cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":5000", "listen address")
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "fixture YAML file")
	cmd.Flags().DurationVar(&latency, "latency", 0, "delay added to retrieval and agent responses")
	return cmd
}

// serve runs hs until ctx is done, then shuts it down.
func serve(ctx context.Context, hs *http.Server, cmd *cobra.Command) error {
	errc := make(chan error, 1)
	go func() {
		errc <- hs.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "mock backend listening on %s\n", hs.Addr)
	applog.Info("mock backend listening on %s", hs.Addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	applog.Info("mock backend stopped")
	return nil
}
