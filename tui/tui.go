package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/config"
	"github.com/DachengChen/sqlpilot/logstream"
)

// Start connects the log stream and runs the TUI until the user quits.
// exec may be nil to execute through the backend.
func Start(ctx context.Context, cfg *config.Config, exec chat.Executor) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := backend.New(cfg.Backend.URL, cfg.Backend.User, cfg.Backend.Timeout)

	var events <-chan logstream.Event
	wsURL, err := logstream.WebSocketURL(cfg.Backend.URL, cfg.Stream.Path)
	if err != nil {
		applog.Error("log stream disabled: %v", err)
	} else {
		stream := logstream.NewClient(wsURL, cfg.Stream.ReconnectDelay)
		events = stream.Events()
		go func() {
			if err := stream.Run(ctx); err != nil {
				applog.Error("log stream: %v", err)
			}
		}()
	}

	app := NewApp(ctx, Deps{Config: cfg, Client: client, Executor: exec, Stream: events})
	defer app.Session().Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
