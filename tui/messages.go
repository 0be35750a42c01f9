// messages.go defines Bubble Tea messages used for async communication.
//
// Backend requests, session output and the log stream all reach the UI
// loop through these message types, so Update never blocks.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/DachengChen/sqlpilot/admin"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/logstream"
	"github.com/DachengChen/sqlpilot/toast"
)

// ChatEventMsg carries one event of the chat session.
type ChatEventMsg struct {
	Event chat.Event
}

// StreamEventMsg carries one event of the log stream.
type StreamEventMsg struct {
	Event logstream.Event
}

// CatalogLoadedMsg is sent when the database list has been fetched.
type CatalogLoadedMsg struct {
	Err error
}

// NodeToggledMsg is sent when a sidebar node finished expanding.
type NodeToggledMsg struct {
	ID  string
	Err error
}

// suggestTickMsg fires after the search debounce. Seq identifies the
// keystroke that scheduled it.
type suggestTickMsg struct {
	seq int
}

// SuggestDoneMsg is sent when /suggest answered.
type SuggestDoneMsg struct {
	Seq     int
	Matched int
	Err     error
}

// SendDoneMsg is sent when a question has been answered or failed.
type SendDoneMsg struct {
	Err error
}

// ExecuteDoneMsg is sent when a statement finished. The result itself
// arrives as a chat event.
type ExecuteDoneMsg struct {
	Err error
}

// ExportDoneMsg is sent when a result export finished.
type ExportDoneMsg struct {
	Path string
	Err  error
}

// ConfigLoadedMsg is sent when /config/list answered.
type ConfigLoadedMsg struct {
	Form *admin.Form
}

// ConfigSavedMsg is sent when /config/update answered. Form is the saved
// copy.
type ConfigSavedMsg struct {
	Form *admin.Form
	Err  error
}

// LogSentMsg is sent when a log record was posted to the backend.
type LogSentMsg struct {
	Err error
}

// logCheckMsg asks the log panel whether it may auto-close.
type logCheckMsg struct {
	seq int
}

// redrawMsg forces a render after a time-based state change.
type redrawMsg time.Time

// toastExpireMsg removes toasts whose time is up.
type toastExpireMsg time.Time

// StatusMsg is a transient status message for the status bar.
type StatusMsg string

// ToastMsg asks the App to show a toast.
type ToastMsg struct {
	Kind toast.Kind
	Text string
}

func notify(kind toast.Kind, text string) tea.Cmd {
	return func() tea.Msg { return ToastMsg{Kind: kind, Text: text} }
}

func waitChatEvent(s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		return ChatEventMsg{Event: <-s.Events()}
	}
}

func waitStreamEvent(events <-chan logstream.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return StreamEventMsg{Event: ev}
	}
}

func redrawAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return redrawMsg(t) })
}
