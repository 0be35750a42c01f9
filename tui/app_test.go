package tui

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DachengChen/sqlpilot/admin"
	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/config"
	"github.com/DachengChen/sqlpilot/logstream"
	"github.com/DachengChen/sqlpilot/mockbackend"
	"github.com/DachengChen/sqlpilot/toast"
)

func newTestClient(t *testing.T) *backend.Client {
	t.Helper()
	srv, err := mockbackend.New(mockbackend.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return backend.New(ts.URL, "demo", 5*time.Second)
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Backend:  config.BackendConfig{URL: "http://mock"},
		Logs:     config.LogsConfig{QuietPeriod: time.Second, CheckDelay: time.Second},
		Suggest:  config.SuggestConfig{Debounce: time.Millisecond},
		Export:   config.ExportConfig{Dir: t.TempDir()},
		Executor: config.ExecutorBackend,
	}
	a := NewApp(context.Background(), Deps{Config: cfg, Client: newTestClient(t)})
	t.Cleanup(a.Session().Close)
	a.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return a
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  []string
	}{
		{"", "", nil},
		{"   ", "", nil},
		{"Q", "q", []string{}},
		{"export  xlsx", "export", []string{"xlsx"}},
		{"meta name ddl 2 Play stats", "meta", []string{"name", "ddl", "2", "Play", "stats"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, args := parseCommand(tt.input)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestParseCardRef(t *testing.T) {
	kind, idx, err := parseCardRef([]string{"examples", "2"})
	require.NoError(t, err)
	assert.Equal(t, backend.KindFewshot, kind)
	assert.Equal(t, 1, idx)

	_, _, err = parseCardRef([]string{"ddl"})
	assert.Error(t, err)
	_, _, err = parseCardRef([]string{"ddl", "0"})
	assert.Error(t, err)
	_, _, err = parseCardRef([]string{"ddl", "x"})
	assert.Error(t, err)
	_, _, err = parseCardRef([]string{"views", "1"})
	assert.Error(t, err)
}

func TestParseMetadataKind(t *testing.T) {
	for in, want := range map[string]backend.MetadataKind{
		"DDL":      backend.KindDDL,
		"tables":   backend.KindDDL,
		"freeshot": backend.KindFewshot,
		"fewshot":  backend.KindFewshot,
		"term":     backend.KindTerm,
	} {
		got, err := ParseMetadataKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMetadataKind("index")
	assert.Error(t, err)
}

func TestUnknownExportFormatToasts(t *testing.T) {
	a := newTestApp(t)
	a.executeCommand("export pdf")
	require.Equal(t, 1, a.toasts.Len())
	assert.Contains(t, a.toasts.Items()[0].Text, "pdf")
	assert.Contains(t, a.View(), "Unknown export format")
}

func TestManagementCommandsShowNotice(t *testing.T) {
	a := newTestApp(t)
	a.executeCommand("datasource")
	require.Equal(t, 1, a.toasts.Len())
	assert.Equal(t, admin.ManagementNotice, a.toasts.Items()[0].Text)
}

func TestUnknownCommandSetsStatus(t *testing.T) {
	a := newTestApp(t)
	a.executeCommand("frobnicate now")
	assert.Equal(t, "unknown command: frobnicate now", a.statusMsg)
}

func TestTabularResultSwitchesToDashboard(t *testing.T) {
	a := newTestApp(t)
	rs := &backend.ResultSet{
		Columns:   []backend.ResultColumn{{Name: "genre", Type: "VARCHAR"}, {Name: "plays", Type: "INTEGER"}},
		Data:      [][]any{{"rock", 3}},
		TotalRows: 1,
	}
	a.handleChatEvent(ChatEventMsg{Event: chat.Event{Kind: chat.EventResult, SQL: "SELECT 1", Result: rs}})
	assert.Equal(t, TabDashboard, a.activeTab)
	assert.Same(t, rs, a.dash.Result())

	a.activeTab = TabChat
	a.handleChatEvent(ChatEventMsg{Event: chat.Event{Kind: chat.EventResult, Result: &backend.ResultSet{Message: "ok"}}})
	assert.Equal(t, TabChat, a.activeTab)
}

func TestChatErrorToasts(t *testing.T) {
	a := newTestApp(t)
	a.handleChatEvent(ChatEventMsg{Event: chat.Event{Kind: chat.EventError, Text: "SQL generation failed, please retry"}})
	require.Equal(t, 1, a.toasts.Len())
	assert.Equal(t, "SQL generation failed, please retry", a.toasts.Items()[0].Text)
}

func TestToastsExpire(t *testing.T) {
	a := newTestApp(t)
	a.pushToast(toast.Info, "hello")
	a.Update(toastExpireMsg(time.Now().Add(time.Minute)))
	assert.Equal(t, 0, a.toasts.Len())
}

func TestCtrlXDismissesNewestToast(t *testing.T) {
	a := newTestApp(t)
	a.pushToast(toast.Info, "first")
	a.pushToast(toast.Error, "second")

	a.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	require.Equal(t, 1, a.toasts.Len())
	assert.Equal(t, "first", a.toasts.Items()[0].Text)
	assert.NotContains(t, a.View(), "second")

	a.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Zero(t, a.toasts.Len())
}

func TestLogFailureAddsNotice(t *testing.T) {
	a := newTestApp(t)
	a.Update(LogSentMsg{Err: errors.New("boom")})
	require.Equal(t, 1, a.logs.panel.Len())
	assert.Equal(t, 1, a.toasts.Len())
}

func TestStreamMessageOpensLogPanel(t *testing.T) {
	a := newTestApp(t)
	before := a.chat.height
	a.Update(StreamEventMsg{Event: logstream.Event{
		Kind:    logstream.EventLog,
		Payload: logstream.Payload{Type: "ai", Message: "thinking", Summary: "SQLAgent started"},
	}})
	assert.True(t, a.logs.Open())
	assert.Less(t, a.chat.height, before)
	assert.Contains(t, a.View(), "SQLAgent started")
}

func TestCommandModeTyping(t *testing.T) {
	a := newTestApp(t)
	a.chat.setFocus(focusTranscript)
	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(":")})
	require.Equal(t, ModeCommand, a.mode)
	for _, r := range "logs" {
		a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	assert.Equal(t, "logs", a.cmdInput)
	a.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ModeNormal, a.mode)
	assert.True(t, a.logs.Open())
	assert.True(t, strings.Contains(a.View(), "Backend log"))
}
