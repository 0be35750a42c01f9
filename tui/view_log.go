// view_log.go — Backend log panel.
//
// Streams the backend's Socket.IO log events. The panel opens when a
// message arrives and closes itself after a quiet period unless the user
// opened it by hand. Entries can be copied to the clipboard.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/logstream"
	"github.com/DachengChen/sqlpilot/toast"
)

// clipboardWriteAll is swapped in tests.
var clipboardWriteAll = clipboard.WriteAll

type LogView struct {
	panel     *logstream.Panel
	viewport  *Viewport
	cursor    int
	follow    bool
	connected bool
	now       func() time.Time
	width     int
	height    int
}

func NewLogView(panel *logstream.Panel) *LogView {
	return &LogView{
		panel:    panel,
		viewport: NewViewport(80, 6),
		cursor:   -1,
		follow:   true,
		now:      time.Now,
	}
}

func (v *LogView) Name() string         { return "Logs" }
func (v *LogView) WantsTextInput() bool { return false }
func (v *LogView) Init() tea.Cmd        { return nil }

func (v *LogView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.viewport.SetSize(width-2, height-2)
	v.render()
}

func (v *LogView) ShortHelp() []KeyBinding {
	return []KeyBinding{
		{Key: "Ctrl+G", Desc: "logs"},
		{Key: "Alt+↑/↓", Desc: "select"},
		{Key: "Ctrl+Y", Desc: "copy"},
	}
}

// Open reports whether the panel is shown.
func (v *LogView) Open() bool { return v.panel.Open() }

// Toggle opens or closes the panel by hand.
func (v *LogView) Toggle() {
	v.panel.Toggle()
	v.render()
}

func (v *LogView) checkAfter(c *logstream.Check) tea.Cmd {
	if c == nil {
		return nil
	}
	seq := c.Seq
	return tea.Tick(c.After, func(time.Time) tea.Msg { return logCheckMsg{seq: seq} })
}

// Notice adds a local entry, e.g. a failed log upload.
func (v *LogView) Notice(err error) {
	v.panel.SendFailed(err, v.now())
	v.render()
}

func (v *LogView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case StreamEventMsg:
		switch msg.Event.Kind {
		case logstream.EventConnect:
			v.connected = true
		case logstream.EventDisconnect, logstream.EventConnectError:
			v.connected = false
		}
		check := v.panel.Handle(msg.Event, v.now())
		v.render()
		return v, v.checkAfter(check)

	case logCheckMsg:
		_, next := v.panel.CheckClose(msg.seq, v.now())
		return v, v.checkAfter(next)

	case redrawMsg:
		v.render()

	case tea.KeyMsg:
		return v, v.handleKey(msg)
	}
	return v, nil
}

func (v *LogView) handleKey(msg tea.KeyMsg) tea.Cmd {
	n := v.panel.Len()
	switch msg.String() {
	case "alt+up":
		if v.cursor < 0 {
			v.cursor = n - 1
		} else if v.cursor > 0 {
			v.cursor--
		}
		v.follow = false
	case "alt+down":
		if v.cursor >= 0 && v.cursor < n-1 {
			v.cursor++
		}
		v.follow = v.cursor == n-1
	case "ctrl+y":
		return v.copySelected()
	}
	v.render()
	return nil
}

func (v *LogView) selected() (logstream.Entry, bool) {
	entries := v.panel.Entries()
	if len(entries) == 0 {
		return logstream.Entry{}, false
	}
	i := v.cursor
	if i < 0 || i >= len(entries) || v.follow {
		i = len(entries) - 1
	}
	return entries[i], true
}

func (v *LogView) copySelected() tea.Cmd {
	e, ok := v.selected()
	if !ok {
		return nil
	}
	if err := v.panel.Copy(e.ID, clipboardWriteAll, v.now()); err != nil {
		return notify(toast.Error, err.Error())
	}
	v.render()
	return redrawAfter(logstream.CopiedFor)
}

func typeStyle(typ string) lipgloss.Style {
	switch typ {
	case backend.LogAI:
		return StyleSuccess
	case logstream.TypeSystem:
		return StyleDimmed
	case "error":
		return StyleError
	}
	return StyleWarning
}

func (v *LogView) render() {
	entries := v.panel.Entries()
	if len(entries) == 0 {
		v.viewport.SetContent(StyleDimmed.Render("No log messages yet."))
		return
	}
	now := v.now()
	sel, _ := v.selected()
	var lines []string
	for _, e := range entries {
		text := strings.ReplaceAll(v.panel.Text(e, now), "\r", "")
		mark := "  "
		if e.ID == sel.ID && !v.follow {
			mark = StyleListItemActive.Render("▸ ")
		}
		prefix := fmt.Sprintf("%s%s %s ", mark, StyleDimmed.Render(e.Time.Format("15:04:05")), typeStyle(e.Type).Render(fmt.Sprintf("%-6s", e.Type)))
		for i, line := range strings.Split(text, "\n") {
			if i == 0 {
				lines = append(lines, prefix+line)
				continue
			}
			lines = append(lines, strings.Repeat(" ", lipgloss.Width(prefix))+line)
		}
	}
	v.viewport.SetContentLines(lines)
	if v.follow {
		v.viewport.End()
	}
}

func (v *LogView) View() string {
	status := StyleSuccess.Render("● LIVE")
	if !v.connected {
		status = StyleWarning.Render("● OFFLINE")
	}
	pin := ""
	if v.panel.Pinned() {
		pin = StyleDimmed.Render("  pinned")
	}
	header := fmt.Sprintf("  %s  %s%s", StyleBold.Render("📋 Backend log"), status, pin)
	return lipgloss.NewStyle().
		Width(v.width).
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(ColorDim).
		Render(lipgloss.JoinVertical(lipgloss.Left, header, v.viewport.Render()))
}
