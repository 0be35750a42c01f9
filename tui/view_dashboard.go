// view_dashboard.go — Result dashboard.
//
// Shows the last execution result as a table, line, bar or pie chart and
// exports it as CSV or XLSX.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/dashboard"
	"github.com/DachengChen/sqlpilot/toast"
)

type DashboardView struct {
	result    *backend.ResultSet
	sql       string
	mode      dashboard.View
	exportDir string
	exporting bool
	viewport  *Viewport
	width     int
	height    int
}

func NewDashboardView(exportDir string) *DashboardView {
	return &DashboardView{
		exportDir: exportDir,
		viewport:  NewViewport(80, 20),
	}
}

func (v *DashboardView) Name() string         { return "Dashboard" }
func (v *DashboardView) WantsTextInput() bool { return false }
func (v *DashboardView) Init() tea.Cmd        { return nil }

func (v *DashboardView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.viewport.SetSize(width-2, height-4)
	v.render()
}

func (v *DashboardView) ShortHelp() []KeyBinding {
	return []KeyBinding{
		{Key: "1-4", Desc: "table/line/bar/pie"},
		{Key: "←/→", Desc: "switch"},
		{Key: "c", Desc: "export CSV"},
		{Key: "x", Desc: "export XLSX"},
		{Key: "↑/↓", Desc: "scroll"},
	}
}

// SetResult replaces the shown result and returns to the table.
func (v *DashboardView) SetResult(sql string, rs *backend.ResultSet) {
	v.result = rs
	v.sql = sql
	v.mode = dashboard.ViewTable
	v.viewport.Home()
	v.render()
}

// Result returns the shown result.
func (v *DashboardView) Result() *backend.ResultSet { return v.result }

func (v *DashboardView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return v, v.handleKey(msg)
	case ExportDoneMsg:
		v.exporting = false
	}
	return v, nil
}

func (v *DashboardView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "1", "2", "3", "4":
		v.setMode(dashboard.Views[key[0]-'1'])
	case "right", "l":
		v.setMode(dashboard.Views[(int(v.mode)+1)%len(dashboard.Views)])
	case "left", "h":
		v.setMode(dashboard.Views[(int(v.mode)+len(dashboard.Views)-1)%len(dashboard.Views)])
	case "up", "k":
		v.viewport.ScrollUp(1)
	case "down", "j":
		v.viewport.ScrollDown(1)
	case "pgup":
		v.viewport.PageUp()
	case "pgdown":
		v.viewport.PageDown()
	case "home":
		v.viewport.Home()
	case "end":
		v.viewport.End()
	case "ctrl+h":
		v.viewport.ScrollLeft(20)
	case "ctrl+l":
		v.viewport.ScrollRight(20)
	case "c":
		return v.Export(dashboard.FormatCSV)
	case "x":
		return v.Export(dashboard.FormatXLSX)
	}
	return nil
}

func (v *DashboardView) setMode(m dashboard.View) {
	v.mode = m
	v.viewport.Home()
	v.render()
}

// Export writes the shown result in format.
func (v *DashboardView) Export(format string) tea.Cmd {
	if v.result == nil || !v.result.IsTabular() {
		return notify(toast.Error, "No query result to export")
	}
	if v.exporting {
		return nil
	}
	v.exporting = true
	rs, dir := v.result, v.exportDir
	return func() tea.Msg {
		path, err := dashboard.Export(rs, format, dir, time.Now())
		return ExportDoneMsg{Path: path, Err: err}
	}
}

func (v *DashboardView) render() {
	if v.result == nil {
		v.viewport.SetContent(StyleDimmed.Render("No query result yet. Execute a generated SQL statement from the chat."))
		return
	}
	v.viewport.SetContent(dashboard.Render(v.result, v.mode, v.width-4, v.height-8))
}

func (v *DashboardView) renderTabs() string {
	var tabs []string
	for i, m := range dashboard.Views {
		label := fmt.Sprintf("%d %s", i+1, m)
		if m == v.mode {
			tabs = append(tabs, StyleTabActive.Render(label))
		} else {
			tabs = append(tabs, StyleTabInactive.Render(label))
		}
	}
	return strings.Join(tabs, StyleDimmed.Render("│"))
}

func (v *DashboardView) View() string {
	header := "  " + StyleTitle.Render("📊 Dashboard") + "  " + v.renderTabs()
	sql := ""
	if v.sql != "" {
		sql = StyleDimmed.Render("  " + truncate(strings.Join(strings.Fields(v.sql), " "), v.width-4))
	}
	if v.exporting {
		sql += StyleWarning.Render("  exporting...")
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, sql, v.viewport.Render())
}
