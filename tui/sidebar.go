// sidebar.go — the metadata tree with its search box.
//
// Nodes load lazily on expansion. Space toggles a manual highlight, the
// search box asks the server for suggestions after a quiet period and
// marks the results as auto highlights.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DachengChen/sqlpilot/catalog"
	"github.com/DachengChen/sqlpilot/selection"
	"github.com/DachengChen/sqlpilot/toast"
)

// Sidebar is owned by ChatView.
type Sidebar struct {
	ctx      context.Context
	tree     *catalog.Tree
	sel      *selection.Controller
	debounce time.Duration

	rows    []catalog.Row
	cursor  int
	loading bool

	search    textinput.Model
	searchSeq int
	// cancels the suggestion round in flight
	cancelRound context.CancelFunc
}

// NewSidebar creates a sidebar over tree and sel.
func NewSidebar(ctx context.Context, tree *catalog.Tree, sel *selection.Controller, debounce time.Duration) *Sidebar {
	si := textinput.New()
	si.Placeholder = "search metadata"
	si.Prompt = "⌕ "
	si.CharLimit = 256
	si.PromptStyle = StylePrompt

	return &Sidebar{
		ctx:      ctx,
		tree:     tree,
		sel:      sel,
		debounce: debounce,
		search:   si,
	}
}

// Init loads the database list.
func (s *Sidebar) Init() tea.Cmd {
	s.loading = true
	return func() tea.Msg {
		return CatalogLoadedMsg{Err: s.tree.Load(s.ctx)}
	}
}

// Refresh rebuilds the visible rows and keeps the cursor on the same node
// when it is still listed.
func (s *Sidebar) Refresh() {
	var current string
	if s.cursor < len(s.rows) {
		current = s.rows[s.cursor].ID
	}
	s.rows = s.tree.Rows(func(i catalog.Info) bool { return s.sel.Visible(i.ID) })
	for i, r := range s.rows {
		if r.ID == current {
			s.cursor = i
			return
		}
	}
	if s.cursor >= len(s.rows) {
		s.cursor = len(s.rows) - 1
	}
	if s.cursor < 0 {
		s.cursor = 0
	}
}

// Selected returns the row under the cursor.
func (s *Sidebar) Selected() (catalog.Row, bool) {
	if s.cursor < 0 || s.cursor >= len(s.rows) {
		return catalog.Row{}, false
	}
	return s.rows[s.cursor], true
}

// Update handles the sidebar messages that are not keys.
func (s *Sidebar) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case CatalogLoadedMsg:
		s.loading = false
		if msg.Err != nil {
			cmd = notify(toast.Error, "Failed to load databases: "+msg.Err.Error())
		}

	case NodeToggledMsg:
		if msg.Err != nil {
			cmd = notify(toast.Error, "Failed to load children: "+msg.Err.Error())
		}

	case suggestTickMsg:
		if msg.seq != s.searchSeq {
			return nil
		}
		s.cancelSuggest()
		text := strings.TrimSpace(s.search.Value())
		if text == "" {
			s.sel.ClearAuto()
			break
		}
		ctx, cancel := context.WithCancel(s.ctx)
		s.cancelRound = cancel
		seq := msg.seq
		cmd = func() tea.Msg {
			n, err := s.sel.Suggest(ctx, text)
			return SuggestDoneMsg{Seq: seq, Matched: n, Err: err}
		}

	case SuggestDoneMsg:
		if msg.Seq != s.searchSeq || errors.Is(msg.Err, context.Canceled) {
			break
		}
		s.cancelSuggest()
		if msg.Err != nil {
			cmd = notify(toast.Error, "Metadata recall failed, please retry")
		}
	}
	s.Refresh()
	return cmd
}

// HandleKey processes a key while the tree has focus.
func (s *Sidebar) HandleKey(msg tea.KeyMsg, pageSize int) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(s.rows)-1 {
			s.cursor++
		}
	case "pgup":
		s.cursor -= pageSize
		if s.cursor < 0 {
			s.cursor = 0
		}
	case "pgdown":
		s.cursor += pageSize
		if s.cursor >= len(s.rows) {
			s.cursor = len(s.rows) - 1
		}
	case "home":
		s.cursor = 0
	case "end":
		s.cursor = len(s.rows) - 1
	case "enter", "right", "l":
		row, ok := s.Selected()
		if !ok || !row.Expandable() {
			return nil
		}
		return s.toggle(row.ID)
	case "left", "h":
		row, ok := s.Selected()
		if !ok {
			return nil
		}
		if row.Expanded {
			s.tree.Collapse(row.ID)
		} else {
			s.toParent(row)
		}
	case " ":
		if row, ok := s.Selected(); ok {
			s.sel.ToggleManual(row.ID)
		}
	case "H":
		s.sel.ToggleHideUnselected()
	case "r":
		if err := s.tree.LoadErr(); err != nil || !s.tree.Loaded() {
			return s.Init()
		}
	}
	if s.cursor < 0 {
		s.cursor = 0
	}
	s.Refresh()
	return nil
}

func (s *Sidebar) toParent(row catalog.Row) {
	for i := s.cursor - 1; i >= 0; i-- {
		if s.rows[i].Depth < row.Depth {
			s.cursor = i
			return
		}
	}
}

func (s *Sidebar) toggle(id string) tea.Cmd {
	if s.tree.Expanded(id) {
		s.tree.Collapse(id)
		s.Refresh()
		return nil
	}
	return func() tea.Msg {
		return NodeToggledMsg{ID: id, Err: s.tree.Expand(s.ctx, id)}
	}
}

// HandleSearchKey types into the search box and schedules a suggestion
// round when the text changed.
func (s *Sidebar) HandleSearchKey(msg tea.KeyMsg) tea.Cmd {
	before := s.search.Value()
	var cmd tea.Cmd
	s.search, cmd = s.search.Update(msg)
	if s.search.Value() == before {
		return cmd
	}
	s.searchSeq++
	s.cancelSuggest()
	seq := s.searchSeq
	tick := tea.Tick(s.debounce, func(time.Time) tea.Msg { return suggestTickMsg{seq: seq} })
	return tea.Batch(cmd, tick)
}

// FocusSearch moves the cursor into the search box.
func (s *Sidebar) FocusSearch() tea.Cmd { return s.search.Focus() }

// BlurSearch leaves the search box.
func (s *Sidebar) BlurSearch() { s.search.Blur() }

// ResetSearch empties the search box without a suggestion round.
func (s *Sidebar) ResetSearch() {
	s.search.Reset()
	s.searchSeq++
	s.cancelSuggest()
}

func (s *Sidebar) cancelSuggest() {
	if s.cancelRound != nil {
		s.cancelRound()
		s.cancelRound = nil
	}
}

func (s *Sidebar) rowLine(r catalog.Row, width int, active bool) string {
	glyph := "  "
	switch {
	case r.Loading:
		glyph = "… "
	case r.Expanded:
		glyph = "▾ "
	case r.Expandable():
		glyph = "▸ "
	}

	marker := "  "
	switch s.sel.Mark(r.ID) {
	case selection.MarkAuto:
		marker = StyleMarkAuto.Render("◆ ")
	case selection.MarkManual:
		marker = StyleMarkManual.Render("● ")
	}

	label := r.Label()
	switch {
	case r.LoadErr != nil:
		label += " (!)"
	case r.Expanded && r.Empty:
		label += " (empty)"
	}

	prefix := strings.Repeat("  ", r.Depth) + glyph
	avail := width - lipgloss.Width(prefix) - 2
	if avail < 1 {
		avail = 1
	}
	label = truncate(label, avail)

	style := StyleDimmed
	if active {
		style = StyleListItemActive
	} else if s.sel.Mark(r.ID) != selection.MarkNone {
		style = StyleNormal
	}
	return style.Render(prefix) + marker + style.Render(label)
}

// View renders the search box, the counters and the visible part of the
// tree.
func (s *Sidebar) View(width, height int, treeFocused bool) string {
	s.search.Width = width - 4
	if height < 4 {
		height = 4
	}

	auto, manual := s.sel.Counts()
	filter := "all"
	if s.sel.HideUnselected() {
		filter = "highlighted"
	}
	title := " Metadata"
	if treeFocused {
		title = lipgloss.NewStyle().Foreground(ColorAccent).Render(" ●") + " Metadata"
	}
	lines := []string{
		s.search.View(),
		StyleBold.BorderBottom(true).BorderForeground(ColorDim).Width(width - 2).Render(title),
		StyleDimmed.Render(fmt.Sprintf(" ◆ %d  ● %d  [%s]", auto, manual, filter)),
	}

	listHeight := height - len(lines)
	switch {
	case s.loading:
		lines = append(lines, StyleDimmed.Render(" loading databases..."))
	case s.tree.LoadErr() != nil:
		lines = append(lines, StyleError.Render(" "+truncate(s.tree.LoadErr().Error(), width-2)))
		lines = append(lines, StyleDimmed.Render(" r to retry"))
	case len(s.rows) == 0 && s.sel.HideUnselected():
		lines = append(lines, StyleDimmed.Render(" nothing highlighted, H shows all"))
	case len(s.rows) == 0:
		lines = append(lines, StyleDimmed.Render(" (no databases)"))
	default:
		start := 0
		if s.cursor > listHeight/2 {
			start = s.cursor - listHeight/2
		}
		end := start + listHeight
		if end > len(s.rows) {
			end = len(s.rows)
		}
		for i := start; i < end; i++ {
			lines = append(lines, s.rowLine(s.rows[i], width, treeFocused && i == s.cursor))
		}
		if row, ok := s.Selected(); ok && len(lines) < height {
			lines = append(lines, StyleDimmed.Render(" "+truncate(row.Tooltip(), width-2)))
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines[:height], "\n")
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
