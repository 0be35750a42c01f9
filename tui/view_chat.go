// view_chat.go — The chat view.
//
// Features:
//   - Metadata sidebar with search and highlight markers
//   - Transcript of the conversation: questions, rendered replies,
//     generated SQL and the retrieved metadata cards
//   - Input that sends questions, runs SQL (F2) or edits a card
//   - Recommended questions while the conversation is empty
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/catalog"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/dashboard"
	"github.com/DachengChen/sqlpilot/selection"
	"github.com/DachengChen/sqlpilot/toast"
)

const (
	focusSidebar = iota
	focusSearch
	focusTranscript
	focusInput
	focusCount
)

// inputMode determines what Enter does with the input text.
const (
	inputModeChat = iota
	inputModeSQL
	inputModeMeta
)

type itemKind int

const (
	itemUser itemKind = iota
	itemAssistant
	itemSQL
	itemMetadata
	itemResult
	itemError
)

type chatItem struct {
	kind       itemKind
	text       string
	sql        string
	collection backend.MetadataKind
	items      []backend.MetadataItem
	rendered   string
}

type metaTarget struct {
	kind  backend.MetadataKind
	index int
	item  backend.MetadataItem
}

type ChatView struct {
	ctx       context.Context
	session   *chat.Session
	sel       *selection.Controller
	sidebar   *Sidebar
	questions []string

	focus     int
	input     textinput.Model
	inputMode int
	editing   *metaTarget

	transcript *Viewport
	items      []chatItem
	loading    []loadingLine
	spinner    spinner.Model
	renderer   *glamour.TermRenderer
	wrapWidth  int

	sending   bool
	executing bool
	lastSQL   string

	width  int
	height int
}

type loadingLine struct {
	id   string
	text string
}

// NewChatView wires the conversation and the sidebar.
func NewChatView(ctx context.Context, session *chat.Session, tree *catalog.Tree, sel *selection.Controller, questions []string, opts ChatOptions) *ChatView {
	ti := textinput.New()
	ti.Placeholder = "Ask a question about your data"
	ti.Prompt = "Ask> "
	ti.CharLimit = 4096
	ti.PromptStyle = StylePrompt

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StylePrompt

	v := &ChatView{
		ctx:        ctx,
		session:    session,
		sel:        sel,
		sidebar:    NewSidebar(ctx, tree, sel, opts.Debounce),
		questions:  questions,
		focus:      focusInput,
		input:      ti,
		transcript: NewViewport(80, 20),
		spinner:    sp,
	}
	v.input.Focus()
	return v
}

// ChatOptions are the timing knobs of the chat view.
type ChatOptions struct {
	// Debounce is the quiet period before the search box asks for
	// suggestions.
	Debounce time.Duration
}

func (v *ChatView) Name() string { return "Chat" }

func (v *ChatView) WantsTextInput() bool {
	return v.focus == focusInput || v.focus == focusSearch
}

func (v *ChatView) SetSize(width, height int) {
	v.width = width
	v.height = height
	wrap := v.rightWidth() - 4
	if wrap < 20 {
		wrap = 20
	}
	if wrap != v.wrapWidth {
		v.wrapWidth = wrap
		v.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(wrap),
		)
		for i := range v.items {
			v.items[i].rendered = ""
		}
	}
	v.input.Width = v.rightWidth() - 10
	v.rebuild()
}

func (v *ChatView) sidebarWidth() int {
	w := v.width / 4
	if w < 24 {
		w = 24
	}
	return w
}

func (v *ChatView) rightWidth() int {
	return v.width - v.sidebarWidth() - 1
}

func (v *ChatView) ShortHelp() []KeyBinding {
	modeLabel := "sql"
	if v.inputMode != inputModeChat {
		modeLabel = "chat"
	}
	toggle := KeyBinding{Key: "F2", Desc: modeLabel}

	switch v.focus {
	case focusSidebar:
		return []KeyBinding{
			{Key: "↑/↓", Desc: "navigate"},
			{Key: "Enter", Desc: "expand"},
			{Key: "Space", Desc: "highlight"},
			{Key: "H", Desc: "hide/show"},
			{Key: "Tab", Desc: "search"},
		}
	case focusSearch:
		return []KeyBinding{
			{Key: "type", Desc: "suggest"},
			{Key: "Esc", Desc: "tree"},
			{Key: "Tab", Desc: "transcript"},
		}
	case focusTranscript:
		help := []KeyBinding{{Key: "↑/↓", Desc: "scroll"}}
		if v.session.Empty() && len(v.questions) > 0 {
			help = append(help, KeyBinding{Key: "1-" + strconv.Itoa(len(v.questions)), Desc: "ask"})
		}
		if v.lastSQL != "" {
			help = append(help,
				KeyBinding{Key: "x", Desc: "execute"},
				KeyBinding{Key: "e", Desc: "edit SQL"},
				KeyBinding{Key: "L", Desc: "like"})
		}
		return append(help, KeyBinding{Key: "Tab", Desc: "input"})
	}

	switch v.inputMode {
	case inputModeSQL:
		return []KeyBinding{toggle, {Key: "Enter", Desc: "execute"}, {Key: "Esc", Desc: "transcript"}}
	case inputModeMeta:
		return []KeyBinding{{Key: "Enter", Desc: "save card"}, {Key: "Esc", Desc: "cancel"}}
	}
	return []KeyBinding{toggle, {Key: "Enter", Desc: "send"}, {Key: "Tab", Desc: "tree"}}
}

func (v *ChatView) Init() tea.Cmd {
	return tea.Batch(v.sidebar.Init(), textinput.Blink)
}

func (v *ChatView) busy() bool {
	return v.sending || v.executing || len(v.loading) > 0
}

func (v *ChatView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return v, v.handleKey(msg)

	case ChatEventMsg:
		return v, v.handleEvent(msg.Event)

	case SendDoneMsg:
		v.sending = false
		v.sidebar.Refresh()
		v.rebuild()
		if errors.Is(msg.Err, chat.ErrBusy) {
			return v, notify(toast.Info, "Still answering the previous question")
		}
		return v, nil

	case ExecuteDoneMsg:
		v.executing = false
		return v, nil

	case spinner.TickMsg:
		if !v.busy() {
			return v, nil
		}
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		v.rebuild()
		return v, cmd

	case CatalogLoadedMsg, NodeToggledMsg, suggestTickMsg, SuggestDoneMsg:
		return v, v.sidebar.Update(msg)
	}

	if v.focus == focusInput {
		var cmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		return v, cmd
	}
	return v, nil
}

func (v *ChatView) setFocus(f int) tea.Cmd {
	v.focus = f
	v.input.Blur()
	v.sidebar.BlurSearch()
	switch f {
	case focusInput:
		return v.input.Focus()
	case focusSearch:
		return v.sidebar.FocusSearch()
	}
	return nil
}

func (v *ChatView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab":
		return v.setFocus((v.focus + 1) % focusCount)
	case "shift+tab":
		return v.setFocus((v.focus + focusCount - 1) % focusCount)
	case "f2":
		if v.inputMode == inputModeSQL {
			v.setInputMode(inputModeChat)
		} else {
			v.setInputMode(inputModeSQL)
		}
		return v.setFocus(focusInput)
	}

	switch v.focus {
	case focusSidebar:
		return v.sidebar.HandleKey(msg, v.height-6)
	case focusSearch:
		if msg.String() == "esc" {
			return v.setFocus(focusSidebar)
		}
		return v.sidebar.HandleSearchKey(msg)
	case focusTranscript:
		return v.handleTranscriptKey(msg)
	}
	return v.handleInputKey(msg)
}

func (v *ChatView) handleTranscriptKey(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case "up", "k":
		v.transcript.ScrollUp(1)
	case "down", "j":
		v.transcript.ScrollDown(1)
	case "pgup":
		v.transcript.PageUp()
	case "pgdown":
		v.transcript.PageDown()
	case "home":
		v.transcript.Home()
	case "end":
		v.transcript.End()
	case "w":
		v.transcript.ToggleWrap()
	case "x":
		return v.execute(v.lastSQL)
	case "e":
		if v.lastSQL == "" {
			return nil
		}
		v.setInputMode(inputModeSQL)
		v.input.SetValue(v.lastSQL)
		v.input.CursorEnd()
		return v.setFocus(focusInput)
	case "L":
		if v.lastSQL == "" {
			return nil
		}
		v.session.Like()
		return notify(toast.Success, "Thanks for the feedback")
	default:
		if n, err := strconv.Atoi(key); err == nil && v.session.Empty() && n >= 1 && n <= len(v.questions) {
			return v.send(v.questions[n-1])
		}
	}
	return nil
}

func (v *ChatView) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		text := strings.TrimSpace(v.input.Value())
		if text == "" {
			return nil
		}
		switch v.inputMode {
		case inputModeSQL:
			v.input.Reset()
			return v.execute(text)
		case inputModeMeta:
			return v.saveCard(text)
		}
		return v.send(text)
	case "esc":
		if v.inputMode == inputModeMeta {
			v.editing = nil
			v.setInputMode(inputModeChat)
			v.input.Reset()
			return nil
		}
		return v.setFocus(focusTranscript)
	}

	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	return cmd
}

func (v *ChatView) setInputMode(mode int) {
	v.inputMode = mode
	switch mode {
	case inputModeSQL:
		v.input.Prompt = "SQL> "
		v.input.Placeholder = "SELECT ..."
	case inputModeMeta:
		v.input.Prompt = "Card> "
		v.input.Placeholder = "card content"
	default:
		v.input.Prompt = "Ask> "
		v.input.Placeholder = "Ask a question about your data"
	}
}

// send asks one question. A second question while one is in flight is
// refused here without reaching the session.
func (v *ChatView) send(text string) tea.Cmd {
	if v.sending {
		return notify(toast.Info, "Still answering the previous question")
	}
	v.sending = true
	v.input.Reset()
	v.transcript.End()
	ctx, session := v.ctx, v.session
	return tea.Batch(v.spinner.Tick, func() tea.Msg {
		return SendDoneMsg{Err: session.Send(ctx, text)}
	})
}

func (v *ChatView) execute(sql string) tea.Cmd {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	v.executing = true
	ctx, session := v.ctx, v.session
	return tea.Batch(v.spinner.Tick, func() tea.Msg {
		_, err := session.Execute(ctx, sql)
		return ExecuteDoneMsg{Err: err}
	})
}

// ParseMetadataKind accepts the collection names used in commands.
func ParseMetadataKind(s string) (backend.MetadataKind, error) {
	switch strings.ToLower(s) {
	case "ddl", "table", "tables":
		return backend.KindDDL, nil
	case "fewshot", "freeshot", "example", "examples":
		return backend.KindFewshot, nil
	case "term", "terms":
		return backend.KindTerm, nil
	}
	return "", fmt.Errorf("unknown metadata collection %q", s)
}

func (v *ChatView) metadataItem(kind backend.MetadataKind, index int) (backend.MetadataItem, error) {
	md := v.session.Metadata()
	items := md.Get(kind)
	if index < 0 || index >= len(items) {
		return backend.MetadataItem{}, fmt.Errorf("%s has no card %d", kind.Title(), index+1)
	}
	return items[index], nil
}

// EditCard loads a metadata card into the input. index is zero based.
func (v *ChatView) EditCard(kind backend.MetadataKind, index int) (tea.Cmd, error) {
	item, err := v.metadataItem(kind, index)
	if err != nil {
		return nil, err
	}
	v.editing = &metaTarget{kind: kind, index: index, item: item}
	v.setInputMode(inputModeMeta)
	v.input.SetValue(item.Content)
	v.input.CursorEnd()
	return v.setFocus(focusInput), nil
}

// RenameCard changes the title of a metadata card.
func (v *ChatView) RenameCard(kind backend.MetadataKind, index int, name string) error {
	item, err := v.metadataItem(kind, index)
	if err != nil {
		return err
	}
	item.Name = name
	return v.session.EditMetadata(kind, index, item)
}

// DeleteCard removes a metadata card.
func (v *ChatView) DeleteCard(kind backend.MetadataKind, index int) error {
	return v.session.DeleteMetadata(kind, index)
}

func (v *ChatView) saveCard(content string) tea.Cmd {
	target := v.editing
	v.editing = nil
	v.setInputMode(inputModeChat)
	v.input.Reset()
	if target == nil {
		return nil
	}
	item := target.item
	item.Content = content
	if err := v.session.EditMetadata(target.kind, target.index, item); err != nil {
		return notify(toast.Error, err.Error())
	}
	return notify(toast.Success, "Card updated")
}

// NewConversation clears the transcript, the highlights and the search.
func (v *ChatView) NewConversation() error {
	if v.sending {
		return chat.ErrBusy
	}
	if err := v.session.Reset(); err != nil {
		return err
	}
	v.sel.Reset()
	v.sidebar.ResetSearch()
	v.sidebar.Refresh()
	v.items = nil
	v.loading = nil
	v.lastSQL = ""
	v.editing = nil
	v.setInputMode(inputModeChat)
	v.rebuild()
	return nil
}

func (v *ChatView) handleEvent(ev chat.Event) tea.Cmd {
	var cmd tea.Cmd
	switch ev.Kind {
	case chat.EventLoading:
		v.loading = append(v.loading, loadingLine{id: ev.ID, text: ev.Text})
		cmd = v.spinner.Tick
	case chat.EventLoaded:
		for i, l := range v.loading {
			if l.id == ev.ID {
				v.loading = append(v.loading[:i], v.loading[i+1:]...)
				break
			}
		}
	case chat.EventUserMessage:
		v.items = append(v.items, chatItem{kind: itemUser, text: ev.Text})
	case chat.EventAssistantMessage:
		v.items = append(v.items, chatItem{kind: itemAssistant, text: ev.Text})
	case chat.EventSQL:
		v.lastSQL = ev.SQL
		v.items = append(v.items, chatItem{kind: itemSQL, text: ev.Text, sql: ev.SQL})
	case chat.EventMetadata:
		v.items = append(v.items, chatItem{kind: itemMetadata, collection: ev.Collection, items: ev.Items})
	case chat.EventMetadataChanged:
		for i := len(v.items) - 1; i >= 0; i-- {
			if v.items[i].kind == itemMetadata && v.items[i].collection == ev.Collection {
				v.items[i].items = ev.Items
				break
			}
		}
	case chat.EventResult:
		v.items = append(v.items, chatItem{kind: itemResult, text: resultLine(ev.Result)})
	case chat.EventError:
		v.items = append(v.items, chatItem{kind: itemError, text: ev.Text})
	case chat.EventReset:
		v.items = nil
		v.loading = nil
	}
	follow := v.transcript.AtBottom()
	v.rebuild()
	if follow {
		v.transcript.End()
	}
	return cmd
}

func resultLine(rs *backend.ResultSet) string {
	if rs == nil {
		return ""
	}
	if !rs.IsTabular() && (rs.Message != "" || rs.AffectedRows != 0) {
		return dashboard.Summary(rs)
	}
	return fmt.Sprintf("Query returned %d rows, see the dashboard (F3)", rs.TotalRows)
}

func (v *ChatView) markdown(text string) string {
	if v.renderer == nil {
		return text
	}
	out, err := v.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (v *ChatView) renderItem(it *chatItem) string {
	if it.rendered != "" {
		return it.rendered
	}
	var b strings.Builder
	switch it.kind {
	case itemUser:
		b.WriteString(StyleUser.Render("You: ") + it.text)
	case itemAssistant:
		b.WriteString(StyleSuccess.Render("Assistant:") + "\n" + v.markdown(it.text))
	case itemSQL:
		b.WriteString(StyleSuccess.Render("Assistant:"))
		if it.text != "" {
			b.WriteString("\n" + v.markdown(it.text))
		}
		for _, line := range strings.Split(it.sql, "\n") {
			b.WriteString("\n  " + StyleSQL.Render(line))
		}
	case itemMetadata:
		b.WriteString(v.renderCards(it))
	case itemResult:
		b.WriteString(StyleSuccess.Render("✓ ") + it.text)
	case itemError:
		b.WriteString(StyleError.Render("✗ " + it.text))
	}
	it.rendered = b.String()
	return it.rendered
}

func (v *ChatView) renderCards(it *chatItem) string {
	title := fmt.Sprintf("%s (%d)", it.collection.Title(), len(it.items))
	if len(it.items) == 0 {
		return StyleDimmed.Render(title + ": none")
	}
	width := v.wrapWidth - 2
	if width < 20 {
		width = 20
	}
	var cards []string
	for i, item := range it.items {
		head := StyleBold.Render(fmt.Sprintf("[%s %d] %s", it.collection, i+1, item.Name))
		body := item.Content
		if lines := strings.Split(body, "\n"); len(lines) > 6 {
			body = strings.Join(lines[:6], "\n") + "\n" + StyleDimmed.Render(fmt.Sprintf("… %d more lines", len(lines)-6))
		}
		cards = append(cards, StyleCard.Width(width).Render(head+"\n"+body))
	}
	return StyleTitle.Render(title) + "\n" + strings.Join(cards, "\n")
}

func (v *ChatView) rebuild() {
	var lines []string
	if len(v.items) == 0 && v.session.Empty() {
		lines = append(lines, StyleTitle.Render("What would you like to know?"))
		for i, q := range v.questions {
			lines = append(lines, StyleHelpKey.Render(fmt.Sprintf(" %d ", i+1))+q)
		}
		if len(v.questions) > 0 {
			lines = append(lines, "", StyleDimmed.Render("Focus the transcript (Tab) and press a number to ask."))
		}
	}
	for i := range v.items {
		lines = append(lines, strings.Split(v.renderItem(&v.items[i]), "\n")...)
		lines = append(lines, "")
	}
	if v.lastSQL != "" && len(v.loading) == 0 && !v.sending {
		lines = append(lines, StyleDimmed.Render("x execute · e edit · L like"))
	}
	for _, l := range v.loading {
		lines = append(lines, v.spinner.View()+StyleLoading.Render(l.text+"..."))
	}
	v.transcript.SetContentLines(lines)
}

func (v *ChatView) View() string {
	sidebarWidth := v.sidebarWidth()
	contentWidth := v.rightWidth()
	inputHeight := 3
	transcriptHeight := v.height - inputHeight - 1

	sidebarColor := ColorDim
	if v.focus == focusSidebar || v.focus == focusSearch {
		sidebarColor = ColorAccent
	}
	sidebar := lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(v.height).
		Border(lipgloss.NormalBorder(), false, true, false, false).
		BorderForeground(sidebarColor).
		Render(v.sidebar.View(sidebarWidth-1, v.height, v.focus == focusSidebar))

	v.transcript.SetSize(contentWidth-2, transcriptHeight-2)
	transcriptColor := ColorDim
	focusMark := "  "
	if v.focus == focusTranscript {
		transcriptColor = ColorAccent
		focusMark = lipgloss.NewStyle().Foreground(ColorAccent).Render(" ●")
	}
	phase := ""
	if p := v.session.Phase(); p != chat.PhaseIdle {
		phase = StyleDimmed.Render(" " + p.String())
	}
	transcript := lipgloss.NewStyle().
		Width(contentWidth).
		Height(transcriptHeight).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(transcriptColor).
		Render(focusMark + phase + "\n" + v.transcript.Render())

	inputFocus := "  "
	if v.focus == focusInput {
		inputFocus = lipgloss.NewStyle().Foreground(ColorAccent).Render("● ")
	}
	prompt := v.input.View()
	if v.sending && v.inputMode == inputModeChat {
		prompt = v.spinner.View() + StyleDimmed.Render("waiting for response...")
	}
	inputBlock := lipgloss.NewStyle().
		Width(contentWidth).
		Height(inputHeight).
		Padding(0, 1).
		Render(inputFocus + prompt)

	right := lipgloss.JoinVertical(lipgloss.Left, transcript, inputBlock)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, right)
}
