// app.go is the top-level Bubble Tea model that orchestrates all views.
//
// Layout:
//  1. Header with the backend and the view tabs
//  2. Active view (chat or dashboard) inside a border, with the log panel
//     below it while it is open
//  3. Toasts, newest last, above the status bar
//
// Key design decisions:
//   - The chat session and the log stream deliver events as messages; the
//     App routes them to the view that owns the state, not the active one
//   - Command mode (`:`) for conversation, export and admin commands
//   - Jump mode (`/`) for quick view switching
//   - Help overlay (`?`) toggled on/off
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DachengChen/sqlpilot/admin"
	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/catalog"
	"github.com/DachengChen/sqlpilot/chat"
	"github.com/DachengChen/sqlpilot/config"
	"github.com/DachengChen/sqlpilot/dashboard"
	"github.com/DachengChen/sqlpilot/logstream"
	"github.com/DachengChen/sqlpilot/selection"
	"github.com/DachengChen/sqlpilot/toast"
)

const appVersion = "0.1.0"

// Tab indices.
const (
	TabChat = iota
	TabDashboard
)

// InputMode determines what keystrokes do.
type InputMode int

const (
	ModeNormal InputMode = iota
	ModeCommand
	ModeJump
)

// Deps are the collaborators the App is built from.
type Deps struct {
	Config   *config.Config
	Client   *backend.Client
	Executor chat.Executor
	// Stream delivers log stream events; nil disables the live panel.
	Stream <-chan logstream.Event
}

// App is the root Bubble Tea model.
type App struct {
	ctx     context.Context
	cfg     *config.Config
	client  *backend.Client
	session *chat.Session
	sel     *selection.Controller
	stream  <-chan logstream.Event

	chat  *ChatView
	dash  *DashboardView
	logs  *LogView
	modal *ConfigView

	toasts toast.Stack

	views     []View
	activeTab int

	// UI state
	width     int
	height    int
	mode      InputMode
	cmdInput  string
	showHelp  bool
	statusMsg string
}

// NewApp builds the catalog tree, the highlight controller and the chat
// session over one backend client.
func NewApp(ctx context.Context, deps Deps) *App {
	cfg := deps.Config
	var exec chat.Executor = deps.Client
	if deps.Executor != nil {
		exec = deps.Executor
	}

	tree := catalog.NewTree(deps.Client)
	sel := selection.NewController(tree, deps.Client)
	session := chat.NewSession(deps.Client, exec, sel)

	questions := cfg.Questions
	if len(questions) == 0 {
		questions = config.DefaultQuestions
	}

	a := &App{
		ctx:     ctx,
		cfg:     cfg,
		client:  deps.Client,
		session: session,
		sel:     sel,
		stream:  deps.Stream,
		chat:    NewChatView(ctx, session, tree, sel, questions, ChatOptions{Debounce: cfg.Suggest.Debounce}),
		dash:    NewDashboardView(cfg.Export.Dir),
		logs:    NewLogView(logstream.NewPanel(cfg.Logs.QuietPeriod, cfg.Logs.CheckDelay)),
	}
	a.views = []View{a.chat, a.dash}
	return a
}

// Session returns the conversation, so the caller can close it on exit.
func (a *App) Session() *chat.Session { return a.session }

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.chat.Init(),
		waitChatEvent(a.session),
		waitStreamEvent(a.stream),
	)
}

func (a *App) layout() {
	if a.width == 0 {
		return
	}
	contentW := a.width - 2
	inner := a.height - 4 - a.toasts.Len()
	logH := 0
	if a.logs.Open() {
		logH = inner / 3
		if logH < 6 {
			logH = 6
		}
	}
	viewH := inner - 1 - logH
	if viewH < 3 {
		viewH = 3
	}
	for _, v := range a.views {
		v.SetSize(contentW, viewH)
	}
	a.logs.SetSize(contentW, logH)
	if a.modal != nil {
		a.modal.SetSize(contentW, viewH)
	}
}

// dismissToast drops the newest toast before it expires.
func (a *App) dismissToast() bool {
	items := a.toasts.Items()
	if len(items) == 0 {
		return false
	}
	a.toasts.Remove(items[len(items)-1].ID)
	a.layout()
	return true
}

func (a *App) pushToast(kind toast.Kind, text string) tea.Cmd {
	t := a.toasts.Push(kind, text, toast.DefaultDuration, time.Now())
	a.layout()
	return tea.Tick(time.Until(t.Expires), func(now time.Time) tea.Msg { return toastExpireMsg(now) })
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case ChatEventMsg:
		return a, a.handleChatEvent(msg)

	case StreamEventMsg, logCheckMsg, redrawMsg:
		wasOpen := a.logs.Open()
		_, cmd := a.logs.Update(msg)
		if a.logs.Open() != wasOpen {
			a.layout()
		}
		if _, ok := msg.(StreamEventMsg); ok {
			cmd = tea.Batch(cmd, waitStreamEvent(a.stream))
		}
		return a, cmd

	case ToastMsg:
		return a, a.pushToast(msg.Kind, msg.Text)

	case toastExpireMsg:
		if a.toasts.Expire(time.Time(msg)) > 0 {
			a.layout()
		}
		return a, nil

	case StatusMsg:
		a.statusMsg = string(msg)
		return a, nil

	case ExportDoneMsg:
		a.dash.Update(msg)
		if msg.Err != nil {
			return a, a.pushToast(toast.Error, "Export failed: "+msg.Err.Error())
		}
		return a, a.pushToast(toast.Success, "Exported to "+msg.Path)

	case ConfigLoadedMsg, ConfigSavedMsg:
		if a.modal == nil {
			if saved, ok := msg.(ConfigSavedMsg); ok && saved.Err != nil {
				return a, a.pushToast(toast.Error, "Failed to save configuration: "+saved.Err.Error())
			}
			return a, nil
		}
		_, cmd := a.modal.Update(msg)
		if a.modal.Closed() {
			a.modal = nil
		}
		return a, cmd

	case LogSentMsg:
		if msg.Err != nil {
			a.logs.Notice(msg.Err)
			return a, a.pushToast(toast.Error, "Failed to send log")
		}
		return a, nil

	case CatalogLoadedMsg, NodeToggledMsg, suggestTickMsg, SuggestDoneMsg,
		SendDoneMsg, ExecuteDoneMsg, spinner.TickMsg:
		_, cmd := a.chat.Update(msg)
		return a, cmd
	}

	// Forward other messages to active view
	if a.activeTab < len(a.views) {
		updatedView, cmd := a.views[a.activeTab].Update(msg)
		a.views[a.activeTab] = updatedView
		return a, cmd
	}
	return a, nil
}

func (a *App) handleChatEvent(msg ChatEventMsg) tea.Cmd {
	_, cmd := a.chat.Update(msg)
	cmds := []tea.Cmd{cmd, waitChatEvent(a.session)}
	switch ev := msg.Event; ev.Kind {
	case chat.EventResult:
		a.dash.SetResult(ev.SQL, ev.Result)
		if ev.Result != nil && ev.Result.IsTabular() {
			a.activeTab = TabDashboard
		}
	case chat.EventError:
		cmds = append(cmds, a.pushToast(toast.Error, ev.Text))
	}
	return tea.Batch(cmds...)
}

// handleKey processes keyboard input.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	if a.modal != nil {
		_, cmd := a.modal.Update(msg)
		if a.modal.Closed() {
			a.modal = nil
		}
		return a, cmd
	}
	switch a.mode {
	case ModeCommand:
		return a.handleCommandMode(msg)
	case ModeJump:
		return a.handleJumpMode(msg)
	default:
		return a.handleNormalMode(msg)
	}
}

// globalKey handles the keys that work in every view, even while typing.
func (a *App) globalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "f1":
		return a.switchTab(TabChat), true
	case "f3":
		return a.switchTab(TabDashboard), true
	case "ctrl+g":
		a.logs.Toggle()
		a.layout()
		return nil, true
	case "ctrl+x":
		if !a.dismissToast() {
			return nil, false
		}
		return nil, true
	case "ctrl+y", "alt+up", "alt+down":
		if !a.logs.Open() {
			return nil, false
		}
		_, cmd := a.logs.Update(msg)
		return cmd, true
	}
	return nil, false
}

func (a *App) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.statusMsg = ""
	if cmd, ok := a.globalKey(msg); ok {
		return a, cmd
	}

	// When the active view is accepting text input (chat, search), every
	// other key is typed.
	textMode := a.activeTab < len(a.views) && a.views[a.activeTab].WantsTextInput()
	if !textMode {
		switch msg.String() {
		case ":":
			a.mode = ModeCommand
			a.cmdInput = ""
			return a, nil

		case "/":
			a.mode = ModeJump
			a.cmdInput = ""
			return a, nil

		case "?":
			a.showHelp = !a.showHelp
			return a, nil

		case "esc":
			if a.showHelp {
				a.showHelp = false
				return a, nil
			}
		}
	}

	// Forward to active view
	if a.activeTab < len(a.views) {
		updatedView, cmd := a.views[a.activeTab].Update(msg)
		a.views[a.activeTab] = updatedView
		return a, cmd
	}
	return a, nil
}

func (a *App) handleCommandMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		cmd := a.executeCommand(a.cmdInput)
		a.mode = ModeNormal
		a.cmdInput = ""
		return a, cmd

	case "esc":
		a.mode = ModeNormal
		a.cmdInput = ""
		return a, nil

	case "backspace":
		if len(a.cmdInput) > 0 {
			r := []rune(a.cmdInput)
			a.cmdInput = string(r[:len(r)-1])
		}
		return a, nil

	default:
		switch msg.Type {
		case tea.KeyRunes:
			a.cmdInput += string(msg.Runes)
		case tea.KeySpace:
			a.cmdInput += " "
		}
		return a, nil
	}
}

func (a *App) handleJumpMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a.jumpToView(a.cmdInput)
		a.mode = ModeNormal
		a.cmdInput = ""
		return a, nil

	case "esc":
		a.mode = ModeNormal
		a.cmdInput = ""
		return a, nil

	case "backspace":
		if len(a.cmdInput) > 0 {
			a.cmdInput = a.cmdInput[:len(a.cmdInput)-1]
		}
		return a, nil

	default:
		if len(msg.String()) == 1 {
			a.cmdInput += msg.String()
		}
		return a, nil
	}
}

func (a *App) switchTab(idx int) tea.Cmd {
	if idx >= 0 && idx < len(a.views) {
		a.activeTab = idx
		a.showHelp = false
	}
	return nil
}

func (a *App) jumpToView(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, v := range a.views {
		if strings.Contains(strings.ToLower(v.Name()), name) {
			a.activeTab = i
			return
		}
	}
	a.statusMsg = "view not found: " + name
}

// parseCommand splits a command line into its name and arguments.
func parseCommand(input string) (string, []string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// parseCardRef reads "<collection> <n>" with a one-based n.
func parseCardRef(args []string) (backend.MetadataKind, int, error) {
	if len(args) < 2 {
		return "", 0, fmt.Errorf("usage: <ddl|fewshot|term> <n>")
	}
	kind, err := ParseMetadataKind(args[0])
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("invalid card number %q", args[1])
	}
	return kind, n - 1, nil
}

func (a *App) executeCommand(input string) tea.Cmd {
	name, args := parseCommand(input)
	switch name {
	case "":
		return nil
	case "q", "quit":
		return tea.Quit

	case "new":
		if err := a.chat.NewConversation(); err != nil {
			return a.pushToast(toast.Error, "Cannot start a new conversation: "+err.Error())
		}
		a.dash.SetResult("", nil)
		a.activeTab = TabChat
		return a.pushToast(toast.Info, "New conversation")

	case "export":
		format := dashboard.FormatCSV
		if len(args) > 0 {
			format = strings.ToLower(args[0])
		}
		if format != dashboard.FormatCSV && format != dashboard.FormatXLSX {
			return a.pushToast(toast.Error, "Unknown export format: "+format)
		}
		return a.dash.Export(format)

	case "config":
		a.modal = NewConfigView(a.ctx, a.client)
		a.layout()
		return a.modal.Init()

	case "datasource", "permissions":
		return a.pushToast(toast.Info, admin.ManagementNotice)

	case "hide", "show":
		a.sel.SetHideUnselected(name == "hide")
		a.chat.sidebar.Refresh()
		return nil

	case "logs":
		a.logs.Toggle()
		a.layout()
		return nil

	case "log":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "log"))
		if text == "" {
			a.statusMsg = "usage: log <message>"
			return nil
		}
		ctx, client := a.ctx, a.client
		return func() tea.Msg {
			return LogSentMsg{Err: logstream.Send(ctx, client, logstream.TypeSystem, text, "")}
		}

	case "meta":
		return a.metaCommand(args)

	default:
		a.statusMsg = "unknown command: " + input
		return nil
	}
}

func (a *App) metaCommand(args []string) tea.Cmd {
	if len(args) == 0 {
		a.statusMsg = "usage: meta <edit|name|rm> <ddl|fewshot|term> <n> [name]"
		return nil
	}
	kind, index, err := parseCardRef(args[1:])
	if err != nil {
		a.statusMsg = err.Error()
		return nil
	}
	a.activeTab = TabChat

	switch strings.ToLower(args[0]) {
	case "edit":
		cmd, err := a.chat.EditCard(kind, index)
		if err != nil {
			return a.pushToast(toast.Error, err.Error())
		}
		return cmd
	case "name":
		if len(args) < 4 {
			a.statusMsg = "usage: meta name <collection> <n> <name>"
			return nil
		}
		if err := a.chat.RenameCard(kind, index, strings.Join(args[3:], " ")); err != nil {
			return a.pushToast(toast.Error, err.Error())
		}
		return nil
	case "rm", "delete":
		if err := a.chat.DeleteCard(kind, index); err != nil {
			return a.pushToast(toast.Error, err.Error())
		}
		return a.pushToast(toast.Info, "Card removed")
	}
	a.statusMsg = "unknown meta action: " + args[0]
	return nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.width == 0 {
		return "loading..."
	}

	header := a.renderHeader()

	var inner string
	switch {
	case a.showHelp:
		inner = a.renderHelp()
	case a.modal != nil:
		inner = lipgloss.Place(a.width-2, a.height-4-a.toasts.Len(), lipgloss.Center, lipgloss.Center, a.modal.View())
	default:
		sections := []string{a.views[a.activeTab].View()}
		if a.logs.Open() {
			sections = append(sections, a.logs.View())
		}
		inner = lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	frameHeight := a.height - 4 - a.toasts.Len()
	if frameHeight < 0 {
		frameHeight = 0
	}
	frame := StyleBorder.
		Width(a.width - 2).
		Height(frameHeight).
		Render(inner)

	parts := []string{header, frame}
	if t := a.renderToasts(); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, a.renderStatusBar())
	return strings.Join(parts, "\n")
}

// renderHeader draws a simple text bar: logo, version, backend and tabs.
func (a *App) renderHeader() string {
	logo := StyleBold.Render("🛫 sqlpilot")
	version := StyleDimmed.Render(" v" + appVersion)

	backendInfo := a.cfg.Backend.URL
	if a.cfg.Backend.User != "" {
		backendInfo = a.cfg.Backend.User + "@" + backendInfo
	}
	if a.cfg.Executor == config.ExecutorDirect {
		backendInfo += " · direct " + a.cfg.Direct.Database
	}
	content := logo + version + StyleSuccess.Render("  ⚡ "+backendInfo)

	var tabs []string
	keys := []string{"F1", "F3"}
	for i, v := range a.views {
		label := keys[i] + " " + v.Name()
		if i == a.activeTab {
			tabs = append(tabs, StyleTabActive.Render(label))
		} else {
			tabs = append(tabs, StyleTabInactive.Render(label))
		}
	}
	logLabel := "^G Logs"
	if a.logs.panel.Unread() {
		logLabel = StyleWarning.Render("● ") + logLabel
	}
	tabs = append(tabs, StyleTabInactive.Render(logLabel))
	right := strings.Join(tabs, "")

	gap := a.width - lipgloss.Width(content) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return lipgloss.NewStyle().
		Width(a.width).
		Render(content + strings.Repeat(" ", gap) + right)
}

func (a *App) renderToasts() string {
	var lines []string
	for _, t := range a.toasts.Items() {
		style := StyleToastInfo
		switch t.Kind {
		case toast.Success:
			style = StyleToastSuccess
		case toast.Error:
			style = StyleToastError
		}
		text := truncate(t.Text, a.width-4)
		lines = append(lines, lipgloss.PlaceHorizontal(a.width, lipgloss.Right, style.Render(text)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderStatusBar() string {
	var content string

	switch a.mode {
	case ModeCommand:
		content = StylePrompt.Render(":") + a.cmdInput + "█"
	case ModeJump:
		content = StylePrompt.Render("/") + a.cmdInput + "█"
	default:
		if a.statusMsg != "" {
			content = a.statusMsg
		} else {
			var parts []string
			for _, h := range a.getHelpItems() {
				parts = append(parts,
					StyleHelpKey.Render(h.Key)+" "+StyleHelpDesc.Render(h.Desc))
			}
			content = strings.Join(parts, "  │  ")
		}
	}

	return StyleStatusBar.Width(a.width).Render(content)
}

func (a *App) getHelpItems() []KeyBinding {
	global := []KeyBinding{
		{Key: "?", Desc: "help"},
		{Key: "Ctrl+C", Desc: "quit"},
	}
	if a.modal != nil {
		return a.modal.ShortHelp()
	}
	var items []KeyBinding
	if a.activeTab < len(a.views) {
		items = a.views[a.activeTab].ShortHelp()
	}
	if a.logs.Open() {
		items = append(items, a.logs.ShortHelp()...)
	}
	return append(items, global...)
}

func (a *App) renderHelp() string {
	help := []string{
		StyleTitle.Render("⌨ sqlpilot Keyboard Shortcuts"),
		StyleHelpKey.Render("F1 / F3") + "          Chat / Dashboard",
		StyleHelpKey.Render("Tab / Shift+Tab") + "  Move focus: tree, search, transcript, input",
		StyleHelpKey.Render("F2") + "               Toggle question / SQL input",
		StyleHelpKey.Render("Ctrl+G") + "           Open or close the log panel",
		StyleHelpKey.Render("Ctrl+Y") + "           Copy the selected log entry",
		StyleHelpKey.Render("Ctrl+X") + "           Dismiss the newest notification",
		StyleHelpKey.Render("/") + "                Jump to view by name",
		StyleHelpKey.Render("?") + "                Toggle this help",
		StyleHelpKey.Render("Ctrl+C") + "           Quit",
		"",
		StyleTitle.Render("Metadata tree"),
		StyleHelpKey.Render("Enter / ←") + "        Expand / collapse",
		StyleHelpKey.Render("Space") + "            Highlight (◆ suggested, ● yours)",
		StyleHelpKey.Render("H") + "                Show only highlighted nodes",
		"",
		StyleTitle.Render("Commands"),
		StyleHelpKey.Render(":new") + "                         Start a new conversation",
		StyleHelpKey.Render(":export csv|xlsx") + "             Export the dashboard result",
		StyleHelpKey.Render(":meta edit|rm <coll> <n>") + "     Edit or remove a metadata card",
		StyleHelpKey.Render(":meta name <coll> <n> <name>") + " Rename a metadata card",
		StyleHelpKey.Render(":config") + "                      Server configuration",
		StyleHelpKey.Render(":datasource :permissions") + "     Management dialogs",
		StyleHelpKey.Render(":log <message>") + "               Broadcast a log message",
		StyleHelpKey.Render(":quit") + "                        Quit",
		"",
		StyleDimmed.Render("Press ? to close"),
	}

	return lipgloss.NewStyle().
		Width(a.width-4).
		Padding(1, 2).
		Render(strings.Join(help, "\n"))
}
