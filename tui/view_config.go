// view_config.go — Server configuration dialog.
//
// Lists the backend's editable settings. Enter edits the field under the
// cursor, Ctrl+S saves every field. A failed save keeps the dialog open.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/DachengChen/sqlpilot/admin"
	"github.com/DachengChen/sqlpilot/toast"
)

type ConfigView struct {
	ctx     context.Context
	svc     admin.Service
	form    *admin.Form
	input   textinput.Model
	editing bool
	saving  bool
	closed  bool
	width   int
	height  int
}

func NewConfigView(ctx context.Context, svc admin.Service) *ConfigView {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 1024
	ti.PromptStyle = StylePrompt
	return &ConfigView{ctx: ctx, svc: svc, input: ti}
}

func (v *ConfigView) Name() string         { return "Config" }
func (v *ConfigView) WantsTextInput() bool { return v.editing }

func (v *ConfigView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.input.Width = width/2 - 8
}

func (v *ConfigView) ShortHelp() []KeyBinding {
	if v.editing {
		return []KeyBinding{{Key: "Enter", Desc: "apply"}, {Key: "Esc", Desc: "discard"}}
	}
	return []KeyBinding{
		{Key: "↑/↓", Desc: "select"},
		{Key: "Enter", Desc: "edit"},
		{Key: "Ctrl+S", Desc: "save"},
		{Key: "Esc", Desc: "close"},
	}
}

// Init loads the settings.
func (v *ConfigView) Init() tea.Cmd {
	ctx, svc := v.ctx, v.svc
	return func() tea.Msg {
		return ConfigLoadedMsg{Form: admin.Load(ctx, svc)}
	}
}

// Closed reports whether the dialog asked to be dismissed.
func (v *ConfigView) Closed() bool { return v.closed }

func (v *ConfigView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case ConfigLoadedMsg:
		v.form = msg.Form
		return v, nil

	case ConfigSavedMsg:
		v.saving = false
		if msg.Err != nil {
			return v, notify(toast.Error, "Failed to save configuration: "+msg.Err.Error())
		}
		v.form = msg.Form
		v.closed = true
		return v, notify(toast.Success, "Configuration saved")

	case tea.KeyMsg:
		if v.editing {
			return v, v.handleEditKey(msg)
		}
		return v, v.handleKey(msg)
	}
	return v, nil
}

func (v *ConfigView) handleKey(msg tea.KeyMsg) tea.Cmd {
	if v.form == nil || v.saving {
		if msg.String() == "esc" {
			v.closed = true
		}
		return nil
	}
	switch msg.String() {
	case "up", "k":
		v.form.Move(-1)
	case "down", "j":
		v.form.Move(1)
	case "enter":
		if f, ok := v.form.Current(); ok {
			v.editing = true
			v.input.SetValue(f.Value)
			v.input.CursorEnd()
			return v.input.Focus()
		}
	case "ctrl+s":
		return v.save()
	case "esc":
		v.closed = true
	}
	return nil
}

func (v *ConfigView) handleEditKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "enter":
		if f, ok := v.form.Current(); ok {
			_ = v.form.Set(f.Key, v.input.Value())
		}
		v.editing = false
		v.input.Blur()
		return nil
	case "esc":
		v.editing = false
		v.input.Blur()
		return nil
	}
	var cmd tea.Cmd
	v.input, cmd = v.input.Update(msg)
	return cmd
}

func (v *ConfigView) save() tea.Cmd {
	if len(v.form.Fields) == 0 {
		return notify(toast.Info, "Nothing to save")
	}
	v.saving = true
	form := &admin.Form{Fields: append([]admin.Field(nil), v.form.Fields...), Cursor: v.form.Cursor}
	ctx, svc := v.ctx, v.svc
	return func() tea.Msg {
		err := admin.Save(ctx, svc, form)
		return ConfigSavedMsg{Form: form, Err: err}
	}
}

func (v *ConfigView) View() string {
	lines := []string{StyleTitle.Render("⚙ Server configuration")}
	switch {
	case v.form == nil:
		lines = append(lines, StyleDimmed.Render("loading..."))
	case v.form.LoadErr != nil:
		lines = append(lines, StyleError.Render("Failed to load configuration: "+v.form.LoadErr.Error()))
	case len(v.form.Fields) == 0:
		lines = append(lines, StyleDimmed.Render("(no settings)"))
	}

	if v.form != nil {
		labelWidth := 0
		for _, f := range v.form.Fields {
			if w := lipgloss.Width(f.Label()); w > labelWidth {
				labelWidth = w
			}
		}
		for i, f := range v.form.Fields {
			cursor := "  "
			style := StyleNormal
			if i == v.form.Cursor {
				cursor = StyleListItemActive.Render("▸ ")
				style = StyleListItemActive
			}
			value := f.Value
			if i == v.form.Cursor && v.editing {
				value = v.input.View()
			} else if f.Changed() {
				value = StyleWarning.Render(value + " *")
			}
			label := style.Render(fmt.Sprintf("%-*s", labelWidth, f.Label()))
			lines = append(lines, cursor+label+"  "+value)
			lines = append(lines, "    "+StyleDimmed.Render(f.Key))
		}
	}

	if v.saving {
		lines = append(lines, "", StyleWarning.Render("saving..."))
	}

	width := v.width * 2 / 3
	if width < 40 {
		width = 40
	}
	return StyleModal.Width(width).Render(strings.Join(lines, "\n"))
}
