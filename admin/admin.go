// Package admin holds the server configuration form and the management
// entry points.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/backend"
)

// ManagementNotice is shown for the data source and permission dialogs.
const ManagementNotice = "Feature in development"

// Service is the backend side of the config dialog.
type Service interface {
	ListConfig(ctx context.Context) ([]backend.ConfigItem, error)
	UpdateConfig(ctx context.Context, updates []backend.ConfigUpdate) error
}

// Field is one editable entry of the form.
type Field struct {
	Key      string
	Name     string
	Value    string
	Original string
}

// Label is the name shown next to the input, falling back to the key.
func (f Field) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Key
}

// Changed reports whether the value was edited.
func (f Field) Changed() bool { return f.Value != f.Original }

// Form is the config dialog state.
type Form struct {
	Fields []Field
	Cursor int
	// LoadErr is set when the list request failed; the form is then empty.
	LoadErr error
}

// NewForm builds a form from server items in their order.
func NewForm(items []backend.ConfigItem) *Form {
	f := &Form{Fields: make([]Field, len(items))}
	for i, it := range items {
		f.Fields[i] = Field{Key: it.Key, Name: it.Name, Value: it.Value, Original: it.Value}
	}
	return f
}

// Load fetches the server configuration. A failure yields an empty form
// carrying the error instead of failing.
func Load(ctx context.Context, svc Service) *Form {
	items, err := svc.ListConfig(ctx)
	if err != nil {
		applog.Error("load config list: %v", err)
		return &Form{Fields: []Field{}, LoadErr: err}
	}
	return NewForm(items)
}

// Set changes the value of key.
func (f *Form) Set(key, value string) error {
	for i := range f.Fields {
		if f.Fields[i].Key == key {
			f.Fields[i].Value = value
			return nil
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}

// Current returns the field under the cursor.
func (f *Form) Current() (Field, bool) {
	if f.Cursor < 0 || f.Cursor >= len(f.Fields) {
		return Field{}, false
	}
	return f.Fields[f.Cursor], true
}

// Move shifts the cursor by delta, clamped to the fields.
func (f *Form) Move(delta int) {
	f.Cursor += delta
	if f.Cursor >= len(f.Fields) {
		f.Cursor = len(f.Fields) - 1
	}
	if f.Cursor < 0 {
		f.Cursor = 0
	}
}

// Updates returns every field as a key/value pair, the payload of a save.
func (f *Form) Updates() []backend.ConfigUpdate {
	out := make([]backend.ConfigUpdate, len(f.Fields))
	for i, fl := range f.Fields {
		out[i] = backend.ConfigUpdate{Key: fl.Key, Value: fl.Value}
	}
	return out
}

// Dirty reports whether any field was edited.
func (f *Form) Dirty() bool {
	for _, fl := range f.Fields {
		if fl.Changed() {
			return true
		}
	}
	return false
}

// Save posts the form. On success the edited values become the originals;
// on failure the form is left as it was so the dialog can stay open.
func Save(ctx context.Context, svc Service, f *Form) error {
	if err := svc.UpdateConfig(ctx, f.Updates()); err != nil {
		applog.Error("save config: %v", err)
		return fmt.Errorf("save config: %w", err)
	}
	for i := range f.Fields {
		f.Fields[i].Original = f.Fields[i].Value
	}
	applog.Event("admin", "saved %d config entries", len(f.Fields))
	return nil
}

// ParseAssignments turns "key=value" arguments into updates.
func ParseAssignments(args []string) ([]backend.ConfigUpdate, error) {
	out := make([]backend.ConfigUpdate, 0, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", a)
		}
		out = append(out, backend.ConfigUpdate{Key: k, Value: v})
	}
	return out, nil
}
