// Package selection tracks which catalog nodes are highlighted, either by
// the server's suggestions (auto) or by the user (manual), and turns the
// highlighted set into the schema fragment sent with a question.
package selection

import (
	"context"
	"sort"

	"github.com/DachengChen/sqlpilot/backend"
)

// Mark is the highlight of one node.
type Mark int

const (
	MarkNone Mark = iota
	MarkAuto
	MarkManual
)

// Expander opens catalog nodes.
type Expander interface {
	Expand(ctx context.Context, id string) error
}

// State holds the two disjoint highlight sets. It is not safe for
// concurrent use; Controller adds locking.
type State struct {
	auto   map[string]struct{}
	manual map[string]struct{}
}

// NewState returns an empty state.
func NewState() *State {
	return &State{auto: make(map[string]struct{}), manual: make(map[string]struct{})}
}

// Clone returns an independent copy.
func (s *State) Clone() *State {
	c := NewState()
	for id := range s.auto {
		c.auto[id] = struct{}{}
	}
	for id := range s.manual {
		c.manual[id] = struct{}{}
	}
	return c
}

// MarkAuto highlights id as suggested. A suggestion overrides a manual mark.
func (s *State) MarkAuto(id string) {
	delete(s.manual, id)
	s.auto[id] = struct{}{}
}

// ToggleManual flips the manual highlight of id and reports whether id is
// manually highlighted afterwards. Toggling an auto node converts it.
func (s *State) ToggleManual(id string) bool {
	if _, ok := s.manual[id]; ok {
		delete(s.manual, id)
		return false
	}
	delete(s.auto, id)
	s.manual[id] = struct{}{}
	return true
}

// ClearAuto drops every suggestion. Manual marks survive.
func (s *State) ClearAuto() {
	s.auto = make(map[string]struct{})
}

// Mark returns the highlight of id.
func (s *State) Mark(id string) Mark {
	if _, ok := s.manual[id]; ok {
		return MarkManual
	}
	if _, ok := s.auto[id]; ok {
		return MarkAuto
	}
	return MarkNone
}

// Highlighted reports whether id is in either set.
func (s *State) Highlighted(id string) bool {
	return s.Mark(id) != MarkNone
}

// AutoIDs returns the suggested IDs sorted.
func (s *State) AutoIDs() []string { return sortedKeys(s.auto) }

// ManualIDs returns the manually highlighted IDs sorted.
func (s *State) ManualIDs() []string { return sortedKeys(s.manual) }

// Len returns the number of highlighted nodes.
func (s *State) Len() int { return len(s.auto) + len(s.manual) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Visible decides whether a node is listed. With hideUnselected off every
// node is visible.
func (s *State) Visible(id string, hideUnselected bool) bool {
	return !hideUnselected || s.Highlighted(id)
}

// ApplySuggestions marks every node of a suggestion result as auto and
// expands each database, table and column along the way so the marked
// nodes are loaded. Values are only marked. Expansion failures are left on
// the node; the walk continues.
func (s *State) ApplySuggestions(ctx context.Context, exp Expander, dbs []backend.Database) error {
	expand := func(id string) error {
		if exp == nil {
			return ctx.Err()
		}
		exp.Expand(ctx, id) //nolint:errcheck
		return ctx.Err()
	}
	for _, db := range dbs {
		s.MarkAuto(string(db.ID))
		if err := expand(string(db.ID)); err != nil {
			return err
		}
		for _, tb := range db.Tables {
			s.MarkAuto(string(tb.ID))
			if err := expand(string(tb.ID)); err != nil {
				return err
			}
			for _, col := range tb.Columns {
				s.MarkAuto(string(col.ID))
				if len(col.Values) > 0 {
					if err := expand(string(col.ID)); err != nil {
						return err
					}
				}
				for _, v := range col.Values {
					s.MarkAuto(string(v.ID))
				}
			}
		}
	}
	return nil
}
