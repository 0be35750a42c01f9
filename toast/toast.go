// Package toast keeps the transient status messages shown over the UI.
package toast

import (
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is how long a toast stays visible.
const DefaultDuration = 3 * time.Second

// Kind selects the toast colour.
type Kind int

const (
	Info Kind = iota
	Success
	Error
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "info"
}

// Toast is one visible message.
type Toast struct {
	ID      string
	Kind    Kind
	Text    string
	Expires time.Time
}

// Stack holds the visible toasts, oldest first. It is owned by the UI loop.
type Stack struct {
	items []Toast
}

// Push adds a toast expiring after d (DefaultDuration when d <= 0) and
// returns it so the caller can schedule its removal.
func (s *Stack) Push(kind Kind, text string, d time.Duration, now time.Time) Toast {
	if d <= 0 {
		d = DefaultDuration
	}
	t := Toast{ID: uuid.NewString(), Kind: kind, Text: text, Expires: now.Add(d)}
	s.items = append(s.items, t)
	return t
}

// Remove drops the toast with the given id.
func (s *Stack) Remove(id string) {
	for i, t := range s.items {
		if t.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Expire drops every toast whose time has come and reports how many went.
func (s *Stack) Expire(now time.Time) int {
	kept := s.items[:0]
	for _, t := range s.items {
		if now.Before(t.Expires) {
			kept = append(kept, t)
		}
	}
	n := len(s.items) - len(kept)
	s.items = kept
	return n
}

// Items returns the visible toasts, newest last.
func (s *Stack) Items() []Toast { return s.items }

// Len returns the number of visible toasts.
func (s *Stack) Len() int { return len(s.items) }
