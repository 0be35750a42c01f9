package selection

import (
	"context"
	"fmt"
	"sync"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/catalog"
)

// Suggester asks the server which nodes relate to a text.
type Suggester interface {
	Suggest(ctx context.Context, text string) ([]backend.Database, error)
}

// Tree is the part of the catalog the controller drives.
type Tree interface {
	Expander
	Walker
}

var _ Tree = (*catalog.Tree)(nil)

// Controller owns the highlight state of one sidebar. All methods are safe
// for concurrent use.
type Controller struct {
	tree Tree
	src  Suggester

	mu        sync.RWMutex
	state     *State
	hide      bool
	suggested bool
}

// NewController wires a highlight state to a catalog tree.
func NewController(tree Tree, src Suggester) *Controller {
	return &Controller{tree: tree, src: src, state: NewState()}
}

// Suggest replaces the auto highlights with the server's suggestions for
// text and returns how many databases matched. A non-empty result switches
// the sidebar to highlighted-only and counts as the conversation's metadata
// recall. On error the previous highlights stay untouched. A round whose
// ctx is cancelled before it commits leaves the highlights untouched and
// returns the context error.
func (c *Controller) Suggest(ctx context.Context, text string) (int, error) {
	dbs, err := c.src.Suggest(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("suggest: %w", err)
	}

	next := NewState()
	if err := next.ApplySuggestions(ctx, c.tree, dbs); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.state.ClearAuto()
	for _, id := range next.AutoIDs() {
		c.state.MarkAuto(id)
	}
	if len(dbs) > 0 {
		c.suggested = true
		c.hide = true
	}
	return len(dbs), nil
}

// Suggested reports whether a non-empty suggestion has been applied since
// the last Reset.
func (c *Controller) Suggested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.suggested
}

// ToggleManual flips the manual highlight of id.
func (c *Controller) ToggleManual(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ToggleManual(id)
}

// ClearAuto drops the suggestions.
func (c *Controller) ClearAuto() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ClearAuto()
}

// Reset drops the suggestions and forgets that one was applied, so the
// next question triggers a new suggestion round.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ClearAuto()
	c.suggested = false
}

// Mark returns the highlight of id.
func (c *Controller) Mark(id string) Mark {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Mark(id)
}

// SetHideUnselected switches the filter that lists only highlighted nodes.
func (c *Controller) SetHideUnselected(hide bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hide = hide
}

// ToggleHideUnselected flips the filter and returns its new value.
func (c *Controller) ToggleHideUnselected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hide = !c.hide
	return c.hide
}

// HideUnselected reports the filter.
func (c *Controller) HideUnselected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hide
}

// Visible reports whether a node passes the filter.
func (c *Controller) Visible(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Visible(id, c.hide)
}

// Counts returns the number of auto and manual highlights.
func (c *Controller) Counts() (auto, manual int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.state.auto), len(c.state.manual)
}

// Fragment returns the schema fragment of the current highlights.
func (c *Controller) Fragment() []backend.Database {
	c.mu.RLock()
	snapshot := c.state.Clone()
	c.mu.RUnlock()
	return Fragment(c.tree, snapshot)
}
