// Package catalog holds the lazily loaded database → table → column → value
// tree shown in the metadata sidebar.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/DachengChen/sqlpilot/backend"
)

// Kind is the level of a node.
type Kind int

const (
	KindDatabase Kind = iota
	KindTable
	KindColumn
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindTable:
		return "table"
	case KindColumn:
		return "column"
	case KindValue:
		return "value"
	}
	return "unknown"
}

// Source loads one level of the catalog. Parents are identified by ID.
type Source interface {
	ListDatabases(ctx context.Context) ([]backend.Database, error)
	ListTables(ctx context.Context, dbID string) ([]backend.Table, error)
	ListColumns(ctx context.Context, dbID, tableID string) ([]backend.Column, error)
	ListValues(ctx context.Context, dbID, tableID, columnID string) ([]backend.Value, error)
}

type node struct {
	info     Info
	parent   *node
	children []*node
	expanded bool
	loaded   bool
	loading  bool
	done     chan struct{}
	loadErr  error
}

// Info is an immutable snapshot of one node.
type Info struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	DataType    string
}

// Label is what the sidebar shows: the description, or the name when there
// is none.
func (i Info) Label() string {
	if i.Description != "" {
		return i.Description
	}
	return i.Name
}

// Tooltip is the detail line for a node.
func (i Info) Tooltip() string {
	if i.Kind == KindColumn {
		return fmt.Sprintf("%s (%s)", i.Name, i.DataType)
	}
	return i.Name
}

// Expandable reports whether the node can have children. Columns only
// expand when they are enumerations.
func (i Info) Expandable() bool {
	switch i.Kind {
	case KindValue:
		return false
	case KindColumn:
		return strings.EqualFold(i.DataType, "ENUM")
	}
	return true
}

// Row is one visible line of the flattened tree.
type Row struct {
	Info
	Depth    int
	Expanded bool
	Loading  bool
	Empty    bool
	LoadErr  error
}

// Tree is safe for concurrent use. Loads run outside the lock.
type Tree struct {
	src Source

	mu      sync.RWMutex
	roots   []*node
	index   map[string]*node
	loaded  bool
	loadErr error
}

// NewTree creates an empty tree backed by src.
func NewTree(src Source) *Tree {
	return &Tree{src: src, index: make(map[string]*node)}
}

// Load fetches the databases. It replaces any previously loaded tree.
func (t *Tree) Load(ctx context.Context) error {
	dbs, err := t.src.ListDatabases(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = true
	t.loadErr = err
	if err != nil {
		return fmt.Errorf("load databases: %w", err)
	}
	t.roots = nil
	t.index = make(map[string]*node)
	for _, db := range dbs {
		n := &node{info: Info{ID: string(db.ID), Name: db.DB, Description: db.Description, Kind: KindDatabase}}
		t.roots = append(t.roots, n)
		t.register(n)
	}
	return nil
}

// LoadErr returns the error of the last Load.
func (t *Tree) LoadErr() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadErr
}

// Loaded reports whether Load has completed at least once.
func (t *Tree) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// register indexes n. IDs are unique across the catalog; the first node
// registered under an ID wins.
func (t *Tree) register(n *node) {
	if n.info.ID == "" {
		return
	}
	if _, ok := t.index[n.info.ID]; !ok {
		t.index[n.info.ID] = n
	}
}

// Get returns the snapshot of a loaded node.
func (t *Tree) Get(id string) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	if !ok {
		return Info{}, false
	}
	return n.info, true
}

// Expanded reports whether id is currently expanded.
func (t *Tree) Expanded(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	return ok && n.expanded
}

// Expand opens a node, loading its children on first use. It returns after
// the load completes. Expanding an already loaded node only flips its state.
func (t *Tree) Expand(ctx context.Context, id string) error {
	t.mu.Lock()
	n, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("node %q not loaded", id)
	}
	if !n.info.Expandable() {
		t.mu.Unlock()
		return nil
	}
	n.expanded = true
	if n.loaded {
		t.mu.Unlock()
		return nil
	}
	if n.loading {
		done := n.done
		t.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			t.mu.Lock()
			if !n.loaded {
				n.expanded = false
			}
			t.mu.Unlock()
			return ctx.Err()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if n.loadErr != nil {
			n.expanded = false
		}
		return n.loadErr
	}
	n.loading = true
	n.done = make(chan struct{})
	path := pathOf(n)
	t.mu.Unlock()

	children, err := t.fetch(ctx, path)

	t.mu.Lock()
	defer t.mu.Unlock()
	n.loading = false
	close(n.done)
	if err != nil {
		n.loadErr = err
		n.expanded = false
		return fmt.Errorf("load %s %s: %w", n.info.Kind, n.info.Name, err)
	}
	n.loadErr = nil
	n.loaded = true
	n.children = children
	for _, c := range children {
		c.parent = n
		t.register(c)
	}
	return nil
}

// Collapse closes a node. Its children stay cached.
func (t *Tree) Collapse(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.index[id]; ok {
		n.expanded = false
	}
}

// Toggle expands a collapsed node or collapses an expanded one.
func (t *Tree) Toggle(ctx context.Context, id string) error {
	if t.Expanded(id) {
		t.Collapse(id)
		return nil
	}
	return t.Expand(ctx, id)
}

func pathOf(n *node) []Info {
	var path []Info
	for p := n; p != nil; p = p.parent {
		path = append([]Info{p.info}, path...)
	}
	return path
}

func (t *Tree) fetch(ctx context.Context, path []Info) ([]*node, error) {
	var out []*node
	switch len(path) {
	case 1:
		tables, err := t.src.ListTables(ctx, path[0].ID)
		if err != nil {
			return nil, err
		}
		for _, tb := range tables {
			out = append(out, &node{info: Info{ID: string(tb.ID), Name: tb.Table, Description: tb.Description, Kind: KindTable}})
		}
	case 2:
		cols, err := t.src.ListColumns(ctx, path[0].ID, path[1].ID)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			out = append(out, &node{info: Info{ID: string(c.ID), Name: c.Column, Description: c.Description, Kind: KindColumn, DataType: c.Type}})
		}
	case 3:
		values, err := t.src.ListValues(ctx, path[0].ID, path[1].ID, path[2].ID)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, &node{info: Info{ID: string(v.ID), Name: v.Value, Description: v.Description, Kind: KindValue}})
		}
	default:
		return nil, fmt.Errorf("values have no children")
	}
	return out, nil
}

// Path returns the chain of snapshots from the database down to id.
func (t *Tree) Path(id string) ([]Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return pathOf(n), true
}

// Walk visits every loaded node depth first in display order, passing the
// chain from its database down to the node itself. Returning false stops
// the walk.
func (t *Tree) Walk(fn func(path []Info) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var visit func(nodes []*node, prefix []Info) bool
	visit = func(nodes []*node, prefix []Info) bool {
		for _, n := range nodes {
			path := append(append([]Info(nil), prefix...), n.info)
			if !fn(path) {
				return false
			}
			if !visit(n.children, path) {
				return false
			}
		}
		return true
	}
	visit(t.roots, nil)
}

// Rows flattens the expanded part of the tree. include filters nodes; a
// node that is filtered out hides its subtree as well.
func (t *Tree) Rows(include func(Info) bool) []Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rows []Row
	var visit func(nodes []*node, depth int)
	visit = func(nodes []*node, depth int) {
		for _, n := range nodes {
			if include != nil && !include(n.info) {
				continue
			}
			rows = append(rows, Row{
				Info:     n.info,
				Depth:    depth,
				Expanded: n.expanded,
				Loading:  n.loading,
				Empty:    n.loaded && len(n.children) == 0,
				LoadErr:  n.loadErr,
			})
			if n.expanded {
				visit(n.children, depth+1)
			}
		}
	}
	visit(t.roots, 0)
	return rows
}

// Len returns the number of loaded nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}
