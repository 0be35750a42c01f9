package selection

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/catalog"
)

type catalogSource struct{}

func (catalogSource) ListDatabases(ctx context.Context) ([]backend.Database, error) {
	return []backend.Database{{ID: "d1", DB: "sales", Description: "Sales"}, {ID: "d2", DB: "hr"}}, nil
}

func (catalogSource) ListTables(ctx context.Context, db string) ([]backend.Table, error) {
	if db == "d1" {
		return []backend.Table{
			{ID: "t1", Table: "orders", Description: "Orders"},
			{ID: "t2", Table: "customers"},
		}, nil
	}
	return []backend.Table{{ID: "t9", Table: "staff"}}, nil
}

func (catalogSource) ListColumns(ctx context.Context, db, table string) ([]backend.Column, error) {
	if table == "t1" {
		return []backend.Column{
			{ID: "c1", Column: "status", Type: "ENUM", Description: "Status"},
			{ID: "c2", Column: "amount", Type: "DECIMAL"},
		}, nil
	}
	return []backend.Column{{ID: "c3", Column: "name", Type: "VARCHAR"}}, nil
}

func (catalogSource) ListValues(ctx context.Context, db, table, column string) ([]backend.Value, error) {
	return []backend.Value{{ID: "v1", Value: "paid", Description: "Paid"}, {ID: "v2", Value: "open"}}, nil
}

type stubSuggester struct {
	result []backend.Database
	err    error
}

func (s stubSuggester) Suggest(ctx context.Context, text string) ([]backend.Database, error) {
	return s.result, s.err
}

type suggestFunc func(ctx context.Context, text string) ([]backend.Database, error)

func (f suggestFunc) Suggest(ctx context.Context, text string) ([]backend.Database, error) {
	return f(ctx, text)
}

var nestedSuggestion = []backend.Database{{
	ID: "d1",
	Tables: []backend.Table{{
		ID: "t1",
		Columns: []backend.Column{
			{ID: "c1", Values: []backend.Value{{ID: "v1"}}},
		},
	}},
}}

func assertDisjoint(t *testing.T, s *State) {
	t.Helper()
	manual := make(map[string]bool)
	for _, id := range s.ManualIDs() {
		manual[id] = true
	}
	for _, id := range s.AutoIDs() {
		assert.False(t, manual[id], "%s is both auto and manual", id)
	}
}

func newTree(t *testing.T) *catalog.Tree {
	t.Helper()
	tree := catalog.NewTree(catalogSource{})
	require.NoError(t, tree.Load(context.Background()))
	return tree
}

func TestToggleManualConvertsAuto(t *testing.T) {
	s := NewState()
	s.MarkAuto("a")
	assert.Equal(t, MarkAuto, s.Mark("a"))

	assert.True(t, s.ToggleManual("a"))
	assert.Equal(t, MarkManual, s.Mark("a"))
	assert.Empty(t, s.AutoIDs())

	assert.False(t, s.ToggleManual("a"))
	assert.Equal(t, MarkNone, s.Mark("a"))
}

func TestSetsStayDisjoint(t *testing.T) {
	s := NewState()
	s.ToggleManual("a")
	s.MarkAuto("a")
	assert.Equal(t, []string{"a"}, s.AutoIDs())
	assert.Empty(t, s.ManualIDs())
}

func TestClearAutoKeepsManual(t *testing.T) {
	s := NewState()
	s.MarkAuto("a")
	s.ToggleManual("b")
	s.ClearAuto()
	assert.Equal(t, MarkNone, s.Mark("a"))
	assert.Equal(t, MarkManual, s.Mark("b"))
	assert.Equal(t, 1, s.Len())
}

func TestVisible(t *testing.T) {
	s := NewState()
	s.ToggleManual("a")
	assert.True(t, s.Visible("x", false))
	assert.False(t, s.Visible("x", true))
	assert.True(t, s.Visible("a", true))
}

func TestApplySuggestionsExpandsAndMarks(t *testing.T) {
	tree := newTree(t)
	s := NewState()
	suggestion := []backend.Database{{
		ID: "d1",
		Tables: []backend.Table{{
			ID: "t1",
			Columns: []backend.Column{
				{ID: "c1", Values: []backend.Value{{ID: "v1"}}},
			},
		}},
	}}

	require.NoError(t, s.ApplySuggestions(context.Background(), tree, suggestion))

	assert.Equal(t, []string{"c1", "d1", "t1", "v1"}, s.AutoIDs())
	assert.True(t, tree.Expanded("d1"))
	assert.True(t, tree.Expanded("t1"))
	assert.True(t, tree.Expanded("c1"))
	_, ok := tree.Get("v1")
	assert.True(t, ok)
}

func TestApplySuggestionsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewState()
	err := s.ApplySuggestions(ctx, newTree(t), []backend.Database{{ID: "d1"}, {ID: "d2"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"d1"}, s.AutoIDs())
}

func TestFragmentNestsUnderAncestors(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	require.NoError(t, tree.Expand(ctx, "d1"))
	require.NoError(t, tree.Expand(ctx, "t1"))
	require.NoError(t, tree.Expand(ctx, "c1"))

	s := NewState()
	s.ToggleManual("v1")
	s.MarkAuto("c2")
	s.MarkAuto("t2")

	got := Fragment(tree, s)
	want := []backend.Database{{
		ID: "d1", DB: "sales", Description: "Sales",
		Tables: []backend.Table{
			{
				ID: "t1", Table: "orders", Description: "Orders",
				Columns: []backend.Column{
					{ID: "c1", Column: "status", Type: "ENUM", Description: "Status",
						Values: []backend.Value{{ID: "v1", Value: "paid", Desc: "Paid"}}},
					{ID: "c2", Column: "amount", Type: "DECIMAL", Description: "amount"},
				},
			},
			{ID: "t2", Table: "customers", Description: "customers"},
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragment mismatch (-want +got):\n%s", diff)
	}
}

func TestFragmentEmpty(t *testing.T) {
	got := Fragment(newTree(t), NewState())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestControllerSuggestReplacesAuto(t *testing.T) {
	tree := newTree(t)
	c := NewController(tree, stubSuggester{result: []backend.Database{{ID: "d2"}}})
	c.ToggleManual("d1")

	n, err := c.Suggest(context.Background(), "staff")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, c.Suggested())
	assert.Equal(t, MarkAuto, c.Mark("d2"))
	assert.Equal(t, MarkManual, c.Mark("d1"))
	assert.True(t, tree.Expanded("d2"))
	assert.True(t, c.HideUnselected())
	assert.False(t, c.Visible("t9"))

	c.src = stubSuggester{result: []backend.Database{}}
	_, err = c.Suggest(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, MarkNone, c.Mark("d2"))
	assert.Equal(t, MarkManual, c.Mark("d1"))
}

func TestControllerEmptySuggestionIsNotRecall(t *testing.T) {
	c := NewController(newTree(t), stubSuggester{result: []backend.Database{}})
	n, err := c.Suggest(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, c.Suggested())
	assert.False(t, c.HideUnselected())
}

func TestControllerSuggestErrorKeepsState(t *testing.T) {
	c := NewController(newTree(t), stubSuggester{err: errors.New("down")})
	c.state.MarkAuto("d1")

	_, err := c.Suggest(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, MarkAuto, c.Mark("d1"))
	assert.False(t, c.Suggested())
}

func TestControllerHideFilter(t *testing.T) {
	c := NewController(newTree(t), stubSuggester{})
	c.ToggleManual("d1")
	assert.True(t, c.Visible("d2"))
	assert.True(t, c.ToggleHideUnselected())
	assert.False(t, c.Visible("d2"))
	assert.True(t, c.Visible("d1"))

	auto, manual := c.Counts()
	assert.Equal(t, 0, auto)
	assert.Equal(t, 1, manual)

	c.Reset()
	assert.False(t, c.Suggested())
	assert.Equal(t, MarkManual, c.Mark("d1"))
}

func TestApplySuggestionsIsIdempotent(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	s := NewState()
	s.ToggleManual("d2")

	require.NoError(t, s.ApplySuggestions(ctx, tree, nestedSuggestion))
	auto, manual := s.AutoIDs(), s.ManualIDs()

	require.NoError(t, s.ApplySuggestions(ctx, tree, nestedSuggestion))
	assert.Equal(t, auto, s.AutoIDs())
	assert.Equal(t, manual, s.ManualIDs())
	assert.Equal(t, []string{"d2"}, s.ManualIDs())
}

func TestControllerSuggestIsIdempotent(t *testing.T) {
	c := NewController(newTree(t), stubSuggester{result: nestedSuggestion})
	c.ToggleManual("t2")
	ctx := context.Background()

	_, err := c.Suggest(ctx, "paid orders")
	require.NoError(t, err)
	auto, manual := c.state.AutoIDs(), c.state.ManualIDs()

	_, err = c.Suggest(ctx, "paid orders")
	require.NoError(t, err)
	assert.Equal(t, auto, c.state.AutoIDs())
	assert.Equal(t, manual, c.state.ManualIDs())
	assert.Equal(t, []string{"c1", "d1", "t1", "v1"}, auto)
	assert.Equal(t, []string{"t2"}, manual)
}

func TestSetsStayDisjointAcrossMixedSequence(t *testing.T) {
	tree := newTree(t)
	ctx := context.Background()
	s := NewState()

	require.NoError(t, s.ApplySuggestions(ctx, tree, nestedSuggestion))
	assertDisjoint(t, s)

	s.ToggleManual("t1")
	assertDisjoint(t, s)
	assert.Equal(t, MarkManual, s.Mark("t1"))

	require.NoError(t, s.ApplySuggestions(ctx, tree, nestedSuggestion))
	assertDisjoint(t, s)
	assert.Equal(t, MarkAuto, s.Mark("t1"))

	s.ToggleManual("v1")
	s.ToggleManual("d2")
	assertDisjoint(t, s)
	assert.Equal(t, []string{"d2", "v1"}, s.ManualIDs())
	assert.Equal(t, []string{"c1", "d1", "t1"}, s.AutoIDs())
}

func TestControllerSuggestionOverridesManual(t *testing.T) {
	c := NewController(newTree(t), stubSuggester{result: []backend.Database{{ID: "d1"}}})
	c.ToggleManual("d1")
	c.ToggleManual("d2")

	_, err := c.Suggest(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, MarkAuto, c.Mark("d1"))
	assert.Equal(t, MarkManual, c.Mark("d2"))
	auto, manual := c.Counts()
	assert.Equal(t, 1, auto)
	assert.Equal(t, 1, manual)
}

func TestControllerDropsCancelledRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(newTree(t), suggestFunc(func(context.Context, string) ([]backend.Database, error) {
		// the round is superseded after the server answered
		cancel()
		return []backend.Database{{ID: "d2"}}, nil
	}))
	c.state.MarkAuto("d1")

	n, err := c.Suggest(ctx, "staff")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Equal(t, MarkAuto, c.Mark("d1"))
	assert.Equal(t, MarkNone, c.Mark("d2"))
	assert.False(t, c.Suggested())
	assert.False(t, c.HideUnselected())
}
