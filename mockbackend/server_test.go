package mockbackend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DachengChen/sqlpilot/backend"
	"github.com/DachengChen/sqlpilot/mockbackend"
)

func newClient(t *testing.T) (*backend.Client, *mockbackend.Server) {
	t.Helper()
	srv, err := mockbackend.New(mockbackend.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return backend.New(ts.URL, "demo", 5*time.Second), srv
}

func TestCatalogListing(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	dbs, err := c.ListDatabases(ctx)
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	assert.Equal(t, "music", dbs[0].DB)
	assert.Empty(t, dbs[0].Tables)

	tables, err := c.ListTables(ctx, string(dbs[0].ID))
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "plays", tables[0].Table)

	cols, err := c.ListColumns(ctx, "db-music", "tb-plays")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, "ENUM", cols[1].Type)
	assert.Empty(t, cols[1].Values)

	vals, err := c.ListValues(ctx, "db-music", "tb-plays", "col-genre")
	require.NoError(t, err)
	assert.Len(t, vals, 3)

	vals, err = c.ListValues(ctx, "db-music", "tb-plays", "col-plays")
	require.NoError(t, err)
	assert.Empty(t, vals)
}

func TestUnknownDatabaseIsNotFound(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.ListTables(context.Background(), "nope")
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestSuggestNestsMatches(t *testing.T) {
	c, _ := newClient(t)
	dbs, err := c.Suggest(context.Background(), "jazz plays")
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	assert.Equal(t, backend.ID("db-music"), dbs[0].ID)
	require.NotEmpty(t, dbs[0].Tables)
	assert.Equal(t, "plays", dbs[0].Tables[0].Table)

	var genre *backend.Column
	for i, col := range dbs[0].Tables[0].Columns {
		if col.Column == "genre" {
			genre = &dbs[0].Tables[0].Columns[i]
		}
	}
	require.NotNil(t, genre)
	require.Len(t, genre.Values, 1)
	assert.Equal(t, "jazz", genre.Values[0].Value)
}

func TestSuggestEmptyText(t *testing.T) {
	c, _ := newClient(t)
	dbs, err := c.Suggest(context.Background(), "  ")
	require.NoError(t, err)
	assert.Empty(t, dbs)
}

func TestConversationRoundTrip(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	question := "revenue by order status"

	schema, err := c.Suggest(ctx, question)
	require.NoError(t, err)

	var md backend.Metadata
	for _, kind := range backend.MetadataKinds {
		items, err := c.Retrieve(ctx, kind, backend.MetadataRequest{Query: question, Schema: schema})
		require.NoError(t, err)
		md.Set(kind, items)
	}
	require.Len(t, md.DDL, 1)
	assert.Equal(t, "orders", md.DDL[0].Name)
	assert.Contains(t, md.DDL[0].Content, "CREATE TABLE orders (")
	assert.NotEmpty(t, md.Fewshot)
	require.Len(t, md.Term, 1)
	assert.Equal(t, "revenue", md.Term[0].Name)

	reply, err := c.SQLAgent(ctx, backend.AgentRequest{
		Metadata: md,
		Messages: []backend.Message{{Role: backend.RoleUser, Content: question}},
	})
	require.NoError(t, err)
	assert.Contains(t, reply.SQL, "FROM orders")

	rs, err := c.Execute(ctx, reply.SQL)
	require.NoError(t, err)
	assert.True(t, rs.IsTabular())
	assert.Equal(t, 4, rs.TotalRows)
	assert.Equal(t, []string{"order_date", "status", "amount", "customer"}, rs.ColumnNames())
	assert.Nil(t, rs.Data[3][3])

	require.NoError(t, c.FeedbackGood(ctx, backend.AgentRequest{Metadata: md}))
}

func TestAgentWithoutTablesAnswersInProse(t *testing.T) {
	c, _ := newClient(t)
	reply, err := c.SQLAgent(context.Background(), backend.AgentRequest{
		Messages: []backend.Message{{Role: backend.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Empty(t, reply.SQL)
	assert.NotEmpty(t, reply.Content)
}

func TestExecute(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	rs, err := c.Execute(ctx, "UPDATE plays SET plays = 0")
	require.NoError(t, err)
	assert.False(t, rs.IsTabular())
	assert.NotEmpty(t, rs.Message)

	_, err = c.Execute(ctx, "SELECT * FROM missing")
	var apiErr *backend.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "no such table: missing", apiErr.Message)
}

func TestConfigUpdate(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.UpdateConfig(ctx, []backend.ConfigUpdate{{Key: "llm.temperature", Value: "0.5"}}))
	items, err := c.ListConfig(ctx)
	require.NoError(t, err)
	var got string
	for _, it := range items {
		if it.Key == "llm.temperature" {
			got = it.Value
		}
	}
	assert.Equal(t, "0.5", got)

	err = c.UpdateConfig(ctx, []backend.ConfigUpdate{{Key: "nope", Value: "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown config key: nope")
}

func TestPostLogRequiresMessage(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.PostLog(ctx, backend.LogRecord{Message: "hello"}))
	require.Error(t, c.PostLog(ctx, backend.LogRecord{}))
}

func TestDDL(t *testing.T) {
	want := "CREATE TABLE t (\n" +
		"  a INTEGER COMMENT 'A',\n" +
		"  b ENUM -- values: x, y\n" +
		") COMMENT 'Things';"
	got := mockbackend.DDL(backend.Table{
		Table:       "t",
		Description: "Things",
		Columns: []backend.Column{
			{Column: "a", Type: "INTEGER", Description: "A"},
			{Column: "b", Type: "ENUM", Values: []backend.Value{{Value: "x"}, {Value: "y"}}},
		},
	})
	assert.Equal(t, want, got)
}
