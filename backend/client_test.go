package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DachengChen/sqlpilot/applog"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "alice", 5*time.Second)
}

func TestListTablesSendsUserAndDB(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/tables", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("user"))
		assert.Equal(t, "sales", r.URL.Query().Get("db"))
		w.Write([]byte(`[{"id":"t1","table":"orders","description":"Orders"}]`))
	})

	tables, err := c.ListTables(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, Table{ID: "t1", Table: "orders", Description: "Orders"}, tables[0])
}

func TestListValuesNotFoundIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"No enum values found"}`))
	})

	values, err := c.ListValues(context.Background(), "sales", "orders", "status")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestRetrieveUsesKindPath(t *testing.T) {
	for _, kind := range MetadataKinds {
		t.Run(string(kind), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/"+string(kind), r.URL.Path)
				var req MetadataRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "top products", req.Query)
				assert.NotNil(t, req.Schema)
				w.Write([]byte(`{"metadata":[{"name":"a","content":"b"}],"count":1}`))
			})
			items, err := c.Retrieve(context.Background(), kind, MetadataRequest{Query: "top products"})
			require.NoError(t, err)
			assert.Equal(t, []MetadataItem{{Name: "a", Content: "b"}}, items)
		})
	}
}

func TestRetrieveRejectsUnknownKind(t *testing.T) {
	c := New("http://127.0.0.1:1", "", time.Second)
	_, err := c.Retrieve(context.Background(), MetadataKind("bogus"), MetadataRequest{})
	assert.Error(t, err)
}

func TestSQLAgentSendsEmptyCollections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.JSONEq(t, `{"ddl":[],"freeshot":[],"term":[]}`, string(raw["metadata"]))
		assert.JSONEq(t, `[{"role":"user","content":"hi"}]`, string(raw["messages"]))
		w.Write([]byte(`{"content":"Here you go","sql":"SELECT 1"}`))
	})

	reply, err := c.SQLAgent(context.Background(), AgentRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Here you go", reply.Content)
	assert.Equal(t, "SELECT 1", reply.SQL)
}

func TestExecuteErrorCarriesServerMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"syntax_error","message":"near SELEC"}`))
	})

	_, err := c.Execute(context.Background(), "SELEC 1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "syntax_error", apiErr.Code)
	assert.Equal(t, "near SELEC", apiErr.Message)
}

func TestExecuteDecodesResultSet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"columns":[{"name":"n","type":"INTEGER","nullable":false}],"data":[[1],[2]],"totalRows":2}`))
	})

	rs, err := c.Execute(context.Background(), "SELECT n FROM t")
	require.NoError(t, err)
	assert.True(t, rs.IsTabular())
	assert.Equal(t, []string{"n"}, rs.ColumnNames())
	assert.Equal(t, 2, rs.TotalRows)
	assert.Equal(t, float64(2), rs.Data[1][0])
}

func TestUpdateConfigFailureMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var updates []ConfigUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&updates))
		assert.Equal(t, []ConfigUpdate{{Key: "model", Value: "x"}}, updates)
		w.Write([]byte(`{"success":false,"message":"read only"}`))
	})

	err := c.UpdateConfig(context.Background(), []ConfigUpdate{{Key: "model", Value: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read only")
}

func TestPostLogDefaultsToSystem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var rec LogRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		assert.Equal(t, LogSystem, rec.Type)
		assert.Equal(t, "hello", rec.Message)
		w.Write([]byte(`{"success":true}`))
	})

	require.NoError(t, c.PostLog(context.Background(), LogRecord{Message: "hello"}))
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	m := Metadata{DDL: []MetadataItem{{Name: "a"}}}
	c := m.Clone()
	c.DDL[0].Name = "b"
	assert.Equal(t, "a", m.DDL[0].Name)
	assert.Equal(t, "Related examples", KindFewshot.Title())
}

func TestIDAcceptsNumbers(t *testing.T) {
	var dbs []Database
	require.NoError(t, json.Unmarshal([]byte(`[{"id":7,"db":"sales"},{"id":"x-1","db":"hr"}]`), &dbs))
	assert.Equal(t, ID("7"), dbs[0].ID)
	assert.Equal(t, ID("x-1"), dbs[1].ID)

	out, err := json.Marshal(dbs)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":7,"db":"sales"},{"id":"x-1","db":"hr"}]`, string(out))
}

func TestRoundTripsAreTraced(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, applog.Init(dir, false))
	t.Cleanup(applog.Close)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"d1","db":"sales"}]`))
	})
	_, err := c.ListDatabases(context.Background())
	require.NoError(t, err)
	applog.Close()

	data, err := os.ReadFile(filepath.Join(dir, "backend.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[REQUEST]")
	assert.Contains(t, string(data), "GET /metadata/dbs")
	assert.Contains(t, string(data), "Status: 200")
	assert.Contains(t, string(data), `"db":"sales"`)
}
