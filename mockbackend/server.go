package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/backend"
)

// Options configures a mock server.
type Options struct {
	// Fixtures defaults to the embedded set.
	Fixtures *Fixtures
	// Latency is added to the retrieval and agent endpoints.
	Latency time.Duration
	// PingInterval is the Socket.IO heartbeat.
	PingInterval time.Duration
	// SocketPath defaults to /socket.io/.
	SocketPath string
}

// Server is the mock assistant backend.
type Server struct {
	fx      *Fixtures
	hub     *Hub
	latency time.Duration
	router  chi.Router

	mu     sync.Mutex
	config []backend.ConfigItem
}

// New builds a server and its routes.
func New(opts Options) (*Server, error) {
	fx := opts.Fixtures
	if fx == nil {
		var err error
		if fx, err = DefaultFixtures(); err != nil {
			return nil, err
		}
	}
	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = "/socket.io/"
	}

	s := &Server{
		fx:      fx,
		hub:     NewHub(opts.PingInterval),
		latency: opts.Latency,
		config:  append([]backend.ConfigItem(nil), fx.Config...),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	}))
	r.Handle(socketPath, s.hub)

	r.Group(func(r chi.Router) {
		r.Use(logRequests)
		r.Get("/metadata/dbs", s.handleDatabases)
		r.Get("/metadata/tables", s.handleTables)
		r.Get("/metadata/columns", s.handleColumns)
		r.Get("/metadata/values", s.handleValues)
		r.Post("/suggest", s.handleSuggest)
		r.Post("/ddl", s.handleDDL)
		r.Post("/freeshot", s.handleFewshot)
		r.Post("/term", s.handleTerm)
		r.Post("/sql-agent", s.handleAgent)
		r.Post("/feedback_good", s.handleFeedback)
		r.Post("/execute", s.handleExecute)
		r.Get("/config/list", s.handleConfigList)
		r.Post("/config/update", s.handleConfigUpdate)
		r.Post("/api/log", s.handleLog)
	})
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the Socket.IO hub.
func (s *Server) Hub() *Hub { return s.hub }

// Close disconnects the Socket.IO clients.
func (s *Server) Close() { s.hub.Close() }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		applog.L().Info("mock request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func (s *Server) pause(r *http.Request) {
	if s.latency <= 0 {
		return
	}
	select {
	case <-time.After(s.latency):
	case <-r.Context().Done():
	}
}

// ─────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	out := make([]backend.Database, len(s.fx.Databases))
	for i, db := range s.fx.Databases {
		out[i] = backend.Database{ID: db.ID, DB: db.DB, Description: db.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	db, ok := s.fx.database(r.URL.Query().Get("db"))
	if !ok {
		writeError(w, http.StatusNotFound, "Database not found", "")
		return
	}
	out := make([]backend.Table, len(db.Tables))
	for i, t := range db.Tables {
		out[i] = backend.Table{ID: t.ID, Table: t.Table, Description: t.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t, ok := s.fx.table(q.Get("db"), q.Get("table"))
	if !ok {
		writeError(w, http.StatusNotFound, "Table not found", "")
		return
	}
	out := make([]backend.Column, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = backend.Column{ID: c.ID, Column: c.Column, Type: c.Type, Description: c.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, ok := s.fx.column(q.Get("db"), q.Get("table"), q.Get("column"))
	if !ok || len(c.Values) == 0 {
		writeError(w, http.StatusNotFound, "No enum values found", "")
		return
	}
	writeJSON(w, http.StatusOK, c.Values)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	out := Suggest(s.fx, body.Text)
	if len(out) > 0 {
		detail, _ := json.MarshalIndent(out, "", "  ")
		s.hub.Log(backend.LogSystem, string(detail), "Recalled related metadata")
	}
	writeJSON(w, http.StatusOK, out)
}

// ─────────────────────────────────────────────────────────────────
// Retrieval and agent
// ─────────────────────────────────────────────────────────────────

type collection struct {
	Metadata []backend.MetadataItem `json:"metadata"`
	Count    int                    `json:"count"`
}

func newCollection(items []backend.MetadataItem) collection {
	if items == nil {
		items = []backend.MetadataItem{}
	}
	return collection{Metadata: items, Count: len(items)}
}

func (s *Server) handleDDL(w http.ResponseWriter, r *http.Request) {
	var req backend.MetadataRequest
	if !decodeBody(w, r, &req) {
		return
	}
	schema := req.Schema
	if len(schema) == 0 {
		schema = Suggest(s.fx, req.Query)
	}
	var items []backend.MetadataItem
	seen := map[backend.ID]bool{}
	for _, db := range schema {
		for _, ref := range db.Tables {
			t, ok := s.fx.table(string(db.ID), string(ref.ID))
			if !ok || seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			items = append(items, backend.MetadataItem{Name: t.Table, Content: DDL(*t)})
		}
	}
	writeJSON(w, http.StatusOK, newCollection(items))
}

func (s *Server) handleFewshot(w http.ResponseWriter, r *http.Request) {
	var req backend.MetadataRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.pause(r)
	words := keywords(req.Query)
	var items []backend.MetadataItem
	for _, ex := range s.fx.Examples {
		if matchesAny(ex.Name+" "+ex.Content, words) {
			items = append(items, ex)
		}
	}
	writeJSON(w, http.StatusOK, newCollection(items))
}

func (s *Server) handleTerm(w http.ResponseWriter, r *http.Request) {
	var req backend.MetadataRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.pause(r)
	words := keywords(req.Query)
	var items []backend.MetadataItem
	for _, t := range s.fx.Terms {
		if matchesAny(t.Name, words) {
			items = append(items, t)
		}
	}
	writeJSON(w, http.StatusOK, newCollection(items))
}

var createTable = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+([A-Za-z_][\w.]*)`)

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req backend.AgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Missing messages", "")
		return
	}
	history, _ := json.MarshalIndent(req.Messages, "", "  ")
	s.hub.Log(backend.LogSystem, string(history), "SQLAgent started")

	var table *backend.Table
	for _, item := range req.Metadata.DDL {
		m := createTable.FindStringSubmatch(item.Content)
		if m == nil {
			continue
		}
		if t, ok := s.fx.tableByName(m[1]); ok {
			table = t
			break
		}
	}

	question := req.Messages[len(req.Messages)-1].Content
	s.stream([]string{"Thought: ", "the question is \"" + question + "\". "})
	s.pause(r)
	if table == nil {
		s.stream([]string{"No related table was provided."})
		writeJSON(w, http.StatusOK, backend.AgentReply{
			Content: "I could not find a table related to your question. Select tables in the catalog and ask again.",
		})
		return
	}

	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = c.Column
	}
	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT 100", strings.Join(cols, ", "), table.Table, cols[0])
	s.stream([]string{"Using table ", table.Table, ". ", "Final SQL: ", sql})
	writeJSON(w, http.StatusOK, backend.AgentReply{
		Content: fmt.Sprintf("The query below reads %s (%s).", table.Table, table.Description),
		SQL:     sql,
	})
}

// stream emits chunks as one streamed log message.
func (s *Server) stream(chunks []string) {
	for i, c := range chunks {
		s.hub.StreamLog(c, i == 0)
	}
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req backend.AgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	history, _ := json.MarshalIndent(req.Messages, "", "  ")
	s.hub.Log(backend.LogSystem, string(history), "FeedbackAgent analysing feedback")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Feedback recorded"})
}

// ─────────────────────────────────────────────────────────────────
// Execution
// ─────────────────────────────────────────────────────────────────

var (
	selectStmt = regexp.MustCompile(`(?is)^\s*(select|with)\b`)
	fromClause = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z_][\w.]*)`)
)

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SQL string `json:"sql"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	rs, err := s.execute(body.SQL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "execution_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) execute(sql string) (*backend.ResultSet, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, fmt.Errorf("SQL statement is empty")
	}
	if !selectStmt.MatchString(sql) {
		return &backend.ResultSet{Message: "Statement executed successfully"}, nil
	}
	m := fromClause.FindStringSubmatch(sql)
	if m == nil {
		return nil, fmt.Errorf("no table referenced in query")
	}
	name := m[1]
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	res, ok := s.fx.Results[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("no such table: %s", name)
	}
	data := res.Data
	if data == nil {
		data = [][]any{}
	}
	return &backend.ResultSet{Columns: res.Columns, Data: data, TotalRows: len(data)}, nil
}

// ─────────────────────────────────────────────────────────────────
// Admin and logs
// ─────────────────────────────────────────────────────────────────

func (s *Server) handleConfigList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]backend.ConfigItem(nil), s.config...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var updates []backend.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be an array of config items", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	index := make(map[string]int, len(s.config))
	for i, c := range s.config {
		index[c.Key] = i
	}
	for _, u := range updates {
		if _, ok := index[u.Key]; !ok {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Unknown config key: " + u.Key})
			return
		}
	}
	for _, u := range updates {
		s.config[index[u.Key]].Value = u.Value
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Configuration updated"})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var rec backend.LogRecord
	if !decodeBody(w, r, &rec) {
		return
	}
	if rec.Message == "" {
		writeError(w, http.StatusBadRequest, "Missing message", "")
		return
	}
	if rec.Type == "" {
		rec.Type = backend.LogSystem
	}
	s.hub.Log(rec.Type, rec.Message, rec.Summary)
	writeJSON(w, http.StatusOK, map[string]string{
		"type":      rec.Type,
		"message":   rec.Message,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
