package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a catalog node. The server may send it as a JSON number or
// a string; numeric IDs are written back as numbers.
type ID string

// UnmarshalJSON accepts both numbers and strings.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes integer IDs as numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Database is one catalog database. Tables is only populated in suggestion
// results and schema fragments.
type Database struct {
	ID          ID      `json:"id"`
	DB          string  `json:"db,omitempty"`
	Description string  `json:"description,omitempty"`
	Tables      []Table `json:"tables,omitempty"`
}

// Table is one catalog table.
type Table struct {
	ID          ID       `json:"id"`
	Table       string   `json:"table,omitempty"`
	Description string   `json:"description,omitempty"`
	Columns     []Column `json:"columns,omitempty"`
}

// Column is one catalog column. Only columns of type ENUM carry values.
type Column struct {
	ID          ID      `json:"id"`
	Column      string  `json:"column,omitempty"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	Values      []Value `json:"values,omitempty"`
}

// Value is one enumerated column value. Catalog listings fill Description,
// schema fragments fill Desc.
type Value struct {
	ID          ID     `json:"id"`
	Value       string `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
	Desc        string `json:"desc,omitempty"`
}

// MetadataKind names one of the three retrieval collections.
type MetadataKind string

const (
	KindDDL     MetadataKind = "ddl"
	KindFewshot MetadataKind = "freeshot"
	KindTerm    MetadataKind = "term"
)

// MetadataKinds lists the collections in retrieval order.
var MetadataKinds = []MetadataKind{KindDDL, KindFewshot, KindTerm}

// Title is the heading shown above a collection.
func (k MetadataKind) Title() string {
	switch k {
	case KindDDL:
		return "Related tables"
	case KindFewshot:
		return "Related examples"
	case KindTerm:
		return "Related terms"
	}
	return string(k)
}

// MetadataItem is one retrieved document.
type MetadataItem struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// MetadataRequest is the body of the three retrieval endpoints.
type MetadataRequest struct {
	Query  string     `json:"query"`
	Schema []Database `json:"schema"`
}

// Metadata holds the three collections sent to the SQL agent.
type Metadata struct {
	DDL     []MetadataItem `json:"ddl"`
	Fewshot []MetadataItem `json:"freeshot"`
	Term    []MetadataItem `json:"term"`
}

// Get returns the collection for kind.
func (m *Metadata) Get(kind MetadataKind) []MetadataItem {
	switch kind {
	case KindDDL:
		return m.DDL
	case KindFewshot:
		return m.Fewshot
	case KindTerm:
		return m.Term
	}
	return nil
}

// Set replaces the collection for kind.
func (m *Metadata) Set(kind MetadataKind, items []MetadataItem) {
	switch kind {
	case KindDDL:
		m.DDL = items
	case KindFewshot:
		m.Fewshot = items
	case KindTerm:
		m.Term = items
	}
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	return Metadata{
		DDL:     append([]MetadataItem(nil), m.DDL...),
		Fewshot: append([]MetadataItem(nil), m.Fewshot...),
		Term:    append([]MetadataItem(nil), m.Term...),
	}
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AgentRequest is the body of /sql-agent and /feedback_good.
type AgentRequest struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

// AgentReply is the SQL agent answer. Either field may be empty.
type AgentReply struct {
	Content string `json:"content,omitempty"`
	SQL     string `json:"sql,omitempty"`
}

// ResultColumn describes one result column.
type ResultColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ResultSet is a tabular query result. A statement that returns no rows
// fills AffectedRows and Message instead of Columns.
type ResultSet struct {
	Columns      []ResultColumn `json:"columns,omitempty"`
	Data         [][]any        `json:"data,omitempty"`
	TotalRows    int            `json:"totalRows"`
	AffectedRows int64          `json:"affectedRows,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// IsTabular reports whether the result carries columns.
func (r *ResultSet) IsTabular() bool {
	return r != nil && len(r.Columns) > 0
}

// ColumnNames returns the column names in order.
func (r *ResultSet) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ConfigItem is one server-side configuration entry.
type ConfigItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Name  string `json:"name"`
}

// ConfigUpdate is one entry of a /config/update request.
type ConfigUpdate struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Log types accepted by /api/log.
const (
	LogSystem = "system"
	LogAI     = "ai"
)

// LogRecord is the body of /api/log.
type LogRecord struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Summary string `json:"summary,omitempty"`
}

// APIError is returned for any non-2xx backend response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
}
