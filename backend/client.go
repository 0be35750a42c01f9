// Package backend is the HTTP client for the assistant workbench server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request that has no deadline of its own.
const DefaultTimeout = 120 * time.Second

// Client talks to one workbench backend.
type Client struct {
	baseURL string
	user    string
	http    *http.Client
}

// New creates a client for baseURL. user is sent with catalog requests.
func New(baseURL, user string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the backend root without trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// User returns the catalog user.
func (c *Client) User() string { return c.user }

// ─────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────

// ListDatabases returns the databases visible to the configured user.
func (c *Client) ListDatabases(ctx context.Context) ([]Database, error) {
	var out []Database
	q := url.Values{"user": {c.user}}
	if err := c.do(ctx, http.MethodGet, "/metadata/dbs", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTables returns the tables of the database with ID dbID.
func (c *Client) ListTables(ctx context.Context, dbID string) ([]Table, error) {
	var out []Table
	q := url.Values{"user": {c.user}, "db": {dbID}}
	if err := c.do(ctx, http.MethodGet, "/metadata/tables", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListColumns returns the columns of a table. Parents are passed by ID.
func (c *Client) ListColumns(ctx context.Context, dbID, tableID string) ([]Column, error) {
	var out []Column
	q := url.Values{"user": {c.user}, "db": {dbID}, "table": {tableID}}
	if err := c.do(ctx, http.MethodGet, "/metadata/columns", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListValues returns the enumerated values of an ENUM column. A column the
// server has no values for yields an empty list.
func (c *Client) ListValues(ctx context.Context, dbID, tableID, columnID string) ([]Value, error) {
	var out []Value
	q := url.Values{"user": {c.user}, "db": {dbID}, "table": {tableID}, "column": {columnID}}
	err := c.do(ctx, http.MethodGet, "/metadata/values", q, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return []Value{}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Suggest asks the server which catalog nodes relate to text.
func (c *Client) Suggest(ctx context.Context, text string) ([]Database, error) {
	var out []Database
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/suggest", nil, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────
// Chat
// ─────────────────────────────────────────────────────────────────

// Retrieve fetches one metadata collection for a question.
func (c *Client) Retrieve(ctx context.Context, kind MetadataKind, req MetadataRequest) ([]MetadataItem, error) {
	switch kind {
	case KindDDL, KindFewshot, KindTerm:
	default:
		return nil, fmt.Errorf("unknown metadata kind %q", kind)
	}
	if req.Schema == nil {
		req.Schema = []Database{}
	}
	var out struct {
		Metadata []MetadataItem `json:"metadata"`
		Count    int            `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/"+string(kind), nil, req, &out); err != nil {
		return nil, err
	}
	if out.Metadata == nil {
		out.Metadata = []MetadataItem{}
	}
	return out.Metadata, nil
}

// SQLAgent asks the server to answer the conversation.
func (c *Client) SQLAgent(ctx context.Context, req AgentRequest) (*AgentReply, error) {
	var out AgentReply
	if err := c.do(ctx, http.MethodPost, "/sql-agent", nil, normalizeAgent(req), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FeedbackGood marks the current conversation as a good example.
func (c *Client) FeedbackGood(ctx context.Context, req AgentRequest) error {
	return c.do(ctx, http.MethodPost, "/feedback_good", nil, normalizeAgent(req), nil)
}

func normalizeAgent(req AgentRequest) AgentRequest {
	if req.Messages == nil {
		req.Messages = []Message{}
	}
	if req.Metadata.DDL == nil {
		req.Metadata.DDL = []MetadataItem{}
	}
	if req.Metadata.Fewshot == nil {
		req.Metadata.Fewshot = []MetadataItem{}
	}
	if req.Metadata.Term == nil {
		req.Metadata.Term = []MetadataItem{}
	}
	return req
}

// Execute runs sql on the server.
func (c *Client) Execute(ctx context.Context, sql string) (*ResultSet, error) {
	var out ResultSet
	body := map[string]string{"sql": sql}
	if err := c.do(ctx, http.MethodPost, "/execute", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─────────────────────────────────────────────────────────────────
// Admin and logs
// ─────────────────────────────────────────────────────────────────

// ListConfig returns the server configuration entries.
func (c *Client) ListConfig(ctx context.Context) ([]ConfigItem, error) {
	var out []ConfigItem
	if err := c.do(ctx, http.MethodGet, "/config/list", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateConfig saves configuration entries. A response with success=false
// is reported as an error carrying the server message.
func (c *Client) UpdateConfig(ctx context.Context, updates []ConfigUpdate) error {
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/config/update", nil, updates, &out); err != nil {
		return err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "update rejected"
		}
		return &APIError{Status: http.StatusOK, Message: msg}
	}
	return nil
}

// PostLog records a log entry on the server, which broadcasts it to every
// connected log stream.
func (c *Client) PostLog(ctx context.Context, rec LogRecord) error {
	if rec.Type == "" {
		rec.Type = LogSystem
	}
	return c.do(ctx, http.MethodPost, "/api/log", nil, rec, nil)
}

// ─────────────────────────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	traceRequest(method, path, payload)
	resp, err := c.http.Do(req)
	if err != nil {
		traceResponse(path, 0, nil, err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	traceResponse(path, resp.StatusCode, respBody, err)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Detail
		}
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
