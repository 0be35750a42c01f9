// Package chat runs the question → metadata → SQL → result conversation.
//
// A Session accepts one question at a time. The first question of a
// conversation triggers a suggestion round on the catalog sidebar and the
// retrieval of related tables, examples and terms; later questions reuse
// that metadata. Progress is reported on the Events channel so a UI can
// render status lines, messages and results as they happen.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/backend"
)

var (
	// ErrBusy is returned by Send while another question is in flight.
	ErrBusy = errors.New("a question is already being answered")
	// ErrEmpty is returned for blank questions and blank SQL.
	ErrEmpty = errors.New("nothing to send")
)

// NoAnswerText is shown when the agent replies with neither prose nor SQL.
const NoAnswerText = "No valid response was generated"

// Backend is the server side of the conversation.
type Backend interface {
	Retrieve(ctx context.Context, kind backend.MetadataKind, req backend.MetadataRequest) ([]backend.MetadataItem, error)
	SQLAgent(ctx context.Context, req backend.AgentRequest) (*backend.AgentReply, error)
	FeedbackGood(ctx context.Context, req backend.AgentRequest) error
}

// Executor runs SQL.
type Executor interface {
	Execute(ctx context.Context, sql string) (*backend.ResultSet, error)
}

// Selection is the sidebar highlight state.
type Selection interface {
	Suggested() bool
	Suggest(ctx context.Context, text string) (int, error)
	Fragment() []backend.Database
}

type retrievalStep struct {
	kind    backend.MetadataKind
	loading string
	failure string
}

var retrievalSteps = []retrievalStep{
	{backend.KindDDL, "Fetching related tables", "Failed to fetch related tables, please retry"},
	{backend.KindFewshot, "Fetching related examples", "Failed to fetch related examples, please retry"},
	{backend.KindTerm, "Fetching related terms", "Failed to fetch related terms, please retry"},
}

// Session is one conversation. It is safe for concurrent use.
type Session struct {
	backend Backend
	exec    Executor
	sel     Selection

	sending *semaphore.Weighted
	events  chan Event
	done    chan struct{}
	bg      sync.WaitGroup
	closeMu sync.Once

	// FeedbackTimeout bounds the background like request.
	FeedbackTimeout time.Duration

	transcript Transcript

	mu        sync.Mutex
	phase     Phase
	metadata  backend.Metadata
	retrieved bool
	result    *backend.ResultSet
}

// NewSession creates a session. sel may be nil when there is no sidebar.
func NewSession(b Backend, exec Executor, sel Selection) *Session {
	return &Session{
		backend:         b,
		exec:            exec,
		sel:             sel,
		sending:         semaphore.NewWeighted(1),
		events:          make(chan Event, 256),
		done:            make(chan struct{}),
		FeedbackTimeout: 30 * time.Second,
	}
}

// Events is the session output. It is never closed; stop reading after
// Close.
func (s *Session) Events() <-chan Event { return s.events }

// Close waits for background requests and stops event delivery.
func (s *Session) Close() {
	s.closeMu.Do(func() {
		s.bg.Wait()
		close(s.done)
	})
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) loading(text string) string {
	id := uuid.NewString()
	s.emit(Event{Kind: EventLoading, ID: id, Text: text})
	return id
}

func (s *Session) loaded(id string) {
	s.emit(Event{Kind: EventLoaded, ID: id})
}

func (s *Session) fail(text string, err error) {
	applog.Error("%s: %v", text, err)
	s.emit(Event{Kind: EventError, Text: text, Err: err})
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.emit(Event{Kind: EventPhase, Phase: p})
}

// Phase returns the current state of the send machine.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Busy reports whether a question is in flight.
func (s *Session) Busy() bool { return s.Phase() != PhaseIdle }

// Transcript returns a copy of the conversation.
func (s *Session) Transcript() []backend.Message { return s.transcript.Messages() }

// Empty reports whether the conversation has not started.
func (s *Session) Empty() bool { return s.transcript.Len() == 0 }

// Send asks one question. It blocks until the answer arrives or fails and
// returns ErrBusy immediately when another question is in flight.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	if !s.sending.TryAcquire(1) {
		return ErrBusy
	}
	defer s.sending.Release(1)
	defer s.setPhase(PhaseIdle)

	applog.Event("CHAT", "question: %s", text)

	s.mu.Lock()
	retrieved := s.retrieved
	s.mu.Unlock()
	if !retrieved {
		s.setPhase(PhaseRetrievingMetadata)
		if err := s.retrieve(ctx, text); err != nil {
			return err
		}
	}

	s.transcript.AddUser(text)
	s.emit(Event{Kind: EventUserMessage, Text: text})

	s.setPhase(PhaseGeneratingSQL)
	return s.generate(ctx)
}

func (s *Session) retrieve(ctx context.Context, text string) error {
	var schema []backend.Database
	if s.sel != nil {
		if !s.sel.Suggested() {
			id := s.loading("Matching related metadata")
			_, err := s.sel.Suggest(ctx, text)
			s.loaded(id)
			if err != nil {
				s.fail("Metadata recall failed, please retry", err)
				return err
			}
		}
		schema = s.sel.Fragment()
	}
	if schema == nil {
		schema = []backend.Database{}
	}

	req := backend.MetadataRequest{Query: text, Schema: schema}
	var md backend.Metadata
	for _, step := range retrievalSteps {
		id := s.loading(step.loading)
		items, err := s.backend.Retrieve(ctx, step.kind, req)
		s.loaded(id)
		if err != nil {
			s.fail(step.failure, err)
			return fmt.Errorf("retrieve %s: %w", step.kind, err)
		}
		md.Set(step.kind, items)
		s.emit(Event{Kind: EventMetadata, Collection: step.kind, Items: items, Text: step.kind.Title()})
	}

	s.mu.Lock()
	s.metadata = md
	s.retrieved = true
	s.mu.Unlock()
	return nil
}

func (s *Session) agentRequest() backend.AgentRequest {
	s.mu.Lock()
	md := s.metadata.Clone()
	s.mu.Unlock()
	return backend.AgentRequest{Metadata: md, Messages: s.transcript.Messages()}
}

func (s *Session) generate(ctx context.Context) error {
	id := s.loading("Generating SQL")
	reply, err := s.backend.SQLAgent(ctx, s.agentRequest())
	s.loaded(id)
	if err != nil {
		s.fail("SQL generation failed, please retry", err)
		return fmt.Errorf("sql agent: %w", err)
	}

	switch {
	case reply.SQL != "":
		s.transcript.AddAssistant(reply.Content, reply.SQL)
		s.emit(Event{Kind: EventSQL, Text: reply.Content, SQL: reply.SQL})
	case reply.Content != "":
		s.transcript.AddAssistant(reply.Content, "")
		s.emit(Event{Kind: EventAssistantMessage, Text: reply.Content})
	default:
		s.emit(Event{Kind: EventAssistantMessage, Text: NoAnswerText})
	}
	return nil
}

// Execute runs a statement and stores the result as the current dashboard
// result. It is independent of the send guard.
func (s *Session) Execute(ctx context.Context, sql string) (*backend.ResultSet, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, ErrEmpty
	}
	applog.Event("EXEC", "%s", sql)

	id := s.loading("Executing SQL")
	rs, err := s.exec.Execute(ctx, sql)
	s.loaded(id)
	if err != nil {
		s.fail("SQL execution failed: "+errorText(err), err)
		return nil, err
	}

	s.mu.Lock()
	s.result = rs
	s.mu.Unlock()
	s.emit(Event{Kind: EventResult, SQL: sql, Result: rs})
	return rs, nil
}

func errorText(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// Result returns the last successful execution result.
func (s *Session) Result() *backend.ResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Like reports the conversation as a good example. The request runs in the
// background; failures are only logged.
func (s *Session) Like() {
	req := s.agentRequest()
	timeout := s.FeedbackTimeout
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.backend.FeedbackGood(ctx, req); err != nil {
			applog.Error("feedback: %v", err)
			return
		}
		applog.Event("CHAT", "conversation marked as good example")
	}()
}

// Metadata returns a copy of the retrieved collections.
func (s *Session) Metadata() backend.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata.Clone()
}

// Retrieved reports whether metadata has been fetched for this
// conversation.
func (s *Session) Retrieved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrieved
}

// EditMetadata replaces one retrieved item. Later questions send the
// edited collection.
func (s *Session) EditMetadata(kind backend.MetadataKind, index int, item backend.MetadataItem) error {
	s.mu.Lock()
	items := s.metadata.Get(kind)
	if index < 0 || index >= len(items) {
		s.mu.Unlock()
		return fmt.Errorf("%s item %d out of range", kind, index)
	}
	items = append([]backend.MetadataItem(nil), items...)
	items[index] = item
	s.metadata.Set(kind, items)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMetadataChanged, Collection: kind, Items: items, Text: kind.Title()})
	return nil
}

// DeleteMetadata removes one retrieved item.
func (s *Session) DeleteMetadata(kind backend.MetadataKind, index int) error {
	s.mu.Lock()
	items := s.metadata.Get(kind)
	if index < 0 || index >= len(items) {
		s.mu.Unlock()
		return fmt.Errorf("%s item %d out of range", kind, index)
	}
	next := make([]backend.MetadataItem, 0, len(items)-1)
	next = append(next, items[:index]...)
	next = append(next, items[index+1:]...)
	s.metadata.Set(kind, next)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMetadataChanged, Collection: kind, Items: next, Text: kind.Title()})
	return nil
}

// Reset starts a new conversation. It is refused while a question is in
// flight.
func (s *Session) Reset() error {
	if !s.sending.TryAcquire(1) {
		return ErrBusy
	}
	defer s.sending.Release(1)

	s.transcript.Reset()
	s.mu.Lock()
	s.metadata = backend.Metadata{}
	s.retrieved = false
	s.result = nil
	s.mu.Unlock()
	if r, ok := s.sel.(interface{ Reset() }); ok {
		r.Reset()
	}
	s.emit(Event{Kind: EventReset})
	return nil
}
