package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DachengChen/sqlpilot/backend"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu        sync.Mutex
	retrieves map[backend.MetadataKind]int
	requests  []backend.AgentRequest
	schemas   [][]backend.Database
	reply     backend.AgentReply
	agentErr  error
	failKind  backend.MetadataKind
	block     chan struct{}
	liked     chan backend.AgentRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		retrieves: make(map[backend.MetadataKind]int),
		reply:     backend.AgentReply{Content: "Here is the query", SQL: "SELECT 1"},
		liked:     make(chan backend.AgentRequest, 1),
	}
}

func (f *fakeBackend) Retrieve(ctx context.Context, kind backend.MetadataKind, req backend.MetadataRequest) ([]backend.MetadataItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieves[kind]++
	f.schemas = append(f.schemas, req.Schema)
	if kind == f.failKind {
		return nil, errors.New("retrieval down")
	}
	return []backend.MetadataItem{{Name: string(kind) + "-1", Content: "doc"}}, nil
}

func (f *fakeBackend) SQLAgent(ctx context.Context, req backend.AgentRequest) (*backend.AgentReply, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.agentErr != nil {
		return nil, f.agentErr
	}
	r := f.reply
	return &r, nil
}

func (f *fakeBackend) FeedbackGood(ctx context.Context, req backend.AgentRequest) error {
	f.liked <- req
	return nil
}

type fakeExecutor struct {
	rs  *backend.ResultSet
	err error
}

func (f fakeExecutor) Execute(ctx context.Context, sql string) (*backend.ResultSet, error) {
	return f.rs, f.err
}

type fakeSelection struct {
	suggested bool
	calls     int
	err       error
	reset     bool
}

func (f *fakeSelection) Suggested() bool { return f.suggested }

func (f *fakeSelection) Suggest(ctx context.Context, text string) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	f.suggested = true
	return 1, nil
}

func (f *fakeSelection) Fragment() []backend.Database {
	return []backend.Database{{ID: "d1", DB: "sales"}}
}

func (f *fakeSelection) Reset() {
	f.reset = true
	f.suggested = false
}

// drain collects the events emitted so far.
func drain(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	var out []EventKind
	for _, ev := range events {
		if ev.Kind == EventPhase {
			continue
		}
		out = append(out, ev.Kind)
	}
	return out
}

func TestSendFirstQuestionRetrievesThenGenerates(t *testing.T) {
	be := newFakeBackend()
	sel := &fakeSelection{}
	s := NewSession(be, fakeExecutor{}, sel)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), "  top products  "))

	assert.Equal(t, 1, sel.calls)
	assert.Equal(t, []EventKind{
		EventLoading, EventLoaded, // suggest
		EventLoading, EventLoaded, EventMetadata,
		EventLoading, EventLoaded, EventMetadata,
		EventLoading, EventLoaded, EventMetadata,
		EventUserMessage,
		EventLoading, EventLoaded,
		EventSQL,
	}, kinds(drain(s)))

	assert.Equal(t, []backend.Message{
		{Role: backend.RoleUser, Content: "top products"},
		{Role: backend.RoleAssistant, Content: "Here is the query\nSQL:\nSELECT 1"},
	}, s.Transcript())

	require.Len(t, be.requests, 1)
	assert.Equal(t, []backend.Message{{Role: backend.RoleUser, Content: "top products"}}, be.requests[0].Messages)
	assert.Equal(t, "ddl-1", be.requests[0].Metadata.DDL[0].Name)
	assert.Equal(t, "sales", be.schemas[0][0].DB)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestSecondQuestionReusesMetadata(t *testing.T) {
	be := newFakeBackend()
	s := NewSession(be, fakeExecutor{}, &fakeSelection{})
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), "first"))
	be.reply = backend.AgentReply{Content: "Just prose"}
	require.NoError(t, s.Send(context.Background(), "second"))

	assert.Equal(t, 1, be.retrieves[backend.KindDDL])
	require.Len(t, be.requests, 2)
	assert.Len(t, be.requests[1].Messages, 3)
	assert.Equal(t, "second", be.requests[1].Messages[2].Content)

	msgs := s.Transcript()
	assert.Equal(t, backend.Message{Role: backend.RoleAssistant, Content: "Just prose"}, msgs[3])
}

func TestSendRejectsWhileBusy(t *testing.T) {
	be := newFakeBackend()
	be.block = make(chan struct{})
	s := NewSession(be, fakeExecutor{}, nil)
	defer s.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Send(context.Background(), "slow") }()

	require.Eventually(t, func() bool { return s.Phase() == PhaseGeneratingSQL }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Send(context.Background(), "again"), ErrBusy)
	assert.ErrorIs(t, s.Reset(), ErrBusy)

	close(be.block)
	require.NoError(t, <-errc)
	assert.False(t, s.Busy())
	assert.NoError(t, s.Send(context.Background(), "now"))
}

func TestSendEmpty(t *testing.T) {
	s := NewSession(newFakeBackend(), fakeExecutor{}, nil)
	defer s.Close()
	assert.ErrorIs(t, s.Send(context.Background(), "   "), ErrEmpty)
	assert.Empty(t, drain(s))
}

func TestSuggestFailureAbortsWithoutTranscript(t *testing.T) {
	be := newFakeBackend()
	sel := &fakeSelection{err: errors.New("down")}
	s := NewSession(be, fakeExecutor{}, sel)
	defer s.Close()

	require.Error(t, s.Send(context.Background(), "q"))
	events := drain(s)
	last := events[len(events)-1]
	for _, ev := range events {
		if ev.Kind == EventError {
			last = ev
		}
	}
	assert.Equal(t, "Metadata recall failed, please retry", last.Text)
	assert.True(t, s.Empty())
	assert.Zero(t, be.retrieves[backend.KindDDL])
	assert.False(t, s.Retrieved())
}

func TestRetrievalFailureAllowsRetry(t *testing.T) {
	be := newFakeBackend()
	be.failKind = backend.KindTerm
	s := NewSession(be, fakeExecutor{}, nil)
	defer s.Close()

	require.Error(t, s.Send(context.Background(), "q"))
	assert.False(t, s.Retrieved())
	assert.Empty(t, be.requests)

	be.failKind = ""
	require.NoError(t, s.Send(context.Background(), "q"))
	assert.Equal(t, 2, be.retrieves[backend.KindDDL])
	assert.Len(t, s.Transcript(), 2)
}

func TestAgentFailureKeepsUserTurn(t *testing.T) {
	be := newFakeBackend()
	be.agentErr = errors.New("llm down")
	s := NewSession(be, fakeExecutor{}, nil)
	defer s.Close()

	require.Error(t, s.Send(context.Background(), "q"))
	assert.Equal(t, []backend.Message{{Role: backend.RoleUser, Content: "q"}}, s.Transcript())
}

func TestEmptyReplyIsNotRecorded(t *testing.T) {
	be := newFakeBackend()
	be.reply = backend.AgentReply{}
	s := NewSession(be, fakeExecutor{}, nil)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), "q"))
	var text string
	for _, ev := range drain(s) {
		if ev.Kind == EventAssistantMessage {
			text = ev.Text
		}
	}
	assert.Equal(t, NoAnswerText, text)
	assert.Len(t, s.Transcript(), 1)
}

func TestExecuteStoresResult(t *testing.T) {
	rs := &backend.ResultSet{Columns: []backend.ResultColumn{{Name: "n"}}, Data: [][]any{{1}}, TotalRows: 1}
	s := NewSession(newFakeBackend(), fakeExecutor{rs: rs}, nil)
	defer s.Close()

	got, err := s.Execute(context.Background(), " SELECT 1 ")
	require.NoError(t, err)
	assert.Same(t, rs, got)
	assert.Same(t, rs, s.Result())

	events := drain(s)
	assert.Equal(t, EventResult, events[len(events)-1].Kind)
	assert.Equal(t, "SELECT 1", events[len(events)-1].SQL)

	_, err = s.Execute(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestExecuteErrorUsesServerMessage(t *testing.T) {
	s := NewSession(newFakeBackend(), fakeExecutor{err: &backend.APIError{Status: 400, Message: "bad column"}}, nil)
	defer s.Close()

	_, err := s.Execute(context.Background(), "SELECT x")
	require.Error(t, err)
	events := drain(s)
	assert.Equal(t, "SQL execution failed: bad column", events[len(events)-1].Text)
	assert.Nil(t, s.Result())
}

func TestLikeSendsTranscript(t *testing.T) {
	be := newFakeBackend()
	s := NewSession(be, fakeExecutor{}, nil)
	require.NoError(t, s.Send(context.Background(), "q"))

	s.Like()
	req := <-be.liked
	s.Close()
	assert.Len(t, req.Messages, 2)
	assert.Len(t, req.Metadata.Term, 1)
}

func TestEditAndDeleteMetadata(t *testing.T) {
	be := newFakeBackend()
	s := NewSession(be, fakeExecutor{}, nil)
	defer s.Close()
	require.NoError(t, s.Send(context.Background(), "q"))

	require.NoError(t, s.EditMetadata(backend.KindDDL, 0, backend.MetadataItem{Name: "orders", Content: "CREATE TABLE orders()"}))
	require.NoError(t, s.DeleteMetadata(backend.KindTerm, 0))
	assert.Error(t, s.DeleteMetadata(backend.KindTerm, 0))
	assert.Error(t, s.EditMetadata(backend.KindFewshot, 5, backend.MetadataItem{}))

	require.NoError(t, s.Send(context.Background(), "again"))
	last := be.requests[len(be.requests)-1]
	assert.Equal(t, "orders", last.Metadata.DDL[0].Name)
	assert.Empty(t, last.Metadata.Term)
	assert.NotNil(t, last.Metadata.Term)
}

func TestResetStartsOver(t *testing.T) {
	be := newFakeBackend()
	sel := &fakeSelection{}
	s := NewSession(be, fakeExecutor{}, sel)
	defer s.Close()
	require.NoError(t, s.Send(context.Background(), "q"))

	require.NoError(t, s.Reset())
	assert.True(t, s.Empty())
	assert.False(t, s.Retrieved())
	assert.True(t, sel.reset)

	require.NoError(t, s.Send(context.Background(), "q2"))
	assert.Equal(t, 2, sel.calls)
	assert.Equal(t, 2, be.retrieves[backend.KindFewshot])
}
