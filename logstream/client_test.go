package logstream_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/DachengChen/sqlpilot/logstream"
	"github.com/DachengChen/sqlpilot/mockbackend"
)

func next(t *testing.T, events <-chan logstream.Event) logstream.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return logstream.Event{}
}

func TestClientReceivesLogs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, err := mockbackend.New(mockbackend.Options{PingInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	wsURL, err := logstream.WebSocketURL(ts.URL, "")
	require.NoError(t, err)
	c := logstream.NewClient(wsURL, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ev := next(t, c.Events())
	require.Equal(t, logstream.EventConnect, ev.Kind)
	require.Eventually(t, func() bool { return srv.Hub().Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	srv.Hub().Log("ai", "full text", "short")
	ev = next(t, c.Events())
	assert.Equal(t, logstream.EventLog, ev.Kind)
	assert.Equal(t, "ai", ev.Payload.Type)
	assert.Equal(t, "full text", ev.Payload.Message)
	assert.Equal(t, "short", ev.Payload.Summary)

	srv.Hub().StreamLog("chunk", true)
	ev = next(t, c.Events())
	assert.Equal(t, logstream.EventStreamLog, ev.Kind)
	assert.True(t, ev.Payload.IsFirst)

	// Let a few heartbeats pass; the connection must survive them.
	time.Sleep(200 * time.Millisecond)
	srv.Hub().Log("system", "still here", "")
	ev = next(t, c.Events())
	assert.Equal(t, "still here", ev.Payload.Message)

	cancel()
	require.NoError(t, <-done)
	for range c.Events() {
	}
}

func TestClientReconnects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, err := mockbackend.New(mockbackend.Options{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL, err := logstream.WebSocketURL(ts.URL, "")
	require.NoError(t, err)
	c := logstream.NewClient(wsURL, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Equal(t, logstream.EventConnect, next(t, c.Events()).Kind)

	// Dropping every server connection forces a reconnect.
	srv.Close()
	ev := next(t, c.Events())
	require.Equal(t, logstream.EventDisconnect, ev.Kind)
	assert.Equal(t, "transport close", ev.Reason)

	// The hub refuses new clients after Close, so attempts keep failing.
	ev = next(t, c.Events())
	require.Equal(t, logstream.EventReconnectAttempt, ev.Kind)
	assert.Equal(t, 1, ev.Attempt)

	cancel()
	require.NoError(t, <-done)
	for range c.Events() {
	}
}
