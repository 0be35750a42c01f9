// Package logstream follows the backend's live log over Socket.IO and keeps
// the state of the log panel.
package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/DachengChen/sqlpilot/applog"
)

// DefaultReconnectDelay is the pause between reconnection attempts.
const DefaultReconnectDelay = 5 * time.Second

// EventKind is the kind of stream event.
type EventKind int

const (
	EventConnect EventKind = iota
	EventReconnectAttempt
	EventConnectError
	EventDisconnect
	EventLog
	EventStreamLog
)

// Payload is the body of the log and stream_log events.
type Payload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Summary   string `json:"summary,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	IsFirst   bool   `json:"is_first,omitempty"`
}

// Event is one item delivered by the client.
type Event struct {
	Kind    EventKind
	Payload Payload
	Attempt int
	Err     error
	Reason  string
}

var errServerDisconnect = errors.New("io server disconnect")

// Client is a receive-only Socket.IO client.
type Client struct {
	url    string
	delay  time.Duration
	dialer *websocket.Dialer
	events chan Event
}

// NewClient creates a client for the websocket URL built by WebSocketURL.
func NewClient(wsURL string, reconnectDelay time.Duration) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		url:   wsURL,
		delay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		events: make(chan Event, 64),
	}
}

// Events delivers connection and log events. It is closed when Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// Run connects and keeps reconnecting with a fixed delay until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	attempt := 0
	err := retry.Do(ctx, retry.NewConstant(c.delay), func(ctx context.Context) error {
		if attempt > 0 {
			c.emit(ctx, Event{Kind: EventReconnectAttempt, Attempt: attempt})
		}
		attempt++
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// session runs one connection until it drops.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if ctx.Err() == nil {
			c.emit(ctx, Event{Kind: EventConnectError, Err: err})
		}
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	connected := false
	disconnect := func(reason string) {
		if connected && ctx.Err() == nil {
			c.emit(ctx, Event{Kind: EventDisconnect, Reason: reason})
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			disconnect("transport close")
			return err
		}
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case engineOpen:
			var hs handshake
			if err := json.Unmarshal(data[1:], &hs); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			applog.Debug("log stream handshake sid=%s", hs.SID)
			if err := conn.WriteMessage(websocket.TextMessage, []byte{engineMessage, socketConnect}); err != nil {
				return err
			}
		case enginePing:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{enginePong}); err != nil {
				disconnect("ping timeout")
				return err
			}
		case engineClose:
			disconnect("io server disconnect")
			return errServerDisconnect
		case engineMessage:
			if len(data) < 2 {
				continue
			}
			switch data[1] {
			case socketConnect:
				connected = true
				c.emit(ctx, Event{Kind: EventConnect})
			case socketConnectError:
				err := fmt.Errorf("connect error: %s", data[2:])
				c.emit(ctx, Event{Kind: EventConnectError, Err: err})
				return err
			case socketDisconnect:
				disconnect("io server disconnect")
				return errServerDisconnect
			case socketEvent:
				c.handleEvent(ctx, string(data[2:]))
			}
		case enginePong, engineNoop:
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, body string) {
	name, data, err := decodeEvent(body)
	if err != nil {
		applog.Error("log stream: %v", err)
		return
	}
	var kind EventKind
	switch name {
	case "log":
		kind = EventLog
	case "stream_log":
		kind = EventStreamLog
	default:
		return
	}
	var p Payload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			applog.Error("log stream %s payload: %v", name, err)
			return
		}
	}
	c.emit(ctx, Event{Kind: kind, Payload: p})
}
