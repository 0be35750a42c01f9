package logstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Engine.IO v4 packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketConnectError = '4'
)

var errMalformed = errors.New("malformed socket.io packet")

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// WebSocketURL derives the Socket.IO websocket endpoint from an HTTP base
// URL and the Socket.IO path.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/socket.io/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}

// decodeEvent parses the body of a Socket.IO EVENT packet (everything after
// the "2" type byte): an optional "/namespace," prefix, an optional ack id,
// then a JSON array whose first element is the event name.
func decodeEvent(body string) (string, json.RawMessage, error) {
	if strings.HasPrefix(body, "/") {
		i := strings.IndexByte(body, ',')
		if i < 0 {
			return "", nil, errMalformed
		}
		body = body[i+1:]
	}
	body = strings.TrimLeft(body, "0123456789")

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(parts) == 0 {
		return "", nil, errMalformed
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", errMalformed, err)
	}
	var data json.RawMessage
	if len(parts) > 1 {
		data = parts[1]
	}
	return name, data, nil
}

// EncodeEvent builds the text frame of an event emitted on the default
// namespace.
func EncodeEvent(name string, data any) ([]byte, error) {
	payload, err := json.Marshal([]any{name, data})
	if err != nil {
		return nil, err
	}
	return append([]byte{engineMessage, socketEvent}, payload...), nil
}
