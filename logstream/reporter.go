package logstream

import (
	"context"
	"time"

	"github.com/DachengChen/sqlpilot/backend"
)

// Poster sends a log record to the backend.
type Poster interface {
	PostLog(ctx context.Context, rec backend.LogRecord) error
}

// Send posts a log record so the backend broadcasts it to every connected
// panel. It may run off the UI loop; report failures with SendFailed.
func Send(ctx context.Context, p Poster, typ, message, summary string) error {
	return p.PostLog(ctx, backend.LogRecord{Type: typ, Message: message, Summary: summary})
}

// SendFailed records a failed Send as a local system entry.
func (p *Panel) SendFailed(err error, now time.Time) Entry {
	return p.Add(TypeSystem, "Failed to send log: "+err.Error(), "", now)
}
