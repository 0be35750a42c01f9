package logstream

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Defaults of the panel timers.
const (
	DefaultQuietPeriod = 5 * time.Second
	DefaultCheckDelay  = 3 * time.Second
	CopiedFor          = time.Second
	maxEntries         = 1000
)

// TypeSystem labels entries produced locally.
const TypeSystem = "system"

// Entry is one line of the log panel.
type Entry struct {
	ID      string
	Time    time.Time
	Type    string
	Message string
	Summary string
	Stream  bool
}

// Check asks the caller to call CheckClose with Seq after the delay.
type Check struct {
	Seq   int
	After time.Duration
}

// Panel is the log panel state. It is owned by the UI loop and not safe for
// concurrent use.
type Panel struct {
	entries []Entry
	stream  int

	open    bool
	pinned  bool
	unread  bool
	last    time.Time
	seq     int
	quiet   time.Duration
	delay   time.Duration
	copied  string
	copyEnd time.Time
}

// NewPanel returns an open, empty panel.
func NewPanel(quiet, checkDelay time.Duration) *Panel {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if checkDelay <= 0 {
		checkDelay = DefaultCheckDelay
	}
	return &Panel{open: true, stream: -1, quiet: quiet, delay: checkDelay}
}

// Add appends an entry without touching the panel visibility.
func (p *Panel) Add(typ, message, summary string, now time.Time) Entry {
	e := Entry{ID: uuid.NewString(), Time: now, Type: typ, Message: message, Summary: summary}
	p.push(e)
	return e
}

func (p *Panel) push(e Entry) {
	p.entries = append(p.entries, e)
	if len(p.entries) > maxEntries {
		drop := len(p.entries) - maxEntries
		p.entries = append([]Entry(nil), p.entries[drop:]...)
		p.stream -= drop
	}
	if !p.open {
		p.unread = true
	}
}

// Handle applies one stream event. Log messages open the panel and return
// the close check to schedule; lifecycle events only add a system entry.
func (p *Panel) Handle(ev Event, now time.Time) *Check {
	switch ev.Kind {
	case EventConnect:
		p.Add(TypeSystem, "Connected to workbench", "", now)
	case EventReconnectAttempt:
		p.Add(TypeSystem, "Attempting to reconnect...", "", now)
	case EventConnectError:
		p.Add(TypeSystem, "Socket.IO connection error", "", now)
	case EventDisconnect:
		p.Add(TypeSystem, "Socket.IO connection closed: "+ev.Reason, "", now)
	case EventLog:
		p.received(now)
		p.Add(ev.Payload.Type, ev.Payload.Message, ev.Payload.Summary, now)
		return p.schedule()
	case EventStreamLog:
		p.received(now)
		p.appendStream(ev.Payload, now)
		return p.schedule()
	}
	return nil
}

func (p *Panel) received(now time.Time) {
	p.last = now
	if !p.open {
		p.open = true
		p.unread = false
	}
}

func (p *Panel) schedule() *Check {
	p.seq++
	return &Check{Seq: p.seq, After: p.delay}
}

// appendStream starts a new streamed entry on the first chunk and appends
// later chunks to it.
func (p *Panel) appendStream(pl Payload, now time.Time) {
	if pl.IsFirst || p.stream < 0 || p.stream >= len(p.entries) {
		e := Entry{ID: uuid.NewString(), Time: now, Type: pl.Type, Message: pl.Message, Summary: pl.Summary, Stream: true}
		p.push(e)
		p.stream = len(p.entries) - 1
		return
	}
	p.entries[p.stream].Message += pl.Message
}

// CheckClose runs a scheduled check. Stale checks are ignored. When the
// quiet period has not elapsed yet another check is returned for the
// remainder.
func (p *Panel) CheckClose(seq int, now time.Time) (closed bool, next *Check) {
	if seq != p.seq || !p.open || p.pinned {
		return false, nil
	}
	quietFor := now.Sub(p.last)
	if quietFor >= p.quiet {
		p.open = false
		return true, nil
	}
	p.seq++
	return false, &Check{Seq: p.seq, After: p.quiet - quietFor}
}

// Toggle opens a closed panel and pins it, or closes an open one and
// unpins it. It returns whether the panel is open afterwards.
func (p *Panel) Toggle() bool {
	p.seq++
	if p.open {
		p.open = false
		p.pinned = false
		return false
	}
	p.open = true
	p.pinned = true
	p.unread = false
	return true
}

// Open reports whether the panel is shown.
func (p *Panel) Open() bool { return p.open }

// Pinned reports whether the user opened the panel by hand.
func (p *Panel) Pinned() bool { return p.pinned }

// Unread reports whether entries arrived while the panel was closed.
func (p *Panel) Unread() bool { return p.unread }

// Entries returns the entries oldest first.
func (p *Panel) Entries() []Entry { return p.entries }

// Len returns the number of entries.
func (p *Panel) Len() int { return len(p.entries) }

// Copy puts the full message of entry id on the clipboard through write.
func (p *Panel) Copy(id string, write func(string) error, now time.Time) error {
	for _, e := range p.entries {
		if e.ID != id {
			continue
		}
		if err := write(e.Message); err != nil {
			return fmt.Errorf("copy log entry: %w", err)
		}
		p.copied = id
		p.copyEnd = now.Add(CopiedFor)
		return nil
	}
	return fmt.Errorf("log entry %s not found", id)
}

// Text is what the panel shows for e: streamed entries show the growing
// message, others prefer the summary. A freshly copied entry shows a
// confirmation instead.
func (p *Panel) Text(e Entry, now time.Time) string {
	if e.ID == p.copied && now.Before(p.copyEnd) {
		return "Copied to clipboard!"
	}
	if !e.Stream && e.Summary != "" {
		return e.Summary
	}
	return e.Message
}
