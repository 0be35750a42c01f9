package chat

import "github.com/DachengChen/sqlpilot/backend"

// Phase is where a send currently is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRetrievingMetadata
	PhaseGeneratingSQL
)

func (p Phase) String() string {
	switch p {
	case PhaseRetrievingMetadata:
		return "retrieving metadata"
	case PhaseGeneratingSQL:
		return "generating SQL"
	}
	return "idle"
}

// EventKind tells the UI what happened.
type EventKind int

const (
	// EventLoading starts a transient status line identified by Event.ID.
	EventLoading EventKind = iota
	// EventLoaded removes the status line with the same ID.
	EventLoaded
	EventPhase
	EventUserMessage
	EventAssistantMessage
	EventSQL
	EventMetadata
	EventMetadataChanged
	EventResult
	EventError
	EventReset
)

// Event is one entry of the session's output stream.
type Event struct {
	Kind  EventKind
	ID    string
	Text  string
	Phase Phase

	SQL        string
	Collection backend.MetadataKind
	Items      []backend.MetadataItem
	Result     *backend.ResultSet
	Err        error
}
