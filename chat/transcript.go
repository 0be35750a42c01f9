package chat

import (
	"sync"

	"github.com/DachengChen/sqlpilot/backend"
)

// SQLSeparator joins an assistant's prose and its SQL in the transcript.
const SQLSeparator = "\nSQL:\n"

// Transcript is the ordered conversation sent to the SQL agent. Status
// lines, errors and metadata cards never enter it.
type Transcript struct {
	mu   sync.RWMutex
	msgs []backend.Message
}

// AddUser appends a user turn.
func (t *Transcript) AddUser(content string) {
	t.add(backend.RoleUser, content)
}

// AddAssistant appends an assistant turn. A reply carrying SQL is stored as
// the prose followed by the separator and the statement.
func (t *Transcript) AddAssistant(content, sql string) {
	if sql != "" {
		content = content + SQLSeparator + sql
	}
	t.add(backend.RoleAssistant, content)
}

func (t *Transcript) add(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, backend.Message{Role: role, Content: content})
}

// Messages returns a copy of the conversation.
func (t *Transcript) Messages() []backend.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]backend.Message{}, t.msgs...)
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Reset empties the conversation.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
}
