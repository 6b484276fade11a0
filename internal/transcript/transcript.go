// Package transcript provides the ordered message history of one conversation.
//
// A Transcript is owned by exactly one chat session. It grows by append; no
// message is ever removed or reordered once appended. The first message is
// always the system message, set at creation and never mutated.
//
// Thread safety: all Transcript methods are safe for concurrent use. Text
// produced while a response is still streaming is isolated in an Accumulator
// owned by the turn and becomes visible only when the turn commits it.
package transcript

import (
	"fmt"
	"strings"
	"sync"
)

// Role identifies the author of a message.
type Role string

// Valid message roles.
const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry in a conversation.
type Message struct {
	Role    Role
	Content string
}

// Transcript is the append-only message history of one conversation.
//
// The zero value is NOT useful - use New() to create instances.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// New creates a Transcript seeded with the given system message.
// The system message is always first and is never mutated afterwards.
func New(systemMessage string) *Transcript {
	return &Transcript{
		messages: []Message{{Role: RoleSystem, Content: systemMessage}},
	}
}

// AppendHuman appends a human message.
func (t *Transcript) AppendHuman(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, Message{Role: RoleHuman, Content: content})
}

// AppendAssistant appends an assistant message.
func (t *Transcript) AppendAssistant(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, Message{Role: RoleAssistant, Content: content})
}

// AmendLastHuman replaces the content of the most recent message if it is a
// human message. Used to retain a user-facing display string in history while
// an internally augmented prompt was sent to the model. The system message
// can never be amended because it is never last while a turn is running.
func (t *Transcript) AmendLastHuman(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.messages); n > 1 && t.messages[n-1].Role == RoleHuman {
		t.messages[n-1].Content = content
	}
}

// Messages returns a copy of all messages for safe concurrent access.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Text renders the transcript as plain text, one "role: content" line per
// message. Used for transcript dumps.
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sb strings.Builder
	for i, m := range t.messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", m.Role, m.Content)
	}
	return sb.String()
}

// Accumulator collects assistant text for one in-flight turn. The text is
// committed to the transcript as a single assistant message on stream
// completion or failure; until then concurrent readers never observe a
// half-written message.
//
// An Accumulator belongs to exactly one turn and is not safe for concurrent
// use by multiple goroutines.
type Accumulator struct {
	t         *Transcript
	buf       strings.Builder
	started   bool
	committed bool
}

// BeginAssistant creates an Accumulator for the next assistant response.
func (t *Transcript) BeginAssistant() *Accumulator {
	return &Accumulator{t: t}
}

// Write appends one streamed fragment to the in-progress response.
func (a *Accumulator) Write(fragment string) {
	a.started = true
	a.buf.WriteString(fragment)
}

// Started reports whether at least one fragment has been written.
func (a *Accumulator) Started() bool {
	return a.started
}

// String returns the text accumulated so far.
func (a *Accumulator) String() string {
	return a.buf.String()
}

// Commit appends the accumulated text to the transcript as an assistant
// message. A turn that failed before producing any fragment commits nothing.
// Commit is idempotent; only the first call has effect.
func (a *Accumulator) Commit() {
	if !a.started || a.committed {
		return
	}
	a.committed = true
	a.t.AppendAssistant(a.buf.String())
}
