// Package conversation implements the conversation-and-deployment engine:
// an ordered transcript with optimistic prompt dispatch and rollback, a
// deployment monitor that polls while a deploy is outstanding, and the
// per-project session that composes them.
package conversation

import (
	"slices"
	"sync"

	"github.com/pocketforge/pocketforge/internal/domain"
)

// Transcript is the ordered message sequence of one session. Only the
// Dispatcher writes to it; any goroutine may read snapshots.
type Transcript struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewTranscript returns a transcript holding a copy of initial.
func NewTranscript(initial []domain.Message) *Transcript {
	return &Transcript{messages: slices.Clone(initial)}
}

// Append adds msg to the end and returns the new length.
func (t *Transcript) Append(msg domain.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	return len(t.messages)
}

// Snapshot returns a copy of the current sequence.
func (t *Transcript) Snapshot() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Replace substitutes the whole sequence with a copy of seq.
func (t *Transcript) Replace(seq []domain.Message) {
	next := slices.Clone(seq)
	t.mu.Lock()
	t.messages = next
	t.mu.Unlock()
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
