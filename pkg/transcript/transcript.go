// Package transcript holds the ordered log of turns that make up the single shared
// conversation the relay feeds to the generation API.
package transcript

import (
	"sync"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged utterance. Turns are values and are never modified after they are
// appended.
type Turn struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"text" yaml:"text"`
}

// Transcript is an unbounded, in-memory, ordered sequence of turns.
//
// Each individual operation is atomic, so concurrent appends never lose or duplicate a turn.
// Nothing groups several operations together: two callers appending and snapshotting at the
// same time see each other's turns in whatever order the scheduler produced.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds a turn at the end and returns the transcript length after the append.
func (t *Transcript) Append(turn Turn) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
	return len(t.turns)
}

// AppendUser is a shorthand for Append with RoleUser.
func (t *Transcript) AppendUser(text string) int {
	return t.Append(Turn{Role: RoleUser, Text: text})
}

// AppendAssistant is a shorthand for Append with RoleAssistant.
func (t *Transcript) AppendAssistant(text string) int {
	return t.Append(Turn{Role: RoleAssistant, Text: text})
}

// Snapshot returns a copy of the current turns in order.
func (t *Transcript) Snapshot() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.turns) == 0 {
		return nil
	}
	return append([]Turn(nil), t.turns...)
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Reset removes every turn and returns how many were dropped.
func (t *Transcript) Reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.turns)
	t.turns = nil
	return n
}
