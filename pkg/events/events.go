// Package events carries transcript change notifications from the relay to interested
// consumers (websocket feed, turn archive) over a watermill publisher/subscriber pair.
package events

import (
	"context"
	"time"

	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

// DefaultTopic is the watermill topic (Redis stream name when Redis is enabled) that transcript
// events are published on.
const DefaultTopic = "transcript"

type EventType string

const (
	EventTurnAppended    EventType = "turn.appended"
	EventTranscriptReset EventType = "transcript.reset"
)

// Event describes a single transcript mutation.
type Event struct {
	Type EventType `json:"type" yaml:"type"`
	// Role and Text are set for EventTurnAppended.
	Role transcript.Role `json:"role,omitempty" yaml:"role,omitempty"`
	Text string          `json:"text,omitempty" yaml:"text,omitempty"`
	// Index is the zero-based position of the appended turn.
	Index int `json:"index" yaml:"index"`
	// Length is the transcript length after the mutation. For a reset it is always 0 and
	// Dropped carries how many turns were removed.
	Length  int   `json:"length" yaml:"length"`
	Dropped int   `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	AtMs    int64 `json:"at_ms" yaml:"at_ms"`
}

// Sink receives transcript events. Implementations must not block for long; the relay calls
// Publish inline.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

func NewTurnAppended(turn transcript.Turn, length int, at time.Time) Event {
	return Event{
		Type:   EventTurnAppended,
		Role:   turn.Role,
		Text:   turn.Text,
		Index:  length - 1,
		Length: length,
		AtMs:   at.UnixMilli(),
	}
}

func NewTranscriptReset(dropped int, at time.Time) Event {
	return Event{
		Type:    EventTranscriptReset,
		Length:  0,
		Dropped: dropped,
		AtMs:    at.UnixMilli(),
	}
}
