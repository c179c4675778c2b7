// Package chatstore archives transcript events for inspection. The archive is write-mostly:
// the relay never reads it back, so a restart always begins with an empty transcript.
package chatstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
)

const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ArchivedEvent is one stored transcript event.
type ArchivedEvent struct {
	ID          int64  `json:"id" yaml:"id"`
	Type        string `json:"type" yaml:"type"`
	Role        string `json:"role,omitempty" yaml:"role,omitempty"`
	Text        string `json:"text,omitempty" yaml:"text,omitempty"`
	TurnIndex   int    `json:"index" yaml:"index"`
	Length      int    `json:"length" yaml:"length"`
	Dropped     int    `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms" yaml:"created_at_ms"`
}

// TurnQuery describes filters for loading archived events. Results are newest first.
type TurnQuery struct {
	Type    string
	SinceMs int64
	Limit   int
}

// TurnStore persists transcript events for inspection/debugging.
type TurnStore interface {
	Save(ctx context.Context, e events.Event) error
	List(ctx context.Context, q TurnQuery) ([]ArchivedEvent, error)
	Close() error
}

// Open returns the store for driver. DriverNone (or an empty driver) yields a store that
// drops everything.
func Open(ctx context.Context, driver, dsn string) (TurnStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverNone:
		return NopTurnStore{}, nil
	case DriverSQLite:
		return NewSQLiteTurnStore(dsn)
	case DriverPostgres:
		return NewPostgresTurnStore(ctx, dsn)
	default:
		return nil, errors.Errorf("unknown archive driver %q", driver)
	}
}

// Handler adapts a store to an events.Handler.
func Handler(store TurnStore) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		if err := store.Save(ctx, e); err != nil {
			return errors.Wrap(err, "archive transcript event")
		}
		log.Trace().Str("component", "chatstore").Str("type", string(e.Type)).Int("length", e.Length).Msg("archived event")
		return nil
	}
}

func validateEvent(e events.Event) error {
	switch e.Type {
	case events.EventTurnAppended:
		if e.Role == "" {
			return errors.New("turn.appended event without role")
		}
	case events.EventTranscriptReset:
	default:
		return errors.Errorf("unsupported event type %q", e.Type)
	}
	return nil
}

func createdAt(e events.Event) int64 {
	if e.AtMs > 0 {
		return e.AtMs
	}
	return time.Now().UnixMilli()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

type NopTurnStore struct{}

var _ TurnStore = NopTurnStore{}

func (NopTurnStore) Save(context.Context, events.Event) error { return nil }

func (NopTurnStore) List(context.Context, TurnQuery) ([]ArchivedEvent, error) { return nil, nil }

func (NopTurnStore) Close() error { return nil }
