package chatstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
)

// PostgresTurnStore archives events in a transcript_events table.
type PostgresTurnStore struct {
	pool *pgxpool.Pool
}

var _ TurnStore = &PostgresTurnStore{}

func NewPostgresTurnStore(ctx context.Context, dsn string) (*PostgresTurnStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres turn store: empty dsn")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres turn store: connect")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres turn store: ping")
	}
	s := &PostgresTurnStore{pool: pool}
	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresTurnStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresTurnStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			turn_index INTEGER NOT NULL DEFAULT 0,
			length INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			created_at_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transcript_events_by_type ON transcript_events(event_type, created_at_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS transcript_events_by_time ON transcript_events(created_at_ms DESC)`,
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st); err != nil {
			return errors.Wrap(err, "postgres turn store: migrate")
		}
	}
	return nil
}

func (s *PostgresTurnStore) Save(ctx context.Context, e events.Event) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres turn store: pool is nil")
	}
	if err := validateEvent(e); err != nil {
		return errors.Wrap(err, "postgres turn store")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcript_events (event_type, role, text, turn_index, length, dropped, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(e.Type), string(e.Role), e.Text, e.Index, e.Length, e.Dropped, createdAt(e))
	if err != nil {
		return errors.Wrap(err, "postgres turn store: insert event")
	}
	return nil
}

func (s *PostgresTurnStore) List(ctx context.Context, q TurnQuery) ([]ArchivedEvent, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("postgres turn store: pool is nil")
	}
	query, args := buildPostgresListQuery(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "postgres turn store: query")
	}
	defer rows.Close()

	var items []ArchivedEvent
	for rows.Next() {
		var it ArchivedEvent
		if err := rows.Scan(&it.ID, &it.Type, &it.Role, &it.Text, &it.TurnIndex, &it.Length, &it.Dropped, &it.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "postgres turn store: scan")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres turn store: rows")
	}
	return items, nil
}

func buildPostgresListQuery(q TurnQuery) (string, []any) {
	clauses := []string{}
	args := []any{}
	if q.Type != "" {
		args = append(args, q.Type)
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if q.SinceMs > 0 {
		args = append(args, q.SinceMs)
		clauses = append(clauses, fmt.Sprintf("created_at_ms >= $%d", len(args)))
	}
	query := `SELECT id, event_type, role, text, turn_index, length, dropped, created_at_ms FROM transcript_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, normalizeLimit(q.Limit))
	query += fmt.Sprintf(" ORDER BY created_at_ms DESC, id DESC LIMIT $%d", len(args))
	return query, args
}
