package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
)

type SQLiteTurnStore struct {
	db *sql.DB
}

var _ TurnStore = &SQLiteTurnStore{}

func NewSQLiteTurnStore(dsn string) (*SQLiteTurnStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite turn store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteTurnStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTurnStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTurnStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			turn_index INTEGER NOT NULL DEFAULT 0,
			length INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_events_by_type ON transcript_events(event_type, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS transcript_events_by_time ON transcript_events(created_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite turn store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTurnStore) Save(ctx context.Context, e events.Event) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite turn store: db is nil")
	}
	if ctx == nil {
		return errors.New("sqlite turn store: ctx is nil")
	}
	if err := validateEvent(e); err != nil {
		return errors.Wrap(err, "sqlite turn store")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_events(event_type, role, text, turn_index, length, dropped, created_at_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, string(e.Type), string(e.Role), e.Text, e.Index, e.Length, e.Dropped, createdAt(e)); err != nil {
		return errors.Wrap(err, "sqlite turn store: insert event")
	}
	return nil
}

func (s *SQLiteTurnStore) List(ctx context.Context, q TurnQuery) ([]ArchivedEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite turn store: db is nil")
	}

	clauses := []string{}
	args := []any{}
	if q.Type != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, q.Type)
	}
	if q.SinceMs > 0 {
		clauses = append(clauses, "created_at_ms >= ?")
		args = append(args, q.SinceMs)
	}
	query := `SELECT id, event_type, role, text, turn_index, length, dropped, created_at_ms FROM transcript_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at_ms DESC, id DESC LIMIT ?"
	args = append(args, normalizeLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite turn store: query")
	}
	defer func() { _ = rows.Close() }()

	var items []ArchivedEvent
	for rows.Next() {
		var it ArchivedEvent
		if err := rows.Scan(&it.ID, &it.Type, &it.Role, &it.Text, &it.TurnIndex, &it.Length, &it.Dropped, &it.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite turn store: scan")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite turn store: rows")
	}
	return items, nil
}

func SQLiteTurnDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite turn store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
