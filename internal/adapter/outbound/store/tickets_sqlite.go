package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteTickets persists tickets to a sqlite database so serve-mode tickets
// survive restarts. Selected with TICKET_STORE=sqlite.
type SQLiteTickets struct {
	db *sql.DB
}

// NewSQLiteTickets opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteTickets(path string) (*SQLiteTickets, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ticket db: %w", err)
	}
	s := &SQLiteTickets{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTickets) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS tickets (
		ticket_id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrate ticket db: %w", err)
	}
	return nil
}

// Create inserts a ticket. The id is derived from the payload, so re-creating
// an identical ticket upserts rather than duplicating.
func (s *SQLiteTickets) Create(ctx context.Context, project, title, body string) (map[string]any, error) {
	id := ticketID(project, title, body)
	query := `
	INSERT INTO tickets (ticket_id, project, title, body) VALUES (?, ?, ?, ?)
	ON CONFLICT(ticket_id) DO UPDATE SET project = excluded.project, title = excluded.title, body = excluded.body
	`
	if _, err := s.db.ExecContext(ctx, query, id, project, title, body); err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	return map[string]any{"ticket_id": id}, nil
}

// Count returns the number of stored tickets.
func (s *SQLiteTickets) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteTickets) Close() error {
	return s.db.Close()
}
