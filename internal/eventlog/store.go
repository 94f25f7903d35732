// Package eventlog durably mirrors session events so SSE clients can
// reconnect and replay everything they missed via Last-Event-ID
// (spec.md §4.7/§9). It implements internal/session.EventSink and is
// grounded on SPEC_FULL.md §9/§12's explicit design note: a
// modernc.org/sqlite-backed table keyed by (session_id, seq), fronted
// by a bounded in-memory ring buffer per session so the common case —
// a client that reconnects a few seconds later — never touches the
// database.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/kilnai/kiln/internal/session"
)

// ringSize bounds how many recent events per session are served from
// memory before falling back to sqlite.
const ringSize = 256

// Store is a session.EventSink backed by sqlite.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	ring map[string][]session.Event
}

// Open opens (creating if necessary) the sqlite database at path. An
// empty path opens a private in-memory database, useful for tests and
// for single-process deployments that don't need the mirror to survive
// a restart.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	store, err := newWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// newWithDB wraps an already-open *sql.DB, a seam go-sqlmock tests use
// to assert on the exact SQL Store issues without a real database file.
func newWithDB(db *sql.DB) (*Store, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	type       TEXT NOT NULL,
	data       TEXT,
	ts         DATETIME NOT NULL,
	PRIMARY KEY (session_id, seq)
)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Store{db: db, ring: make(map[string][]session.Event)}, nil
}

// Append persists ev for sessionID and updates the in-memory ring.
// Satisfies session.EventSink.
func (s *Store) Append(ctx context.Context, sessionID string, ev session.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, seq, type, data, ts) VALUES (?, ?, ?, ?, ?)`,
		sessionID, ev.Seq, string(ev.Type), string(data), ev.Time,
	)
	if err != nil {
		return fmt.Errorf("eventlog: insert: %w", err)
	}

	s.mu.Lock()
	buf := append(s.ring[sessionID], ev)
	if len(buf) > ringSize {
		buf = buf[len(buf)-ringSize:]
	}
	s.ring[sessionID] = buf
	s.mu.Unlock()

	return nil
}

// Since returns every event for sessionID with seq > afterSeq, in
// ascending seq order, serving from the in-memory ring when it covers
// the requested range and falling back to sqlite otherwise (an SSE
// reconnect with a Last-Event-ID older than the ring horizon).
func (s *Store) Since(ctx context.Context, sessionID string, afterSeq int64) ([]session.Event, error) {
	s.mu.Lock()
	buf := s.ring[sessionID]
	s.mu.Unlock()

	if len(buf) > 0 && buf[0].Seq <= afterSeq+1 {
		out := make([]session.Event, 0, len(buf))
		for _, ev := range buf {
			if ev.Seq > afterSeq {
				out = append(out, ev)
			}
		}
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, type, data, ts FROM events WHERE session_id = ? AND seq > ? ORDER BY seq ASC`,
		sessionID, afterSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query since %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var out []session.Event
	for rows.Next() {
		var ev session.Event
		var data string
		if err := rows.Scan(&ev.Seq, &ev.Type, &data, &ev.Time); err != nil {
			return nil, fmt.Errorf("eventlog: scan row: %w", err)
		}
		if data != "" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal event data: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
