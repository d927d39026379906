// Package tracestore records which simulated node delivered which message.
// Uses SQLite in WAL mode so a running simulation and the API can share it.
package tracestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// ErrNotFound is returned for a message that was never recorded as sent
var ErrNotFound = errors.New("tracestore: message not found")

// Send is one message originated by a node
type Send struct {
	MessageID  uuid.UUID
	Origin     string
	Text       string
	TimeToLive int32
	SentAt     time.Time
}

// Delivery is the first receipt of a message by a node
type Delivery struct {
	MessageID  uuid.UUID
	Node       string
	From       string
	TimeToLive int32
	ReceivedAt time.Time
	Duplicates int
}

// Coverage summarizes how far one message spread
type Coverage struct {
	Send
	Nodes      []string
	Duplicates int
	Latency    time.Duration // sent to last delivery
}

// Reached returns the number of nodes that delivered the message
func (c Coverage) Reached() int {
	return len(c.Nodes)
}

// Store wraps the trace database
type Store struct {
	db *sql.DB
}

// Open creates or opens dir/trace.db
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	dsn := filepath.Join(dir, "trace.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close shuts down the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sends (
			message_id TEXT PRIMARY KEY,
			origin     TEXT NOT NULL,
			text       TEXT NOT NULL DEFAULT '',
			ttl        INTEGER NOT NULL,
			sent_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sends_sent ON sends(sent_at)`,

		`CREATE TABLE IF NOT EXISTS deliveries (
			message_id  TEXT NOT NULL,
			node        TEXT NOT NULL,
			from_peer   TEXT NOT NULL,
			ttl         INTEGER NOT NULL,
			received_at INTEGER NOT NULL,
			duplicates  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (message_id, node)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_node ON deliveries(node)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// RecordSend stores a message originated by a node
func (s *Store) RecordSend(send Send) error {
	_, err := s.db.Exec(
		`INSERT INTO sends (message_id, origin, text, ttl, sent_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(message_id) DO NOTHING`,
		send.MessageID.String(), send.Origin, send.Text, send.TimeToLive, send.SentAt.UnixNano(),
	)
	return err
}

// RecordDelivery stores a receipt. A second receipt of the same message by
// the same node only bumps its duplicate count.
func (s *Store) RecordDelivery(d Delivery) error {
	_, err := s.db.Exec(
		`INSERT INTO deliveries (message_id, node, from_peer, ttl, received_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(message_id, node) DO UPDATE SET duplicates = duplicates + 1`,
		d.MessageID.String(), d.Node, d.From, d.TimeToLive, d.ReceivedAt.UnixNano(),
	)
	return err
}

// Messages returns every recorded send, oldest first
func (s *Store) Messages() ([]Send, error) {
	rows, err := s.db.Query(
		`SELECT message_id, origin, text, ttl, sent_at FROM sends ORDER BY sent_at, message_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sends []Send
	for rows.Next() {
		send, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		sends = append(sends, send)
	}
	return sends, rows.Err()
}

// Deliveries returns the receipts of one message ordered by arrival
func (s *Store) Deliveries(id uuid.UUID) ([]Delivery, error) {
	rows, err := s.db.Query(
		`SELECT node, from_peer, ttl, received_at, duplicates FROM deliveries
		 WHERE message_id = ? ORDER BY received_at, node`,
		id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d := Delivery{MessageID: id}
		var ts int64
		if err := rows.Scan(&d.Node, &d.From, &d.TimeToLive, &ts, &d.Duplicates); err != nil {
			return nil, err
		}
		d.ReceivedAt = time.Unix(0, ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Coverage reports the nodes a message reached
func (s *Store) Coverage(id uuid.UUID) (Coverage, error) {
	row := s.db.QueryRow(
		`SELECT message_id, origin, text, ttl, sent_at FROM sends WHERE message_id = ?`,
		id.String(),
	)
	send, err := scanSend(row)
	if err == sql.ErrNoRows {
		return Coverage{}, ErrNotFound
	}
	if err != nil {
		return Coverage{}, err
	}

	deliveries, err := s.Deliveries(id)
	if err != nil {
		return Coverage{}, err
	}

	c := Coverage{Send: send}
	for _, d := range deliveries {
		c.Nodes = append(c.Nodes, d.Node)
		c.Duplicates += d.Duplicates
		if lat := d.ReceivedAt.Sub(send.SentAt); lat > c.Latency {
			c.Latency = lat
		}
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSend(row scanner) (Send, error) {
	var send Send
	var id string
	var ts int64
	if err := row.Scan(&id, &send.Origin, &send.Text, &send.TimeToLive, &ts); err != nil {
		return Send{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Send{}, fmt.Errorf("corrupt message id %q: %w", id, err)
	}
	send.MessageID = parsed
	send.SentAt = time.Unix(0, ts)
	return send, nil
}
