package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// History is the SQLite (WAL mode) log of mesh traffic: decoded
// messages and peer sightings. The node runs fine without it; it only
// backs the `history` query command and post-hoc diagnostics.
type History struct {
	db *sql.DB
}

// Message is one received (or sent) mesh payload.
type Message struct {
	ID         int64     `json:"id"`
	Src        uint16    `json:"src"`
	Dst        uint16    `json:"dst"`
	Type       string    `json:"type"`
	Outbound   bool      `json:"outbound"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    src         INTEGER NOT NULL,
    dst         INTEGER NOT NULL,
    type        TEXT    NOT NULL,
    outbound    INTEGER NOT NULL DEFAULT 0,
    payload     BLOB    NOT NULL,
    received_at INTEGER NOT NULL            -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages (received_at DESC);
`

const ddlSightings = `
CREATE TABLE IF NOT EXISTS peer_sightings (
    node_id   INTEGER PRIMARY KEY,
    first_seen INTEGER NOT NULL,            -- Unix seconds
    last_seen  INTEGER NOT NULL,
    frames     INTEGER NOT NULL DEFAULT 0
);
`

// OpenHistory opens (or creates) the history database at path.
func OpenHistory(path string) (*History, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open history %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("storage: ping history: %w", err)
	}
	// One writer; WAL still allows concurrent readers.
	db.SetMaxOpenConns(1)
	for _, ddl := range []string{ddlMessages, ddlSightings} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("storage: migrate history: %w", err)
		}
	}
	return &History{db: db}, nil
}

// Close releases the database handle.
func (h *History) Close() error { return h.db.Close() }

// InsertMessage records one message and returns its row id.
func (h *History) InsertMessage(m *Message) (int64, error) {
	out := 0
	if m.Outbound {
		out = 1
	}
	res, err := h.db.Exec(
		`INSERT INTO messages (src, dst, type, outbound, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Src, m.Dst, m.Type, out, m.Payload, m.ReceivedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("storage: insert message: %w", err)
	}
	return res.LastInsertId()
}

// RecentMessages returns the n newest messages, newest first.
func (h *History) RecentMessages(n int) ([]*Message, error) {
	rows, err := h.db.Query(
		`SELECT id, src, dst, type, outbound, payload, received_at
		 FROM messages ORDER BY received_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("storage: query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m        Message
			outbound int
			ms       int64
		)
		if err := rows.Scan(&m.ID, &m.Src, &m.Dst, &m.Type, &outbound, &m.Payload, &ms); err != nil {
			return nil, err
		}
		m.Outbound = outbound == 1
		m.ReceivedAt = time.UnixMilli(ms)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// RecordSighting upserts a peer sighting, bumping its frame count.
func (h *History) RecordSighting(nodeID uint16, at time.Time) error {
	_, err := h.db.Exec(
		`INSERT INTO peer_sightings (node_id, first_seen, last_seen, frames)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(node_id) DO UPDATE
		   SET last_seen = excluded.last_seen,
		       frames    = frames + 1`,
		nodeID, at.Unix(), at.Unix())
	if err != nil {
		return fmt.Errorf("storage: record sighting: %w", err)
	}
	return nil
}
