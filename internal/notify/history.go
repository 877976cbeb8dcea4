package notify

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// HistoryStore persists notification events and their per-target delivery
// outcomes in SQLite. Only the latest event's payload is retained;
// delivery rows are kept for the audit trail.
type HistoryStore struct {
	mu  sync.Mutex
	db  *sql.DB
	log zerolog.Logger
}

const historySchema = `
CREATE TABLE IF NOT EXISTS notification_events (
    id TEXT PRIMARY KEY,
    channel TEXT NOT NULL,
    message TEXT,
    image BLOB,
    created_at REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS notification_deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    target TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT,
    created_at REAL NOT NULL
);
`

// NewHistoryStore opens (and migrates) the store at path.
func NewHistoryStore(path string, log zerolog.Logger) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open notification history: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate notification history: %w", err)
	}

	return &HistoryStore{
		db:  db,
		log: log.With().Str("component", "notification_history").Logger(),
	}, nil
}

// RecordEvent stores a new event and prunes older ones, returning the
// event id for delivery records.
func (s *HistoryStore) RecordEvent(channel, message string, image []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := float64(time.Now().UnixMilli()) / 1000

	if _, err := s.db.Exec(
		`INSERT INTO notification_events (id, channel, message, image, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, channel, message, image, now,
	); err != nil {
		s.log.Error().Err(err).Msg("Failed to record notification event")
		return id
	}
	if _, err := s.db.Exec(`DELETE FROM notification_events WHERE id != ?`, id); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune notification events")
	}
	return id
}

// RecordDelivery stores the outcome of one delivery attempt.
func (s *HistoryStore) RecordDelivery(eventID, target, status, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := float64(time.Now().UnixMilli()) / 1000
	if _, err := s.db.Exec(
		`INSERT INTO notification_deliveries (event_id, target, status, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, target, status, detail, now,
	); err != nil {
		s.log.Error().Err(err).Msg("Failed to record notification delivery")
	}
}

// Delivery is one recorded delivery attempt.
type Delivery struct {
	EventID string
	Target  string
	Status  string
	Detail  string
}

// LatestEvent returns the retained event's channel and message, or ok
// false when nothing has been recorded.
func (s *HistoryStore) LatestEvent() (channel, message string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT channel, message FROM notification_events ORDER BY created_at DESC LIMIT 1`)
	if err := row.Scan(&channel, &message); err != nil {
		return "", "", false
	}
	return channel, message, true
}

// Deliveries lists recorded deliveries, newest first, up to limit.
func (s *HistoryStore) Deliveries(limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT event_id, target, status, COALESCE(detail, '') FROM notification_deliveries ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.EventID, &d.Target, &d.Status, &d.Detail); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close releases the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
