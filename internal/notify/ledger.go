package notify

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// Delivery is one attempt to tell a patient about a queue event.
type Delivery struct {
	TicketID   string
	Hospital   string
	Department string
	EventType  string
	Events     int
	Recipient  string
	Status     DeliveryStatus
	ProviderID string
	Error      string
	At         time.Time
}

type LedgerStats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByType      map[string]int `json:"by_type"`
	SentLast24h int            `json:"sent_last_24h"`
}

// Ledger keeps a local SQLite record of every delivery attempt.
type Ledger struct {
	db *sql.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id TEXT NOT NULL,
	hospital TEXT NOT NULL,
	department TEXT NOT NULL,
	event_type TEXT NOT NULL,
	events INTEGER NOT NULL DEFAULT 1,
	recipient TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	provider_id TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_ticket ON deliveries(ticket_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status, created_at);
`

func OpenLedger(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return NewLedger(db), nil
}

// NewLedger wraps an already prepared database.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Record(ctx context.Context, d Delivery) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	if d.Events <= 0 {
		d.Events = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO deliveries (ticket_id, hospital, department, event_type, events, recipient, status, provider_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.TicketID, d.Hospital, d.Department, d.EventType, d.Events, d.Recipient, string(d.Status), d.ProviderID, d.Error, d.At.UTC())
	return err
}

func (l *Ledger) Stats(ctx context.Context) (LedgerStats, error) {
	stats := LedgerStats{ByStatus: map[string]int{}, ByType: map[string]int{}}

	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deliveries").Scan(&stats.Total); err != nil {
		return stats, err
	}
	if err := l.countInto(ctx, "SELECT status, COUNT(*) FROM deliveries GROUP BY status", stats.ByStatus); err != nil {
		return stats, err
	}
	if err := l.countInto(ctx, "SELECT event_type, COUNT(*) FROM deliveries GROUP BY event_type", stats.ByType); err != nil {
		return stats, err
	}
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM deliveries WHERE status = ? AND created_at > ?",
		string(DeliverySent), time.Now().UTC().Add(-24*time.Hour)).Scan(&stats.SentLast24h)
	return stats, err
}

func (l *Ledger) countInto(ctx context.Context, query string, out map[string]int) error {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		out[key] = count
	}
	return rows.Err()
}
