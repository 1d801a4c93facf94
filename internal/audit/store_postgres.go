package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists audit events through database/sql. The audit trail
// is append-only and outside the distribution transaction: losing an event to
// a crash is acceptable, mutating ledger state to save one is not.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a database/sql handle for the audit trail.
func OpenPostgres(url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit db ping failed: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing handle; used by tests.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, donation_id, subject, amount, detail, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		event.ID, event.Action, event.DonationID, event.Subject, event.Amount, event.Detail, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByDonation(ctx context.Context, donationID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, COALESCE(donation_id, ''), subject, amount, detail, created_at
		   FROM audit_events WHERE donation_id = $1 ORDER BY created_at`, donationID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Action, &e.DonationID, &e.Subject, &e.Amount, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }
