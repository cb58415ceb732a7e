package outcome

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shohag/pushbridge/internal/models"
)

// SQLiteStore persists terminal outcomes for audit and serves aggregate
// delivery stats.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			token TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_event ON outcomes(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Record(ctx context.Context, o models.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (event_id, recipient_id, token, status, reason, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.EventID, o.RecipientID, string(o.Token), string(o.Status), o.Reason, o.Attempts, o.At,
	)
	return err
}

func (s *SQLiteStore) ListByEvent(ctx context.Context, eventID string) ([]models.Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, recipient_id, token, status, reason, attempts, created_at
		 FROM outcomes WHERE event_id = ? ORDER BY id`, eventID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var token, status string
		if err := rows.Scan(&o.EventID, &o.RecipientID, &token, &status, &o.Reason, &o.Attempts, &o.At); err != nil {
			return nil, err
		}
		o.Token = models.Token(token)
		o.Status = models.DispatchStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

type Stats struct {
	Total       int64   `json:"total"`
	Delivered   int64   `json:"delivered"`
	Permanent   int64   `json:"permanent"`
	Exhausted   int64   `json:"exhausted"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'permanent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'exhausted' THEN 1 ELSE 0 END), 0)
		FROM outcomes`,
	).Scan(&st.Total, &st.Delivered, &st.Permanent, &st.Exhausted)
	if err != nil {
		return nil, err
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Delivered) / float64(st.Total)
	}
	return &st, nil
}
