package store

import (
	"context"
	"time"
)

var trustSchema = []string{
	`CREATE TABLE IF NOT EXISTS trust (
		name TEXT PRIMARY KEY,
		score REAL NOT NULL DEFAULT 50,
		completed INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		avg_completion_minutes REAL NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS trust_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		delta REAL NOT NULL,
		reason TEXT NOT NULL,
		old_score REAL NOT NULL,
		new_score REAL NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_trust_history_name ON trust_history(name, timestamp DESC);`,
}

// OutcomeKind is the kind of task outcome fed into trust scoring.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeFailed    OutcomeKind = "failed"
)

// outcomeDelta mirrors the deltas a delegation system typically applies:
// acceptance builds trust, rejection costs more than acceptance builds, and
// outright failure costs the most.
func outcomeDelta(kind OutcomeKind) float64 {
	switch kind {
	case OutcomeCompleted:
		return 2
	case OutcomeRejected:
		return -8
	case OutcomeFailed:
		return -15
	default:
		return 0
	}
}

// TrustHistoryEntry is one row of a trust score's audit trail.
type TrustHistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Delta     float64   `json:"delta"`
	Reason    string    `json:"reason"`
	Old       float64   `json:"old"`
	New       float64   `json:"new"`
}

// Trust is the per-account reputation record (spec §3).
type Trust struct {
	Name                 string  `json:"name"`
	Score                float64 `json:"score"`
	Completed            int     `json:"completed"`
	Rejected             int     `json:"rejected"`
	Failed               int     `json:"failed"`
	AvgCompletionMinutes float64 `json:"avgCompletionMinutes"`
}

// TrustStore persists Trust rows and their history.
type TrustStore struct {
	*base
	ctx context.Context
}

func OpenTrustStore(path string) (*TrustStore, error) {
	b, err := openBase(path, trustSchema)
	if err != nil {
		return nil, err
	}
	return &TrustStore{base: b, ctx: context.Background()}, nil
}

// RecordOutcome computes a delta for kind, clamps the resulting score to
// [0,100], appends a history row, and updates the running totals and
// average completion time.
func (s *TrustStore) RecordOutcome(name string, kind OutcomeKind, durationMinutes *float64, now time.Time) (Trust, error) {
	t, ok, err := s.Get(name)
	if err != nil {
		return Trust{}, err
	}
	if !ok {
		t = Trust{Name: name, Score: 50}
	}

	old := t.Score
	delta := outcomeDelta(kind)
	t.Score = clamp(old+delta, 0, 100)

	switch kind {
	case OutcomeCompleted:
		t.Completed++
		if durationMinutes != nil {
			n := t.Completed
			t.AvgCompletionMinutes = (t.AvgCompletionMinutes*float64(n-1) + *durationMinutes) / float64(n)
		}
	case OutcomeRejected:
		t.Rejected++
	case OutcomeFailed:
		t.Failed++
	}

	_, err = s.db.ExecContext(s.ctx,
		`INSERT INTO trust (name, score, completed, rejected, failed, avg_completion_minutes)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			score = excluded.score, completed = excluded.completed, rejected = excluded.rejected,
			failed = excluded.failed, avg_completion_minutes = excluded.avg_completion_minutes`,
		t.Name, t.Score, t.Completed, t.Rejected, t.Failed, t.AvgCompletionMinutes)
	if err != nil {
		return Trust{}, err
	}

	_, err = s.db.ExecContext(s.ctx,
		`INSERT INTO trust_history (name, timestamp, delta, reason, old_score, new_score) VALUES (?, ?, ?, ?, ?, ?)`,
		name, now.Format(time.RFC3339Nano), delta, string(kind), old, t.Score)
	if err != nil {
		return Trust{}, err
	}
	return t, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Get returns the trust record for name.
func (s *TrustStore) Get(name string) (Trust, bool, error) {
	row := s.db.QueryRowContext(s.ctx,
		`SELECT name, score, completed, rejected, failed, avg_completion_minutes FROM trust WHERE name = ?`, name)
	var t Trust
	if err := row.Scan(&t.Name, &t.Score, &t.Completed, &t.Rejected, &t.Failed, &t.AvgCompletionMinutes); err != nil {
		return Trust{}, false, nil
	}
	return t, true, nil
}

// GetAll returns every trust record.
func (s *TrustStore) GetAll() ([]Trust, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT name, score, completed, rejected, failed, avg_completion_minutes FROM trust`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trust
	for rows.Next() {
		var t Trust
		if err := rows.Scan(&t.Name, &t.Score, &t.Completed, &t.Rejected, &t.Failed, &t.AvgCompletionMinutes); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetHistory returns the most recent `limit` history rows for name,
// newest first.
func (s *TrustStore) GetHistory(name string, limit int) ([]TrustHistoryEntry, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT timestamp, delta, reason, old_score, new_score FROM trust_history
		 WHERE name = ? ORDER BY timestamp DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrustHistoryEntry
	for rows.Next() {
		var (
			e  TrustHistoryEntry
			ts string
		)
		if err := rows.Scan(&ts, &e.Delta, &e.Reason, &e.Old, &e.New); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = parsed
		out = append(out, e)
	}
	return out, rows.Err()
}
