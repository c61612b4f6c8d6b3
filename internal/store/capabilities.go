package store

import (
	"context"
	"encoding/json"
	"time"
)

var capabilitySchema = []string{
	`CREATE TABLE IF NOT EXISTS capabilities (
		name TEXT PRIMARY KEY,
		skills TEXT NOT NULL DEFAULT '[]',
		provider TEXT,
		total_completed INTEGER NOT NULL DEFAULT 0,
		total_accepted INTEGER NOT NULL DEFAULT 0,
		avg_delivery_ms REAL NOT NULL DEFAULT 0,
		last_active_at TEXT
	);`,
}

// Capability is the per-account skill/performance record (spec §3).
type Capability struct {
	Name          string    `json:"name"`
	Skills        []string  `json:"skills"`
	Provider      string    `json:"provider,omitempty"`
	TotalAccepted int       `json:"totalAccepted"`
	TotalDelivered int      `json:"totalDelivered"`
	AvgDeliveryMs float64   `json:"avgDeliveryMs"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
}

// CapabilityStore persists Capability rows, upserted by name.
type CapabilityStore struct {
	*base
	ctx context.Context
}

func OpenCapabilityStore(path string) (*CapabilityStore, error) {
	b, err := openBase(path, capabilitySchema)
	if err != nil {
		return nil, err
	}
	return &CapabilityStore{base: b, ctx: context.Background()}, nil
}

// Upsert inserts or replaces the skills/provider for name, preserving
// accumulated totals.
func (s *CapabilityStore) Upsert(name string, skills []string, provider string) error {
	if name == "" {
		return ErrCapabilityName
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(s.ctx,
		`INSERT INTO capabilities (name, skills, provider) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET skills = excluded.skills, provider = excluded.provider`,
		name, string(skillsJSON), provider)
	return err
}

// RecordTaskCompletion updates totals and the running mean delivery time:
// avg' = (avg*n + d) / (n+1), and refreshes lastActiveAt.
func (s *CapabilityStore) RecordTaskCompletion(name string, accepted bool, deliveryMs float64, now time.Time) error {
	c, ok, err := s.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		c = Capability{Name: name}
	}
	n := c.TotalDelivered
	c.AvgDeliveryMs = (c.AvgDeliveryMs*float64(n) + deliveryMs) / float64(n+1)
	c.TotalDelivered = n + 1
	if accepted {
		c.TotalAccepted++
	}
	c.LastActiveAt = now

	_, err = s.db.ExecContext(s.ctx,
		`INSERT INTO capabilities (name, skills, provider, total_completed, total_accepted, avg_delivery_ms, last_active_at)
		 VALUES (?, '[]', '', ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			total_completed = excluded.total_completed,
			total_accepted = excluded.total_accepted,
			avg_delivery_ms = excluded.avg_delivery_ms,
			last_active_at = excluded.last_active_at`,
		name, c.TotalDelivered, c.TotalAccepted, c.AvgDeliveryMs, now.Format(time.RFC3339Nano))
	return err
}

// TouchActive refreshes lastActiveAt without changing totals.
func (s *CapabilityStore) TouchActive(name string, now time.Time) error {
	_, err := s.db.ExecContext(s.ctx,
		`INSERT INTO capabilities (name, skills, provider, last_active_at) VALUES (?, '[]', '', ?)
		 ON CONFLICT(name) DO UPDATE SET last_active_at = excluded.last_active_at`,
		name, now.Format(time.RFC3339Nano))
	return err
}

// Get returns the capability record for name.
func (s *CapabilityStore) Get(name string) (Capability, bool, error) {
	row := s.db.QueryRowContext(s.ctx,
		`SELECT name, skills, provider, total_accepted, total_completed, avg_delivery_ms, last_active_at
		 FROM capabilities WHERE name = ?`, name)
	return scanCapability(row)
}

// All returns every capability record.
func (s *CapabilityStore) All() ([]Capability, error) {
	rows, err := s.db.QueryContext(s.ctx,
		`SELECT name, skills, provider, total_accepted, total_completed, avg_delivery_ms, last_active_at FROM capabilities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCapability(row scanner) (Capability, bool, error) {
	var (
		c          Capability
		skillsJSON string
		provider   *string
		lastActive *string
	)
	if err := row.Scan(&c.Name, &skillsJSON, &provider, &c.TotalAccepted, &c.TotalDelivered, &c.AvgDeliveryMs, &lastActive); err != nil {
		return Capability{}, false, nil
	}
	_ = json.Unmarshal([]byte(skillsJSON), &c.Skills)
	if provider != nil {
		c.Provider = *provider
	}
	if lastActive != nil {
		if t, err := time.Parse(time.RFC3339Nano, *lastActive); err == nil {
			c.LastActiveAt = t
		}
	}
	return c, true, nil
}
