package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one line of a case's audit trail.
type Entry struct {
	ID         int64          `json:"id"`
	CaseID     uuid.UUID      `json:"caseId"`
	Event      string         `json:"event"`
	FromStatus *string        `json:"fromStatus,omitempty"`
	ToStatus   *string        `json:"toStatus,omitempty"`
	ActorID    *uuid.UUID     `json:"actorId,omitempty"`
	Details    map[string]any `json:"details"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Store persists and reads audit entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]Entry, error)
}

// PgStore writes to verification_audit_log.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates the PostgreSQL audit store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Append(ctx context.Context, e Entry) error {
	details, err := json.Marshal(detailsOrEmpty(e.Details))
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verification_audit_log (case_id, event, from_status, to_status, actor_id, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.CaseID, e.Event, e.FromStatus, e.ToStatus, e.ActorID, details, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *PgStore) ListByCase(ctx context.Context, caseID uuid.UUID) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, event, from_status, to_status, actor_id, details, occurred_at
		FROM verification_audit_log
		WHERE case_id = $1
		ORDER BY occurred_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Event, &e.FromStatus, &e.ToStatus, &e.ActorID, &details, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// MemoryStore keeps the trail in memory for tests and database-less runs.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []Entry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	e.Details = detailsOrEmpty(e.Details)
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) ListByCase(_ context.Context, caseID uuid.UUID) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func detailsOrEmpty(details map[string]any) map[string]any {
	if details == nil {
		return map[string]any{}
	}
	return details
}

var (
	_ Store = (*PgStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
