// Package repository stores verification templates: the reusable category
// and question definitions a case snapshots at creation.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"verification_backend/internal/verification/domain"
	"verification_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const templateNotFoundMsg = "template not found"

// Template is a named, reusable policy definition.
type Template struct {
	ID         uuid.UUID             `json:"id"`
	Slug       string                `json:"slug"`
	Name       string                `json:"name"`
	PolicyType domain.PolicyType     `json:"policyType"`
	Policy     domain.PolicySnapshot `json:"policy"`
	Active     bool                  `json:"active"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// Repository is the template store.
type Repository interface {
	List(ctx context.Context, policyType *domain.PolicyType, activeOnly bool) ([]Template, error)
	GetByID(ctx context.Context, id uuid.UUID) (Template, error)
	// GetDefault returns the oldest active template of the policy type.
	GetDefault(ctx context.Context, policyType domain.PolicyType) (Template, error)
	// UpsertBySlug inserts or replaces the template with the same slug.
	UpsertBySlug(ctx context.Context, t Template) (Template, error)
}

// PgRepository is the PostgreSQL Repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// New creates a PostgreSQL template repository.
func New(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const templateColumns = `id, slug, name, policy_type, categories, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (Template, error) {
	var (
		t          Template
		policyType string
		raw        []byte
	)
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &policyType, &raw, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Template{}, err
	}
	t.PolicyType = domain.PolicyType(policyType)
	if err := json.Unmarshal(raw, &t.Policy.Categories); err != nil {
		return Template{}, fmt.Errorf("decode template categories: %w", err)
	}
	return t, nil
}

func (r *PgRepository) List(ctx context.Context, policyType *domain.PolicyType, activeOnly bool) ([]Template, error) {
	var pt *string
	if policyType != nil {
		s := string(*policyType)
		pt = &s
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM verification_templates
		WHERE ($1::text IS NULL OR policy_type = $1)
			AND (NOT $2 OR active)
		ORDER BY policy_type, name
	`, pt, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return out, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM verification_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, apperr.NotFound(templateNotFoundMsg)
	}
	if err != nil {
		return Template{}, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

func (r *PgRepository) GetDefault(ctx context.Context, policyType domain.PolicyType) (Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM verification_templates
		WHERE policy_type = $1 AND active
		ORDER BY created_at, slug
		LIMIT 1
	`, string(policyType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, apperr.NotFound("no active template for policy type " + string(policyType))
	}
	if err != nil {
		return Template{}, fmt.Errorf("failed to get default template: %w", err)
	}
	return t, nil
}

func (r *PgRepository) UpsertBySlug(ctx context.Context, t Template) (Template, error) {
	categories, err := json.Marshal(t.Policy.Categories)
	if err != nil {
		return Template{}, fmt.Errorf("encode template categories: %w", err)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	saved, err := scanTemplate(r.pool.QueryRow(ctx, `
		INSERT INTO verification_templates (id, slug, name, policy_type, categories, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name, policy_type = EXCLUDED.policy_type,
			categories = EXCLUDED.categories, active = EXCLUDED.active, updated_at = now()
		RETURNING `+templateColumns,
		t.ID, t.Slug, t.Name, string(t.PolicyType), categories, t.Active))
	if err != nil {
		return Template{}, fmt.Errorf("failed to upsert template %s: %w", t.Slug, err)
	}
	return saved, nil
}

// Memory is an in-process Repository.
type Memory struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]Template
	now       func() time.Time
}

// NewMemory creates an empty in-memory template store.
func NewMemory() *Memory {
	return &Memory{templates: make(map[uuid.UUID]Template), now: time.Now}
}

func (m *Memory) List(ctx context.Context, policyType *domain.PolicyType, activeOnly bool) ([]Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Template
	for _, t := range m.templates {
		if policyType != nil && t.PolicyType != *policyType {
			continue
		}
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PolicyType != out[j].PolicyType {
			return out[i].PolicyType < out[j].PolicyType
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return Template{}, apperr.NotFound(templateNotFoundMsg)
	}
	return cloneTemplate(t), nil
}

func (m *Memory) GetDefault(ctx context.Context, policyType domain.PolicyType) (Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Template
		found bool
	)
	for _, t := range m.templates {
		if t.PolicyType != policyType || !t.Active {
			continue
		}
		if !found || t.CreatedAt.Before(best.CreatedAt) || (t.CreatedAt.Equal(best.CreatedAt) && t.Slug < best.Slug) {
			best, found = t, true
		}
	}
	if !found {
		return Template{}, apperr.NotFound("no active template for policy type " + string(policyType))
	}
	return cloneTemplate(best), nil
}

func (m *Memory) UpsertBySlug(ctx context.Context, t Template) (Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, existing := range m.templates {
		if existing.Slug == t.Slug {
			t.ID, t.CreatedAt = id, existing.CreatedAt
			break
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m.templates[t.ID] = cloneTemplate(t)
	return cloneTemplate(t), nil
}

func cloneTemplate(t Template) Template {
	t.Policy = t.Policy.Clone()
	return t
}

var (
	_ Repository = (*PgRepository)(nil)
	_ Repository = (*Memory)(nil)
)
