package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"verification_backend/internal/verification/domain"
	"verification_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// New creates a PostgreSQL backed store.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

var _ Store = (*Repository)(nil)

// InTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx Store) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Repository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const caseColumns = `id, reference, customer_name, customer_email, customer_phone, status, policy_type,
	template_id, policy, submitted_at, created_at, updated_at, rejection_count, rejection_reason,
	access_token, access_token_expiry, assigned_reviewer_id, latitude, longitude, version`

func scanCase(row pgx.Row) (domain.Case, error) {
	var (
		c          domain.Case
		status     string
		policyType string
		policyRaw  []byte
		reasonRaw  []byte
		lat, lng   *float64
	)
	err := row.Scan(
		&c.ID, &c.Reference, &c.Customer.Name, &c.Customer.Email, &c.Customer.Phone,
		&status, &policyType, &c.TemplateID, &policyRaw, &c.SubmittedAt, &c.CreatedAt, &c.UpdatedAt,
		&c.RejectionCount, &reasonRaw, &c.AccessToken, &c.AccessTokenExpiry, &c.AssignedReviewerID,
		&lat, &lng, &c.Version,
	)
	if err != nil {
		return domain.Case{}, err
	}
	c.Status = domain.Status(status)
	c.PolicyType = domain.PolicyType(policyType)
	if len(policyRaw) > 0 {
		if err := json.Unmarshal(policyRaw, &c.Policy); err != nil {
			return domain.Case{}, fmt.Errorf("decode policy snapshot: %w", err)
		}
	}
	if len(reasonRaw) > 0 {
		if err := json.Unmarshal(reasonRaw, &c.RejectionReason); err != nil {
			return domain.Case{}, fmt.Errorf("decode rejection reason: %w", err)
		}
	}
	if lat != nil && lng != nil {
		c.Location = &domain.GeoPoint{Latitude: *lat, Longitude: *lng}
	}
	return c, nil
}

// caseArgs marshals the JSON columns and splits the location.
func caseArgs(c domain.Case) (policy []byte, reason []byte, lat, lng *float64, err error) {
	policy, err = json.Marshal(c.Policy)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode policy snapshot: %w", err)
	}
	if c.RejectionReason != nil {
		reason, err = json.Marshal(c.RejectionReason)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode rejection reason: %w", err)
		}
	}
	if c.Location != nil {
		lat, lng = &c.Location.Latitude, &c.Location.Longitude
	}
	return policy, reason, lat, lng, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Case, error) {
	c, err := scanCase(r.q.QueryRow(ctx, `SELECT `+caseColumns+` FROM verification_cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Case{}, apperr.NotFound(caseNotFoundMsg)
	}
	if err != nil {
		return domain.Case{}, fmt.Errorf("failed to get verification: %w", err)
	}
	return c, nil
}

func (r *Repository) GetByAccessToken(ctx context.Context, token string) (domain.Case, error) {
	c, err := scanCase(r.q.QueryRow(ctx, `SELECT `+caseColumns+` FROM verification_cases WHERE access_token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Case{}, apperr.NotFound(caseNotFoundMsg)
	}
	if err != nil {
		return domain.Case{}, fmt.Errorf("failed to get verification by token: %w", err)
	}
	return c, nil
}

func (r *Repository) Insert(ctx context.Context, c domain.Case) (domain.Case, error) {
	policy, reason, lat, lng, err := caseArgs(c)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Version == 0 {
		c.Version = 1
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO verification_cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		c.ID, c.Reference, c.Customer.Name, c.Customer.Email, c.Customer.Phone,
		string(c.Status), string(c.PolicyType), c.TemplateID, policy, c.SubmittedAt, c.CreatedAt, c.UpdatedAt,
		c.RejectionCount, reason, c.AccessToken, c.AccessTokenExpiry, c.AssignedReviewerID, lat, lng, c.Version,
	)
	if err != nil {
		return domain.Case{}, fmt.Errorf("failed to insert verification: %w", err)
	}
	return c, nil
}

func (r *Repository) UpdateIfVersion(ctx context.Context, c domain.Case, expectedVersion, expectedRejectionCount int) (domain.Case, error) {
	policy, reason, lat, lng, err := caseArgs(c)
	if err != nil {
		return domain.Case{}, err
	}

	var version int
	err = r.q.QueryRow(ctx, `
		UPDATE verification_cases SET
			status = $2,
			submitted_at = $3,
			created_at = $4,
			updated_at = $5,
			rejection_count = $6,
			rejection_reason = $7,
			access_token = $8,
			access_token_expiry = $9,
			assigned_reviewer_id = $10,
			policy = $11,
			latitude = $12,
			longitude = $13,
			version = version + 1
		WHERE id = $1 AND version = $14 AND rejection_count = $15
		RETURNING version
	`,
		c.ID, string(c.Status), c.SubmittedAt, c.CreatedAt, c.UpdatedAt, c.RejectionCount, reason,
		c.AccessToken, c.AccessTokenExpiry, c.AssignedReviewerID, policy, lat, lng,
		expectedVersion, expectedRejectionCount,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Case{}, ErrVersionConflict
	}
	if err != nil {
		return domain.Case{}, fmt.Errorf("failed to update verification: %w", err)
	}
	c.Version = version
	return c, nil
}

func (r *Repository) CountActiveByReviewer(ctx context.Context) (map[uuid.UUID]int, error) {
	rows, err := r.q.Query(ctx, `
		SELECT assigned_reviewer_id, COUNT(*)
		FROM verification_cases
		WHERE assigned_reviewer_id IS NOT NULL AND status = ANY($1)
		GROUP BY assigned_reviewer_id
	`, activeStatusStrings())
	if err != nil {
		return nil, fmt.Errorf("failed to count active verifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan active count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count active verifications: %w", err)
	}
	return counts, nil
}

func (r *Repository) ListLinkExpired(ctx context.Context, now time.Time, limit int) ([]domain.Case, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+caseColumns+`
		FROM verification_cases
		WHERE status = ANY($1) AND access_token_expiry < $2
		ORDER BY access_token_expiry
		LIMIT $3
	`, awaitingCustomerStrings(), now, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired links: %w", err)
	}
	defer rows.Close()

	var cases []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list expired links: %w", err)
	}
	return cases, nil
}

func (r *Repository) List(ctx context.Context, filter CaseFilter) ([]domain.Case, int, error) {
	var status, policyType *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	if filter.PolicyType != nil {
		p := string(*filter.PolicyType)
		policyType = &p
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+caseColumns+`, COUNT(*) OVER()
		FROM verification_cases
		WHERE ($1::text IS NULL OR status = $1)
			AND ($2::uuid IS NULL OR assigned_reviewer_id = $2)
			AND ($3::text IS NULL OR policy_type = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5
	`, status, filter.ReviewerID, policyType, normalizeLimit(filter.Limit), max(filter.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	var (
		cases []domain.Case
		total int
	)
	for rows.Next() {
		c, err := scanCase(totalRow{rows: rows, total: &total})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan verification: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list verifications: %w", err)
	}
	return cases, total, nil
}

// totalRow appends the window count column to a case scan.
type totalRow struct {
	rows  pgx.Rows
	total *int
}

func (t totalRow) Scan(dest ...any) error {
	return t.rows.Scan(append(dest, t.total)...)
}

func (r *Repository) NextReference(ctx context.Context, now time.Time) (string, error) {
	var seq int64
	if err := r.q.QueryRow(ctx, `SELECT nextval('verification_reference_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("failed to allocate reference: %w", err)
	}
	return FormatReference(now, seq), nil
}

// FormatReference renders the human readable case reference.
func FormatReference(now time.Time, seq int64) string {
	return fmt.Sprintf("VRF-%d-%06d", now.Year(), seq)
}

func (r *Repository) InsertSubmission(ctx context.Context, s Submission) (Submission, error) {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return Submission{}, fmt.Errorf("encode submission: %w", err)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	err = r.q.QueryRow(ctx, `
		INSERT INTO verification_submissions (id, case_id, number, round, data, submitted_at)
		VALUES ($1, $2, COALESCE((SELECT MAX(number) FROM verification_submissions WHERE case_id = $2), 0) + 1, $3, $4, $5)
		RETURNING number
	`, s.ID, s.CaseID, s.Round, data, s.SubmittedAt).Scan(&s.Number)
	if err != nil {
		return Submission{}, fmt.Errorf("failed to insert submission: %w", err)
	}
	return s, nil
}

func (r *Repository) LatestSubmission(ctx context.Context, caseID uuid.UUID) (Submission, bool, error) {
	var (
		s   Submission
		raw []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, case_id, number, round, data, submitted_at
		FROM verification_submissions
		WHERE case_id = $1
		ORDER BY number DESC
		LIMIT 1
	`, caseID).Scan(&s.ID, &s.CaseID, &s.Number, &s.Round, &raw, &s.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, fmt.Errorf("failed to get latest submission: %w", err)
	}
	if err := json.Unmarshal(raw, &s.Data); err != nil {
		return Submission{}, false, fmt.Errorf("decode submission: %w", err)
	}
	return s, true, nil
}

func (r *Repository) GetDraft(ctx context.Context, caseID uuid.UUID) (domain.DraftSession, bool, error) {
	var (
		d   domain.DraftSession
		raw []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT case_id, round, data, version, updated_at
		FROM verification_drafts
		WHERE case_id = $1
	`, caseID).Scan(&d.CaseID, &d.Round, &raw, &d.Version, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DraftSession{}, false, nil
	}
	if err != nil {
		return domain.DraftSession{}, false, fmt.Errorf("failed to get draft: %w", err)
	}
	if err := json.Unmarshal(raw, &d.Categories); err != nil {
		return domain.DraftSession{}, false, fmt.Errorf("decode draft: %w", err)
	}
	if d.Categories == nil {
		d.Categories = make(map[string]domain.CategoryData)
	}
	return d, true, nil
}

func (r *Repository) SaveDraft(ctx context.Context, d domain.DraftSession, expectedVersion int) (domain.DraftSession, error) {
	data, err := json.Marshal(d.Categories)
	if err != nil {
		return domain.DraftSession{}, fmt.Errorf("encode draft: %w", err)
	}

	var version int
	if expectedVersion == 0 {
		err = r.q.QueryRow(ctx, `
			INSERT INTO verification_drafts (case_id, round, data, version, updated_at)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (case_id) DO NOTHING
			RETURNING version
		`, d.CaseID, d.Round, data, d.UpdatedAt).Scan(&version)
	} else {
		err = r.q.QueryRow(ctx, `
			UPDATE verification_drafts
			SET round = $2, data = $3, version = version + 1, updated_at = $4
			WHERE case_id = $1 AND version = $5
			RETURNING version
		`, d.CaseID, d.Round, data, d.UpdatedAt, expectedVersion).Scan(&version)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DraftSession{}, ErrVersionConflict
	}
	if err != nil {
		return domain.DraftSession{}, fmt.Errorf("failed to save draft: %w", err)
	}
	d.Version = version
	return d, nil
}

func (r *Repository) ReplaceDraft(ctx context.Context, d domain.DraftSession) (domain.DraftSession, error) {
	data, err := json.Marshal(d.Categories)
	if err != nil {
		return domain.DraftSession{}, fmt.Errorf("encode draft: %w", err)
	}

	err = r.q.QueryRow(ctx, `
		INSERT INTO verification_drafts (case_id, round, data, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (case_id) DO UPDATE
		SET round = EXCLUDED.round, data = EXCLUDED.data,
			version = verification_drafts.version + 1, updated_at = EXCLUDED.updated_at
		RETURNING version
	`, d.CaseID, d.Round, data, d.UpdatedAt).Scan(&d.Version)
	if err != nil {
		return domain.DraftSession{}, fmt.Errorf("failed to replace draft: %w", err)
	}
	return d, nil
}

const reviewerColumns = `id, name, email, active, specialization, team_id`

func scanReviewer(row pgx.Row) (domain.Reviewer, error) {
	var (
		rv             domain.Reviewer
		specialization *string
	)
	if err := row.Scan(&rv.ID, &rv.Name, &rv.Email, &rv.Active, &specialization, &rv.TeamID); err != nil {
		return domain.Reviewer{}, err
	}
	if specialization != nil {
		pt := domain.PolicyType(*specialization)
		rv.Specialization = &pt
	}
	return rv, nil
}

func (r *Repository) ListReviewers(ctx context.Context) ([]domain.Reviewer, error) {
	rows, err := r.q.Query(ctx, `SELECT `+reviewerColumns+` FROM verification_reviewers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviewers: %w", err)
	}
	defer rows.Close()

	var reviewers []domain.Reviewer
	for rows.Next() {
		rv, err := scanReviewer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reviewer: %w", err)
		}
		reviewers = append(reviewers, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list reviewers: %w", err)
	}
	return reviewers, nil
}

func (r *Repository) GetReviewer(ctx context.Context, id uuid.UUID) (domain.Reviewer, error) {
	rv, err := scanReviewer(r.q.QueryRow(ctx, `SELECT `+reviewerColumns+` FROM verification_reviewers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reviewer{}, apperr.NotFound(reviewerNotFoundMsg)
	}
	if err != nil {
		return domain.Reviewer{}, fmt.Errorf("failed to get reviewer: %w", err)
	}
	return rv, nil
}

func (r *Repository) ListTeams(ctx context.Context) (map[uuid.UUID]domain.Team, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, policy_types FROM verification_teams`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	teams := make(map[uuid.UUID]domain.Team)
	for rows.Next() {
		var (
			t     domain.Team
			types []string
		)
		if err := rows.Scan(&t.ID, &t.Name, &types); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		for _, pt := range types {
			t.PolicyTypes = append(t.PolicyTypes, domain.PolicyType(pt))
		}
		teams[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}
