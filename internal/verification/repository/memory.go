package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"verification_backend/internal/verification/domain"
	"verification_backend/platform/apperr"

	"github.com/google/uuid"
)

// Memory is an in-process Store with the same conditional-write semantics
// as Repository.
type Memory struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   memoryState
}

type memoryState struct {
	cases       map[uuid.UUID]domain.Case
	submissions map[uuid.UUID][]Submission
	drafts      map[uuid.UUID]domain.DraftSession
	reviewers   map[uuid.UUID]domain.Reviewer
	teams       map[uuid.UUID]domain.Team
	seq         int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{st: memoryState{
		cases:       make(map[uuid.UUID]domain.Case),
		submissions: make(map[uuid.UUID][]Submission),
		drafts:      make(map[uuid.UUID]domain.DraftSession),
		reviewers:   make(map[uuid.UUID]domain.Reviewer),
		teams:       make(map[uuid.UUID]domain.Team),
	}}
}

var _ Store = (*Memory)(nil)

// AddReviewer registers a reviewer in the pool.
func (m *Memory) AddReviewer(r domain.Reviewer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.reviewers[r.ID] = r
}

// AddTeam registers a team.
func (m *Memory) AddTeam(t domain.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.teams[t.ID] = t
}

// InTx serializes transactions and rolls the state back when fn fails.
func (m *Memory) InTx(ctx context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.st.clone()
	m.mu.Unlock()

	if err := fn(memoryTx{m}); err != nil {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// memoryTx is the Store handed to InTx callbacks; nested InTx calls run inline.
type memoryTx struct {
	*Memory
}

func (t memoryTx) InTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.cases[id]
	if !ok {
		return domain.Case{}, apperr.NotFound(caseNotFoundMsg)
	}
	return cloneCase(c), nil
}

func (m *Memory) GetByAccessToken(ctx context.Context, token string) (domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.st.cases {
		if c.AccessToken == token {
			return cloneCase(c), nil
		}
	}
	return domain.Case{}, apperr.NotFound(caseNotFoundMsg)
}

func (m *Memory) Insert(ctx context.Context, c domain.Case) (domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.st.cases[c.ID]; exists {
		return domain.Case{}, apperr.Conflict("verification already exists")
	}
	for _, other := range m.st.cases {
		if other.AccessToken == c.AccessToken {
			return domain.Case{}, apperr.Conflict("access token already in use")
		}
	}
	if c.Version == 0 {
		c.Version = 1
	}
	m.st.cases[c.ID] = cloneCase(c)
	return cloneCase(c), nil
}

func (m *Memory) UpdateIfVersion(ctx context.Context, c domain.Case, expectedVersion, expectedRejectionCount int) (domain.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.st.cases[c.ID]
	if !ok || current.Version != expectedVersion || current.RejectionCount != expectedRejectionCount {
		return domain.Case{}, ErrVersionConflict
	}
	c.Version = current.Version + 1
	m.st.cases[c.ID] = cloneCase(c)
	return cloneCase(c), nil
}

func (m *Memory) CountActiveByReviewer(ctx context.Context) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := make(map[domain.Status]bool)
	for _, s := range domain.ActiveStatuses() {
		active[s] = true
	}
	counts := make(map[uuid.UUID]int)
	for _, c := range m.st.cases {
		if c.AssignedReviewerID != nil && active[c.Status] {
			counts[*c.AssignedReviewerID]++
		}
	}
	return counts, nil
}

func (m *Memory) ListLinkExpired(ctx context.Context, now time.Time, limit int) ([]domain.Case, error) {
	m.mu.Lock()
	var out []domain.Case
	for _, c := range m.st.cases {
		if c.Status.AwaitsCustomer() && c.LinkExpired(now) {
			out = append(out, cloneCase(c))
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccessTokenExpiry.Before(out[j].AccessTokenExpiry) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) List(ctx context.Context, filter CaseFilter) ([]domain.Case, int, error) {
	m.mu.Lock()
	var matched []domain.Case
	for _, c := range m.st.cases {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.PolicyType != nil && c.PolicyType != *filter.PolicyType {
			continue
		}
		if filter.ReviewerID != nil && (c.AssignedReviewerID == nil || *c.AssignedReviewerID != *filter.ReviewerID) {
			continue
		}
		matched = append(matched, cloneCase(c))
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	offset := max(filter.Offset, 0)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+normalizeLimit(filter.Limit), total)
	return matched[offset:end], total, nil
}

func (m *Memory) NextReference(ctx context.Context, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.seq++
	return FormatReference(now, m.st.seq), nil
}

func (m *Memory) InsertSubmission(ctx context.Context, s Submission) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Number = len(m.st.submissions[s.CaseID]) + 1
	s.Data = cloneData(s.Data)
	m.st.submissions[s.CaseID] = append(m.st.submissions[s.CaseID], s)
	out := s
	out.Data = cloneData(s.Data)
	return out, nil
}

func (m *Memory) LatestSubmission(ctx context.Context, caseID uuid.UUID) (Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.st.submissions[caseID]
	if len(list) == 0 {
		return Submission{}, false, nil
	}
	s := list[len(list)-1]
	s.Data = cloneData(s.Data)
	return s, true, nil
}

func (m *Memory) GetDraft(ctx context.Context, caseID uuid.UUID) (domain.DraftSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.st.drafts[caseID]
	if !ok {
		return domain.DraftSession{}, false, nil
	}
	return d.Clone(), true, nil
}

func (m *Memory) SaveDraft(ctx context.Context, d domain.DraftSession, expectedVersion int) (domain.DraftSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.st.drafts[d.CaseID]
	switch {
	case expectedVersion == 0 && ok:
		return domain.DraftSession{}, ErrVersionConflict
	case expectedVersion != 0 && (!ok || current.Version != expectedVersion):
		return domain.DraftSession{}, ErrVersionConflict
	}
	d.Version = expectedVersion + 1
	m.st.drafts[d.CaseID] = d.Clone()
	return d.Clone(), nil
}

func (m *Memory) ReplaceDraft(ctx context.Context, d domain.DraftSession) (domain.DraftSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Version = m.st.drafts[d.CaseID].Version + 1
	m.st.drafts[d.CaseID] = d.Clone()
	return d.Clone(), nil
}

func (m *Memory) ListReviewers(ctx context.Context) ([]domain.Reviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Reviewer, 0, len(m.st.reviewers))
	for _, r := range m.st.reviewers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) GetReviewer(ctx context.Context, id uuid.UUID) (domain.Reviewer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.st.reviewers[id]
	if !ok {
		return domain.Reviewer{}, apperr.NotFound(reviewerNotFoundMsg)
	}
	return r, nil
}

func (m *Memory) ListTeams(ctx context.Context) (map[uuid.UUID]domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]domain.Team, len(m.st.teams))
	for id, t := range m.st.teams {
		out[id] = t
	}
	return out, nil
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		cases:       make(map[uuid.UUID]domain.Case, len(s.cases)),
		submissions: make(map[uuid.UUID][]Submission, len(s.submissions)),
		drafts:      make(map[uuid.UUID]domain.DraftSession, len(s.drafts)),
		reviewers:   make(map[uuid.UUID]domain.Reviewer, len(s.reviewers)),
		teams:       make(map[uuid.UUID]domain.Team, len(s.teams)),
		seq:         s.seq,
	}
	for id, c := range s.cases {
		out.cases[id] = cloneCase(c)
	}
	for id, list := range s.submissions {
		out.submissions[id] = append([]Submission(nil), list...)
	}
	for id, d := range s.drafts {
		out.drafts[id] = d.Clone()
	}
	for id, r := range s.reviewers {
		out.reviewers[id] = r
	}
	for id, t := range s.teams {
		out.teams[id] = t
	}
	return out
}

func cloneCase(c domain.Case) domain.Case {
	out := c
	out.Policy = c.Policy.Clone()
	out.RejectionReason = c.RejectionReason.Clone()
	if c.SubmittedAt != nil {
		t := *c.SubmittedAt
		out.SubmittedAt = &t
	}
	if c.AssignedReviewerID != nil {
		id := *c.AssignedReviewerID
		out.AssignedReviewerID = &id
	}
	if c.Location != nil {
		loc := *c.Location
		out.Location = &loc
	}
	return out
}

func cloneData(data map[string]domain.CategoryData) map[string]domain.CategoryData {
	out := make(map[string]domain.CategoryData, len(data))
	for id, d := range data {
		out[id] = d.Clone()
	}
	return out
}
