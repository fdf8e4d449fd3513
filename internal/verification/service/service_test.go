package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"verification_backend/internal/adapters/linktoken"
	"verification_backend/internal/adapters/storage"
	"verification_backend/internal/events"
	"verification_backend/internal/scheduler"
	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/repository"
	"verification_backend/internal/verification/transport"
	"verification_backend/platform/apperr"
	"verification_backend/platform/logger"

	"github.com/google/uuid"
)

// =============================================================================
// Fakes
// =============================================================================

type testConfig struct{}

func (testConfig) GetVerificationLinkTTL() time.Duration { return 7 * 24 * time.Hour }
func (testConfig) GetVerificationMaxRejections() int     { return 4 }
func (testConfig) GetVerificationTeamRouting() bool      { return true }
func (testConfig) GetPublicLinkBaseURL() string          { return "https://verify.example.com" }
func (testConfig) GetMinioBucketEvidence() string        { return "evidence" }
func (testConfig) GetMinIOMaxFileSize() int64            { return 10 << 20 }

type testPolicies struct {
	templateID uuid.UUID
	policy     domain.PolicySnapshot
}

func (p testPolicies) ResolvePolicy(_ context.Context, _ *uuid.UUID, _ domain.PolicyType) (ResolvedPolicy, error) {
	return ResolvedPolicy{TemplateID: p.templateID, Name: "Property", Policy: p.policy}, nil
}

type testStorage struct {
	objects map[string][]byte
}

func (s *testStorage) GenerateUploadURL(_ context.Context, bucket, folder, fileName, _ string, _ int64) (*storage.PresignedURL, error) {
	key := storage.ObjectKey(folder, fileName, uuid.New())
	return &storage.PresignedURL{URL: "https://minio.local/" + bucket + "/" + key, FileKey: key, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *testStorage) GenerateDownloadURL(_ context.Context, bucket, fileKey string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://minio.local/" + bucket + "/" + fileKey, FileKey: fileKey}, nil
}

func (s *testStorage) DownloadFile(_ context.Context, _ string, fileKey string) (io.ReadCloser, error) {
	data, ok := s.objects[fileKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *testStorage) EnsureBucketExists(context.Context, string) error { return nil }

type testExpiry struct {
	mu       sync.Mutex
	payloads []scheduler.LinkExpiryPayload
	runAt    []time.Time
}

func (e *testExpiry) ScheduleLinkExpiry(_ context.Context, payload scheduler.LinkExpiryPayload, runAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	e.runAt = append(e.runAt, runAt)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventName())
	}
	return out
}

// =============================================================================
// Fixture
// =============================================================================

func testPolicy() domain.PolicySnapshot {
	return domain.PolicySnapshot{Categories: []domain.Category{
		{
			ID:    "exterior",
			Title: "Exterior",
			Photos: []domain.PhotoRequirement{
				{FieldID: "front", Label: "Front view", Required: true},
				{FieldID: "street", Label: "Street view", Required: true, CaptureGPS: true},
			},
			Questions: []domain.Question{
				{
					ID: "has_pool", Prompt: "Is there a swimming pool?", Type: domain.QuestionYesNo, Required: true,
					Conditional: domain.WhenOperator(domain.OpEqual, domain.TextScalar(domain.AnswerYes), domain.PhotoRequirement{FieldID: "pool_photo", Label: "Pool", Required: true}),
				},
			},
		},
		{
			ID:    "damage",
			Title: "Damage",
			Questions: []domain.Question{
				{
					ID: "damage_count", Prompt: "How many damaged spots?", Type: domain.QuestionNumber, Required: true,
					Conditional: domain.WhenDynamic(domain.OpGreater, domain.NumberScalar(0), domain.PhotoRequirement{FieldID: "damage_photo", Label: "Damage Photo #"}),
				},
			},
		},
	}}
}

type fixture struct {
	svc      *Service
	store    *repository.Memory
	storage  *testStorage
	expiry   *testExpiry
	bus      *events.InMemoryBus
	recorder *eventRecorder
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewWithWriter("test", io.Discard)
	f := &fixture{
		store:    repository.NewMemory(),
		storage:  &testStorage{objects: make(map[string][]byte)},
		expiry:   &testExpiry{},
		bus:      events.NewInMemoryBus(log),
		recorder: &eventRecorder{},
		clock:    &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, name := range []string{
		events.NameVerificationCreated,
		events.NameVerificationStatusChanged,
		events.NameVerificationRejected,
		events.NameVerificationReassigned,
		events.NameEvidenceRecorded,
	} {
		f.bus.Subscribe(name, f.recorder)
	}
	f.svc = New(Deps{
		Store:    f.store,
		Policies: testPolicies{templateID: uuid.New(), policy: testPolicy()},
		Tokens:   linktoken.NewIssuer(linktoken.DefaultSize),
		Storage:  f.storage,
		Expiry:   f.expiry,
		EventBus: f.bus,
		Config:   testConfig{},
		Logger:   log,
	})
	f.svc.SetClock(f.clock.Now)
	return f
}

func (f *fixture) create(t *testing.T) transport.CreateVerificationResponse {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), uuid.New(), transport.CreateVerificationRequest{
		CustomerName:  "Ada <b>Lovelace</b>",
		CustomerEmail: " Ada@Example.com ",
		CustomerPhone: "06 12345678",
		PolicyType:    "property",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return resp
}

func (f *fixture) token(t *testing.T, id uuid.UUID) string {
	t.Helper()
	c, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	return c.AccessToken
}

func (f *fixture) caseByID(t *testing.T, id uuid.UUID) domain.Case {
	t.Helper()
	c, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	return c
}

// photo presigns and confirms one photo with a GPS position.
func (f *fixture) photo(t *testing.T, token, categoryID, fieldID string) {
	t.Helper()
	ctx := context.Background()
	presigned, err := f.svc.PresignEvidence(ctx, token, transport.PresignEvidenceRequest{
		CategoryID: categoryID, FieldID: fieldID, FileName: fieldID + ".jpg", ContentType: "image/jpeg", SizeBytes: 1024,
	})
	if err != nil {
		t.Fatalf("presign %s/%s: %v", categoryID, fieldID, err)
	}
	_, err = f.svc.ConfirmEvidence(ctx, token, transport.ConfirmEvidenceRequest{
		CategoryID: categoryID, FieldID: fieldID, StorageKey: presigned.StorageKey,
		GPS: &transport.GeoPointRequest{Latitude: 52.37, Longitude: 4.89},
	})
	if err != nil {
		t.Fatalf("confirm %s/%s: %v", categoryID, fieldID, err)
	}
}

func (f *fixture) save(t *testing.T, token, categoryID string, answers map[string]domain.AnswerValue) transport.SaveCategoryResponse {
	t.Helper()
	draft, found, err := f.store.GetDraft(context.Background(), f.caseIDForToken(t, token))
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	version := 0
	if found {
		version = draft.Version
	}
	resp, err := f.svc.SaveDraft(context.Background(), token, categoryID, transport.SaveCategoryRequest{Answers: answers, DraftVersion: version})
	if err != nil {
		t.Fatalf("save %s: %v", categoryID, err)
	}
	return resp
}

func (f *fixture) caseIDForToken(t *testing.T, token string) uuid.UUID {
	t.Helper()
	c, err := f.store.GetByAccessToken(context.Background(), token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	return c.ID
}

// complete fills every requirement of the test policy.
func (f *fixture) complete(t *testing.T, token string) {
	t.Helper()
	f.save(t, token, "exterior", map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("no")})
	f.save(t, token, "damage", map[string]domain.AnswerValue{"damage_count": domain.NumberAnswer(0)})
	f.photo(t, token, "exterior", "front")
	f.photo(t, token, "exterior", "street")
}

func (f *fixture) submit(t *testing.T, token string) transport.SubmitResponse {
	t.Helper()
	resp, err := f.svc.Submit(context.Background(), token)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return resp
}

func hasActiveField(progress transport.CategoryProgress, fieldID string) bool {
	for _, field := range progress.ActiveFields {
		if field.FieldID == fieldID {
			return true
		}
	}
	return false
}

func requireKind(t *testing.T, err error, kind apperr.Kind, code string) {
	t.Helper()
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if appErr.Kind != kind {
		t.Fatalf("expected kind %v, got %v (%v)", kind, appErr.Kind, err)
	}
	if code != "" && appErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, appErr.Code)
	}
}

// =============================================================================
// Creation and assignment
// =============================================================================

func TestCreateSnapshotsPolicyAndIssuesLink(t *testing.T) {
	f := newFixture(t)
	resp := f.create(t)
	f.bus.Wait()

	if resp.Status != string(domain.StatusDraft) {
		t.Fatalf("expected draft, got %s", resp.Status)
	}
	if resp.Reference != "VRF-2026-000001" {
		t.Fatalf("unexpected reference %s", resp.Reference)
	}
	if resp.Customer.Name != "Ada Lovelace" || resp.Customer.Email != "ada@example.com" || resp.Customer.Phone != "+31612345678" {
		t.Fatalf("customer not normalised: %+v", resp.Customer)
	}
	token := f.token(t, resp.ID)
	if resp.LinkURL != "https://verify.example.com/verify/"+token {
		t.Fatalf("unexpected link %s", resp.LinkURL)
	}
	if want := f.clock.Now().Add(7 * 24 * time.Hour); !resp.AccessTokenExpiry.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, resp.AccessTokenExpiry)
	}
	if len(f.expiry.payloads) != 1 || f.expiry.payloads[0].RejectionCount != 0 {
		t.Fatalf("expected one expiry task for round 0, got %+v", f.expiry.payloads)
	}
	if names := f.recorder.names(); len(names) != 1 || names[0] != events.NameVerificationCreated {
		t.Fatalf("expected created event, got %v", names)
	}
}

func TestCreateRejectsLocationOutsideProperty(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), uuid.New(), transport.CreateVerificationRequest{
		CustomerName: "Ada", CustomerEmail: "ada@example.com", PolicyType: "vehicle",
		Location: &transport.GeoPointRequest{Latitude: 52, Longitude: 4},
	})
	requireKind(t, err, apperr.KindValidation, "")
}

func TestCreateAssignsLeastLoadedReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	vehicle := domain.PolicyVehicle
	f.store.AddReviewer(domain.Reviewer{ID: a, Name: "A", Active: true})
	f.store.AddReviewer(domain.Reviewer{ID: b, Name: "B", Active: true})
	f.store.AddReviewer(domain.Reviewer{ID: c, Name: "C", Active: true, Specialization: &vehicle})

	first := f.create(t)
	if first.AssignedReviewerID == nil || *first.AssignedReviewerID != a {
		t.Fatalf("tie should go to the lowest id, got %v", first.AssignedReviewerID)
	}
	second := f.create(t)
	if second.AssignedReviewerID == nil || *second.AssignedReviewerID != b {
		t.Fatalf("expected the idle reviewer, got %v", second.AssignedReviewerID)
	}

	// Closing A's case frees A again.
	if _, err := f.svc.Cancel(ctx, uuid.New(), first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	third := f.create(t)
	if third.AssignedReviewerID == nil || *third.AssignedReviewerID != a {
		t.Fatalf("expected A after its case closed, got %v", third.AssignedReviewerID)
	}
}

func TestCreateWithoutEligibleReviewerIsUnassigned(t *testing.T) {
	f := newFixture(t)
	f.store.AddReviewer(domain.Reviewer{ID: uuid.New(), Name: "Inactive", Active: false})

	resp := f.create(t)
	if resp.AssignedReviewerID != nil {
		t.Fatalf("expected unassigned case, got %v", resp.AssignedReviewerID)
	}
}

func TestCreateHonoursTeamRouting(t *testing.T) {
	f := newFixture(t)
	vehicleTeam := domain.Team{ID: uuid.New(), Name: "Vehicle", PolicyTypes: []domain.PolicyType{domain.PolicyVehicle}}
	f.store.AddTeam(vehicleTeam)
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	f.store.AddReviewer(domain.Reviewer{ID: low, Active: true, TeamID: &vehicleTeam.ID})
	f.store.AddReviewer(domain.Reviewer{ID: high, Active: true})

	resp := f.create(t)
	if resp.AssignedReviewerID == nil || *resp.AssignedReviewerID != high {
		t.Fatalf("expected reviewer outside the vehicle team, got %v", resp.AssignedReviewerID)
	}
}

// =============================================================================
// Customer session
// =============================================================================

func TestSessionToSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	session, err := f.svc.OpenSession(ctx, token)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Status != string(domain.StatusInProgress) {
		t.Fatalf("expected in_progress after opening, got %s", session.Status)
	}
	if session.SubmissionsLeft != 4 {
		t.Fatalf("expected 4 submissions left, got %d", session.SubmissionsLeft)
	}

	_, err = f.svc.Submit(ctx, token)
	requireKind(t, err, apperr.KindValidation, "")
	appErr, _ := apperr.As(err)
	details, _ := appErr.Details.([]string)
	if len(details) != 4 {
		t.Fatalf("expected every missing item at once, got %v", details)
	}
	if got := f.caseByID(t, created.ID).Status; got != domain.StatusInProgress {
		t.Fatalf("failed submit must not change status, got %s", got)
	}

	f.complete(t, token)
	progress, err := f.svc.Progress(ctx, token)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !progress.Complete {
		t.Fatalf("expected complete progress, got %+v", progress)
	}

	resp := f.submit(t, token)
	if resp.Status != string(domain.StatusSubmitted) || resp.SubmissionNumber != 1 {
		t.Fatalf("unexpected submit response %+v", resp)
	}

	_, err = f.svc.Submit(ctx, token)
	requireKind(t, err, apperr.KindConflict, "ALREADY_SUBMITTED")

	sub, err := f.svc.GetSubmission(ctx, created.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if !sub.Data["exterior"].HasPhoto("front") {
		t.Fatalf("submission is missing evidence: %+v", sub.Data)
	}
}

func TestDynamicDamagePhotosAreRequired(t *testing.T) {
	f := newFixture(t)
	created := f.create(t)
	token := f.token(t, created.ID)

	resp := f.save(t, token, "damage", map[string]domain.AnswerValue{"damage_count": domain.TextAnswer("3")})
	if resp.Category.Complete {
		t.Fatal("three damage spots need three photos")
	}
	if len(resp.Category.ActiveFields) != 3 || resp.Category.ActiveFields[2].Label != "Damage Photo 3" {
		t.Fatalf("unexpected dynamic fields %+v", resp.Category.ActiveFields)
	}
	for i := 1; i <= 3; i++ {
		f.photo(t, token, "damage", domain.DynamicFieldID("damage", i))
	}
	progress, err := f.svc.Progress(context.Background(), token)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	for _, category := range progress.Categories {
		if category.CategoryID == "damage" && !category.Complete {
			t.Fatalf("damage should be complete: %+v", category.Missing)
		}
	}
}

func TestOrphanedEvidenceStaysInDraftButIsNotSubmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	f.save(t, token, "exterior", map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("yes")})
	f.photo(t, token, "exterior", "pool_photo")
	f.complete(t, token) // answers "no" to the pool question
	f.submit(t, token)

	draft, _, err := f.store.GetDraft(ctx, created.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if !draft.Data("exterior").HasPhoto("pool_photo") {
		t.Fatal("orphaned evidence should stay in the draft")
	}
	sub, err := f.svc.GetSubmission(ctx, created.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Data["exterior"].HasPhoto("pool_photo") {
		t.Fatal("orphaned evidence must not be submitted")
	}
}

func TestSwimmingPoolThroughTheCustomerFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	if err := testPolicy().Validate(); err != nil {
		t.Fatalf("test policy must be a valid template: %v", err)
	}

	saved := f.save(t, token, "exterior", map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("Yes")})
	if !hasActiveField(saved.Category, "pool_photo") {
		t.Fatalf("Yes should activate the pool photo, got %+v", saved.Category.ActiveFields)
	}
	f.save(t, token, "damage", map[string]domain.AnswerValue{"damage_count": domain.NumberAnswer(0)})
	f.photo(t, token, "exterior", "front")
	f.photo(t, token, "exterior", "street")

	_, err := f.svc.Submit(ctx, token)
	requireKind(t, err, apperr.KindValidation, "")
	appErr, _ := apperr.As(err)
	details, _ := appErr.Details.([]string)
	if len(details) != 1 || !strings.Contains(details[0], "pool_photo") {
		t.Fatalf("expected only the pool photo to be missing, got %v", appErr.Details)
	}

	f.photo(t, token, "exterior", "pool_photo")
	f.submit(t, token)

	sub, err := f.svc.GetSubmission(ctx, created.ID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if !sub.Data["exterior"].HasPhoto("pool_photo") || sub.Data["exterior"].Answer("has_pool").String() != domain.AnswerYes {
		t.Fatalf("pool evidence missing from submission: %+v", sub.Data["exterior"])
	}
}

func TestSaveDraftNormalizesYesNoAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	saved := f.save(t, token, "exterior", map[string]domain.AnswerValue{"has_pool": domain.TextAnswer(" yes ")})
	draft, _, err := f.store.GetDraft(ctx, created.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got := draft.Data("exterior").Answer("has_pool").String(); got != domain.AnswerYes {
		t.Fatalf("expected yes to be stored as Yes, got %q", got)
	}
	if saved.Category.Complete || !hasActiveField(saved.Category, "pool_photo") {
		t.Fatal("a Yes answer must require the pool photo")
	}

	_, err = f.svc.SaveDraft(ctx, token, "exterior", transport.SaveCategoryRequest{
		Answers:      map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("maybe")},
		DraftVersion: saved.DraftVersion,
	})
	requireKind(t, err, apperr.KindValidation, "")
	if msg := err.Error(); strings.Count(msg, "invalid answers") != 1 {
		t.Fatalf("validation message repeated: %q", msg)
	}
}

func TestSaveDraftRejectsStaleVersionAndBadAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	f.save(t, token, "exterior", map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("no")})

	_, err := f.svc.SaveDraft(ctx, token, "exterior", transport.SaveCategoryRequest{
		Answers: map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("yes")}, DraftVersion: 0,
	})
	requireKind(t, err, apperr.KindConflict, "DRAFT_CONFLICT")

	_, err = f.svc.SaveDraft(ctx, token, "damage", transport.SaveCategoryRequest{
		Answers: map[string]domain.AnswerValue{"damage_count": domain.TextAnswer("many")}, DraftVersion: 1,
	})
	requireKind(t, err, apperr.KindValidation, "")

	_, err = f.svc.SaveDraft(ctx, token, "attic", transport.SaveCategoryRequest{DraftVersion: 1})
	requireKind(t, err, apperr.KindNotFound, "")
}

func TestConfirmEvidenceRequiresLocationForGPSFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	presigned, err := f.svc.PresignEvidence(ctx, token, transport.PresignEvidenceRequest{
		CategoryID: "exterior", FieldID: "street", FileName: "street.jpg", ContentType: "image/jpeg", SizeBytes: 10,
	})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	f.storage.objects[presigned.StorageKey] = []byte("not a jpeg")

	_, err = f.svc.ConfirmEvidence(ctx, token, transport.ConfirmEvidenceRequest{
		CategoryID: "exterior", FieldID: "street", StorageKey: presigned.StorageKey,
	})
	requireKind(t, err, apperr.KindValidation, "")

	_, err = f.svc.ConfirmEvidence(ctx, token, transport.ConfirmEvidenceRequest{
		CategoryID: "exterior", FieldID: "front", StorageKey: "someone-else/exterior/r0/front.jpg",
	})
	requireKind(t, err, apperr.KindValidation, "")
}

func TestPresignEvidenceValidatesField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	tests := []struct {
		name string
		req  transport.PresignEvidenceRequest
		kind apperr.Kind
	}{
		{
			name: "untriggered conditional field",
			req:  transport.PresignEvidenceRequest{CategoryID: "exterior", FieldID: "pool_photo", FileName: "p.jpg", ContentType: "image/jpeg", SizeBytes: 1},
			kind: apperr.KindValidation,
		},
		{
			name: "not an image",
			req:  transport.PresignEvidenceRequest{CategoryID: "exterior", FieldID: "front", FileName: "f.pdf", ContentType: "application/pdf", SizeBytes: 1},
			kind: apperr.KindValidation,
		},
		{
			name: "too large",
			req:  transport.PresignEvidenceRequest{CategoryID: "exterior", FieldID: "front", FileName: "f.jpg", ContentType: "image/jpeg", SizeBytes: 11 << 20},
			kind: apperr.KindValidation,
		},
		{
			name: "unknown category",
			req:  transport.PresignEvidenceRequest{CategoryID: "attic", FieldID: "front", FileName: "f.jpg", ContentType: "image/jpeg", SizeBytes: 1},
			kind: apperr.KindNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PresignEvidence(ctx, token, tt.req)
			requireKind(t, err, tt.kind, "")
		})
	}
}

// =============================================================================
// Review loop
// =============================================================================

func rejectFront(reason string) transport.RejectVerificationRequest {
	return transport.RejectVerificationRequest{Feedback: map[string]map[string]string{
		"exterior": {"front": reason},
	}}
}

func TestFourRejectionsCloseTheCase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)
	f.complete(t, token)
	f.submit(t, token)

	for round := 1; round <= 3; round++ {
		resp, err := f.svc.Reject(ctx, uuid.New(), created.ID, rejectFront(fmt.Sprintf("<i>blurry</i> round %d", round)))
		if err != nil {
			t.Fatalf("reject %d: %v", round, err)
		}
		if resp.Status != string(domain.StatusNeedsRevision) || resp.RejectionCount != round {
			t.Fatalf("round %d: unexpected %s/%d", round, resp.Status, resp.RejectionCount)
		}
		if resp.RejectionReason["exterior"]["front"] != fmt.Sprintf("blurry round %d", round) {
			t.Fatalf("reason not sanitised: %q", resp.RejectionReason["exterior"]["front"])
		}

		newToken := f.token(t, created.ID)
		if newToken == token {
			t.Fatalf("round %d: token was not rotated", round)
		}
		if _, err := f.svc.OpenSession(ctx, token); !apperr.Is(err, apperr.KindNotFound) {
			t.Fatalf("round %d: old token should stop working, got %v", round, err)
		}
		token = newToken

		f.photo(t, token, "exterior", "front")
		f.submit(t, token)
	}

	resp, err := f.svc.Reject(ctx, uuid.New(), created.ID, rejectFront("still blurry"))
	if err != nil {
		t.Fatalf("final reject: %v", err)
	}
	if resp.Status != string(domain.StatusRejected) || resp.RejectionCount != 4 {
		t.Fatalf("expected permanent rejection, got %s/%d", resp.Status, resp.RejectionCount)
	}
	if f.token(t, created.ID) != token {
		t.Fatal("permanent rejection must not issue a new link")
	}

	_, err = f.svc.Reject(ctx, uuid.New(), created.ID, rejectFront("again"))
	requireKind(t, err, apperr.KindConflict, "ALREADY_TERMINAL")

	f.bus.Wait()
	rejected := make(map[int]events.VerificationRejected)
	f.recorder.mu.Lock()
	for _, e := range f.recorder.events {
		if r, ok := e.(events.VerificationRejected); ok {
			rejected[r.RejectionCount] = r
		}
	}
	f.recorder.mu.Unlock()
	if len(rejected) != 4 || !rejected[4].Permanent || rejected[1].Permanent {
		t.Fatalf("unexpected rejection events %+v", rejected)
	}
	if len(rejected[1].Flagged) != 1 || rejected[1].Flagged[0].FieldLabel != "Front view" {
		t.Fatalf("flagged fields not resolved: %+v", rejected[1].Flagged)
	}
}

func TestRevisionRoundLocksUnflaggedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)
	f.complete(t, token)
	f.submit(t, token)

	if _, err := f.svc.Reject(ctx, uuid.New(), created.ID, rejectFront("too dark")); err != nil {
		t.Fatalf("reject: %v", err)
	}
	token = f.token(t, created.ID)

	session, err := f.svc.OpenSession(ctx, token)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Flagged["exterior"]["front"] != "too dark" {
		t.Fatalf("expected flagged front photo, got %v", session.Flagged)
	}
	exterior := session.Draft.Categories["exterior"]
	if exterior.HasPhoto("front") || !exterior.HasPhoto("street") || exterior.Answer("has_pool").String() != domain.AnswerNo {
		t.Fatalf("revision draft not seeded correctly: %+v", exterior)
	}
	if session.Progress.Complete {
		t.Fatal("flagged photo must be collected again")
	}

	_, err = f.svc.SaveDraft(ctx, token, "exterior", transport.SaveCategoryRequest{
		Answers:      map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("yes")},
		DraftVersion: session.Draft.Version,
	})
	requireKind(t, err, apperr.KindConflict, "FIELD_LOCKED")

	// Resending an unchanged verified answer is fine.
	if _, err := f.svc.SaveDraft(ctx, token, "exterior", transport.SaveCategoryRequest{
		Answers:      map[string]domain.AnswerValue{"has_pool": domain.TextAnswer("no")},
		DraftVersion: session.Draft.Version,
	}); err != nil {
		t.Fatalf("unchanged answer: %v", err)
	}

	_, err = f.svc.PresignEvidence(ctx, token, transport.PresignEvidenceRequest{
		CategoryID: "exterior", FieldID: "street", FileName: "s.jpg", ContentType: "image/jpeg", SizeBytes: 1,
	})
	requireKind(t, err, apperr.KindConflict, "FIELD_LOCKED")

	f.photo(t, token, "exterior", "front")
	resp := f.submit(t, token)
	if resp.SubmissionNumber != 2 {
		t.Fatalf("expected second submission, got %d", resp.SubmissionNumber)
	}
}

func TestRejectRequiresFlaggedKnownField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)
	f.complete(t, token)
	f.submit(t, token)

	tests := []struct {
		name     string
		feedback map[string]map[string]string
	}{
		{name: "only blank reasons", feedback: map[string]map[string]string{"exterior": {"front": "  <br>  "}}},
		{name: "unknown field", feedback: map[string]map[string]string{"exterior": {"roof": "missing"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Reject(ctx, uuid.New(), created.ID, transport.RejectVerificationRequest{Feedback: tt.feedback})
			requireKind(t, err, apperr.KindValidation, "")
			if c := f.caseByID(t, created.ID); c.Status != domain.StatusSubmitted || c.RejectionCount != 0 {
				t.Fatalf("invalid feedback changed the case: %s/%d", c.Status, c.RejectionCount)
			}
		})
	}
}

func TestConcurrentRejectionsApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)
	f.complete(t, token)
	f.submit(t, token)

	const reviewers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reject(ctx, uuid.New(), created.ID, rejectFront("blurry"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.Is(err, apperr.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != reviewers-1 {
		t.Fatalf("expected one rejection to win, got %d successes and %d conflicts", successes, conflicts)
	}
	if c := f.caseByID(t, created.ID); c.RejectionCount != 1 {
		t.Fatalf("expected rejection count 1, got %d", c.RejectionCount)
	}
}

func TestApproveAndTerminalEnforcement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)

	_, err := f.svc.Approve(ctx, uuid.New(), created.ID)
	requireKind(t, err, apperr.KindConflict, "INVALID_TRANSITION")

	f.complete(t, token)
	f.submit(t, token)

	resp, err := f.svc.Approve(ctx, uuid.New(), created.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resp.Status != string(domain.StatusApproved) {
		t.Fatalf("expected approved, got %s", resp.Status)
	}
	before := f.caseByID(t, created.ID)

	for name, op := range map[string]func() error{
		"approve": func() error { _, err := f.svc.Approve(ctx, uuid.New(), created.ID); return err },
		"cancel":  func() error { _, err := f.svc.Cancel(ctx, uuid.New(), created.ID); return err },
		"reject":  func() error { _, err := f.svc.Reject(ctx, uuid.New(), created.ID, rejectFront("x")); return err },
		"reassign": func() error {
			_, err := f.svc.Reassign(ctx, uuid.New(), created.ID, transport.ReassignVerificationRequest{Auto: true})
			return err
		},
	} {
		requireKind(t, op(), apperr.KindConflict, "ALREADY_TERMINAL")
		if after := f.caseByID(t, created.ID); after.Version != before.Version {
			t.Fatalf("%s mutated a terminal case", name)
		}
	}

	_, err = f.svc.Submit(ctx, token)
	requireKind(t, err, apperr.KindConflict, "ALREADY_SUBMITTED")
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)

	inactive := uuid.New()
	f.store.AddReviewer(domain.Reviewer{ID: inactive, Active: false})
	_, err := f.svc.Reassign(ctx, uuid.New(), created.ID, transport.ReassignVerificationRequest{ReviewerID: &inactive})
	requireKind(t, err, apperr.KindValidation, "")

	_, err = f.svc.Reassign(ctx, uuid.New(), created.ID, transport.ReassignVerificationRequest{Auto: true})
	requireKind(t, err, apperr.KindConflict, "NO_ELIGIBLE_REVIEWER")

	target := uuid.New()
	f.store.AddReviewer(domain.Reviewer{ID: target, Active: true})
	resp, err := f.svc.Reassign(ctx, uuid.New(), created.ID, transport.ReassignVerificationRequest{ReviewerID: &target})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if resp.AssignedReviewerID == nil || *resp.AssignedReviewerID != target || resp.Status != created.Status {
		t.Fatalf("unexpected reassignment %+v", resp)
	}
}

// =============================================================================
// Expiry
// =============================================================================

func TestSubmitAfterLinkExpiryIsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)
	token := f.token(t, created.ID)
	f.complete(t, token)
	before := f.caseByID(t, created.ID)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.svc.Submit(ctx, token)
	requireKind(t, err, apperr.KindGone, "LINK_EXPIRED")

	after := f.caseByID(t, created.ID)
	if after.Status != before.Status || after.Version != before.Version || after.SubmittedAt != nil {
		t.Fatal("expired submit must not mutate the case")
	}
	_, err = f.svc.OpenSession(ctx, token)
	requireKind(t, err, apperr.KindGone, "LINK_EXPIRED")
}

func TestExpireIfStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t)

	expired, err := f.svc.ExpireIfStale(ctx, created.ID, 0)
	if err != nil || expired {
		t.Fatalf("live link must not expire: %v %v", expired, err)
	}

	f.clock.Advance(7*24*time.Hour + time.Second)
	expired, err = f.svc.ExpireIfStale(ctx, created.ID, 1)
	if err != nil || expired {
		t.Fatalf("task from another round must be ignored: %v %v", expired, err)
	}

	expired, err = f.svc.ExpireIfStale(ctx, created.ID, 0)
	if err != nil || !expired {
		t.Fatalf("expected expiry: %v %v", expired, err)
	}
	if c := f.caseByID(t, created.ID); c.Status != domain.StatusExpired {
		t.Fatalf("expected expired status, got %s", c.Status)
	}

	expired, err = f.svc.ExpireIfStale(ctx, uuid.New(), 0)
	if err != nil || expired {
		t.Fatalf("unknown case should be ignored: %v %v", expired, err)
	}
}

func TestExpireStaleLinksSkipsSubmittedCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.create(t)
	handedIn := f.create(t)
	token := f.token(t, handedIn.ID)
	f.complete(t, token)
	f.submit(t, token)

	f.clock.Advance(8 * 24 * time.Hour)
	n, err := f.svc.ExpireStaleLinks(ctx, f.clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired case, got %d", n)
	}
	if c := f.caseByID(t, stale.ID); c.Status != domain.StatusExpired {
		t.Fatalf("expected stale case expired, got %s", c.Status)
	}
	if c := f.caseByID(t, handedIn.ID); c.Status != domain.StatusSubmitted {
		t.Fatalf("submitted case must stay submitted, got %s", c.Status)
	}
}

func TestLinkQR(t *testing.T) {
	f := newFixture(t)
	created := f.create(t)

	png, err := f.svc.LinkQR(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if http.DetectContentType(png) != "image/png" {
		t.Fatalf("expected png, got %s", http.DetectContentType(png))
	}
}
