package domain

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func submittedCase() Case {
	submittedAt := testNow.Add(-time.Hour)
	return Case{
		ID:                uuid.New(),
		Reference:         "VRF-2026-000001",
		Status:            StatusSubmitted,
		PolicyType:        PolicyProperty,
		Policy:            PolicySnapshot{Categories: []Category{swimmingPoolCategory(), damageCategory()}},
		SubmittedAt:       &submittedAt,
		CreatedAt:         testNow.Add(-48 * time.Hour),
		AccessToken:       "initial-token",
		AccessTokenExpiry: testNow.Add(24 * time.Hour),
		Version:           3,
	}
}

type sequenceIssuer struct{ n int }

func (s *sequenceIssuer) IssueToken() (string, error) {
	s.n++
	return fmt.Sprintf("token-%d", s.n), nil
}

func poolFeedback() Feedback {
	return Feedback{"cat_pool": {"photo_pool": "Photo is blurry"}}
}

func TestSubmitFromCustomerStatuses(t *testing.T) {
	for _, status := range []Status{StatusDraft, StatusInProgress, StatusNeedsRevision} {
		c := submittedCase()
		c.Status = status
		c.SubmittedAt = nil
		next, err := Submit(c, testNow)
		if err != nil {
			t.Fatalf("%s: Submit returned %v", status, err)
		}
		if next.Status != StatusSubmitted || next.SubmittedAt == nil || !next.SubmittedAt.Equal(testNow) {
			t.Fatalf("%s: unexpected result %+v", status, next)
		}
		if c.Status != status {
			t.Fatalf("%s: input case was mutated", status)
		}
	}
}

func TestSubmitErrors(t *testing.T) {
	cases := []struct {
		status Status
		want   error
	}{
		{StatusSubmitted, ErrAlreadySubmitted},
		{StatusApproved, ErrAlreadySubmitted},
		{StatusRejected, ErrAlreadySubmitted},
		{StatusCancelled, ErrAlreadyTerminal},
		{StatusExpired, ErrLinkExpired},
	}
	for _, tc := range cases {
		c := submittedCase()
		c.Status = tc.status
		next, err := Submit(c, testNow)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.status, err, tc.want)
		}
		if next.Status != tc.status {
			t.Errorf("%s: status changed to %s", tc.status, next.Status)
		}
	}
}

func TestSubmitWithExpiredLinkDoesNotChangeStatus(t *testing.T) {
	c := submittedCase()
	c.Status = StatusInProgress
	c.SubmittedAt = nil
	c.AccessTokenExpiry = testNow.Add(-time.Minute)

	next, err := Submit(c, testNow)
	if !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("err = %v, want ErrLinkExpired", err)
	}
	if !reflect.DeepEqual(next, c) {
		t.Fatalf("case mutated on failed submit: %+v", next)
	}
}

func TestApproveAndRejectOnTerminalCaseFail(t *testing.T) {
	policy := DefaultRejectionPolicy()
	for _, status := range []Status{StatusApproved, StatusRejected, StatusCancelled, StatusExpired} {
		c := submittedCase()
		c.Status = status
		c.RejectionCount = 2

		next, err := Approve(c, testNow)
		if !errors.Is(err, ErrAlreadyTerminal) {
			t.Errorf("approve %s: err = %v", status, err)
		}
		if !reflect.DeepEqual(next, c) {
			t.Errorf("approve %s mutated the case", status)
		}

		issuer := &sequenceIssuer{}
		next, _, err = policy.Reject(c, poolFeedback(), testNow, issuer)
		if !errors.Is(err, ErrAlreadyTerminal) {
			t.Errorf("reject %s: err = %v", status, err)
		}
		if !reflect.DeepEqual(next, c) {
			t.Errorf("reject %s mutated the case", status)
		}
		if issuer.n != 0 {
			t.Errorf("reject %s issued a token", status)
		}
	}
}

func TestApproveAndRejectRequireSubmitted(t *testing.T) {
	c := submittedCase()
	c.Status = StatusInProgress
	if _, err := Approve(c, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approve in_progress: err = %v", err)
	}
	if _, _, err := DefaultRejectionPolicy().Reject(c, poolFeedback(), testNow, &sequenceIssuer{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject in_progress: err = %v", err)
	}

	approved, err := Approve(submittedCase(), testNow)
	if err != nil || approved.Status != StatusApproved {
		t.Fatalf("approve submitted: %v %s", err, approved.Status)
	}
}

func TestRejectFourTimes(t *testing.T) {
	policy := DefaultRejectionPolicy()
	issuer := &sequenceIssuer{}
	c := submittedCase()

	wantStatus := []Status{StatusNeedsRevision, StatusNeedsRevision, StatusNeedsRevision, StatusRejected}
	for i := 0; i < 4; i++ {
		if c.Status == StatusNeedsRevision {
			var err error
			if c, err = Submit(c, testNow); err != nil {
				t.Fatalf("resubmit %d: %v", i, err)
			}
		}
		previousToken := c.AccessToken
		issuedBefore := issuer.n

		next, outcome, err := policy.Reject(c, poolFeedback(), testNow, issuer)
		if err != nil {
			t.Fatalf("reject %d: %v", i+1, err)
		}
		if next.Status != wantStatus[i] || outcome.Status != wantStatus[i] {
			t.Fatalf("reject %d: status = %s, want %s", i+1, next.Status, wantStatus[i])
		}
		if next.RejectionCount != i+1 || outcome.RejectionCount != i+1 {
			t.Fatalf("reject %d: count = %d", i+1, next.RejectionCount)
		}
		if next.RejectionReason["cat_pool"]["photo_pool"] != "Photo is blurry" {
			t.Fatalf("reject %d: reason not stored", i+1)
		}

		if i < 3 {
			if issuer.n != issuedBefore+1 {
				t.Fatalf("reject %d: expected a new token", i+1)
			}
			if next.AccessToken == previousToken || outcome.AccessToken != next.AccessToken {
				t.Fatalf("reject %d: token not rotated", i+1)
			}
			if !next.AccessTokenExpiry.Equal(testNow.Add(DefaultLinkTTL)) {
				t.Fatalf("reject %d: expiry = %s", i+1, next.AccessTokenExpiry)
			}
			if !next.CreatedAt.Equal(testNow) {
				t.Fatalf("reject %d: freshness marker not reset", i+1)
			}
		} else {
			if issuer.n != issuedBefore || next.AccessToken != previousToken || !outcome.Permanent {
				t.Fatalf("final reject must not issue a token: %+v", outcome)
			}
		}
		c = next
	}

	if _, err := Submit(c, testNow); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("permanently rejected case accepted a submit: %v", err)
	}
}

func TestRejectValidatesFeedback(t *testing.T) {
	policy := DefaultRejectionPolicy()
	c := submittedCase()

	bad := []Feedback{
		nil,
		{"cat_pool": {"photo_pool": "  "}},
		{"cat_pool": {"photo_unknown": "nope"}},
		{"cat_missing": {"photo_pool": "nope"}},
		{"cat_damage": {"dynamic_photo_cat_damage_xyz": "nope"}},
		{"cat_damage": {"dynamic_photo_cat_damage_999": "nope"}},
		{"cat_pool": {"dynamic_photo_cat_pool_1": "nope"}},
	}
	for i, fb := range bad {
		next, _, err := policy.Reject(c, fb, testNow, &sequenceIssuer{})
		if _, ok := AsValidation(err); !ok {
			t.Errorf("feedback %d: err = %v, want validation error", i, err)
		}
		if !reflect.DeepEqual(next, c) {
			t.Errorf("feedback %d: case mutated", i)
		}
	}

	next, _, err := policy.Reject(c, Feedback{"cat_pool": {"photo_pool": " dark ", "q_pool": ""}}, testNow, &sequenceIssuer{})
	if err != nil {
		t.Fatalf("valid feedback rejected: %v", err)
	}
	if got := next.RejectionReason; len(got["cat_pool"]) != 1 || got["cat_pool"]["photo_pool"] != "dark" {
		t.Fatalf("feedback not normalized: %v", got)
	}

	if _, _, err := policy.Reject(c, Feedback{"cat_damage": {"dynamic_photo_cat_damage_2": "blurry"}}, testNow, &sequenceIssuer{}); err != nil {
		t.Fatalf("generated slot rejected: %v", err)
	}
}

func TestReassignAndCancel(t *testing.T) {
	reviewer := uuid.New()
	c := submittedCase()

	next, err := Reassign(c, &reviewer, testNow)
	if err != nil || next.AssignedReviewerID == nil || *next.AssignedReviewerID != reviewer || next.Status != c.Status {
		t.Fatalf("reassign: %v %+v", err, next)
	}

	cancelled, err := Cancel(next, testNow)
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("cancel: %v %s", err, cancelled.Status)
	}
	if _, err := Reassign(cancelled, &reviewer, testNow); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("reassign cancelled: %v", err)
	}
	if _, err := Cancel(cancelled, testNow); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("cancel cancelled: %v", err)
	}
}

func TestExpire(t *testing.T) {
	c := submittedCase()
	c.Status = StatusInProgress
	if _, err := Expire(c, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expire with valid link: %v", err)
	}
	c.AccessTokenExpiry = testNow.Add(-time.Second)
	next, err := Expire(c, testNow)
	if err != nil || next.Status != StatusExpired {
		t.Fatalf("expire: %v %s", err, next.Status)
	}

	submitted := submittedCase()
	submitted.AccessTokenExpiry = testNow.Add(-time.Second)
	if _, err := Expire(submitted, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submitted case must not expire: %v", err)
	}
}

func TestStart(t *testing.T) {
	c := submittedCase()
	c.Status = StatusDraft
	next, err := Start(c, testNow)
	if err != nil || next.Status != StatusInProgress {
		t.Fatalf("start: %v %s", err, next.Status)
	}
	revision := submittedCase()
	revision.Status = StatusNeedsRevision
	if next, err := Start(revision, testNow); err != nil || next.Status != StatusNeedsRevision {
		t.Fatalf("start in revision: %v %s", err, next.Status)
	}
}

func policyTypePtr(pt PolicyType) *PolicyType { return &pt }

func TestSelectReviewerLeastLoaded(t *testing.T) {
	a := Reviewer{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Active: true}
	b := Reviewer{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Active: true}
	c := Reviewer{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000c"), Active: true}

	got, err := SelectReviewer(AssignmentInput{
		Pool:        []Reviewer{a, b, c},
		ActiveCount: map[uuid.UUID]int{a.ID: 2, b.ID: 0, c.ID: 0},
		PolicyType:  PolicyProperty,
	})
	if err != nil {
		t.Fatalf("SelectReviewer: %v", err)
	}
	if got == a.ID {
		t.Fatal("most loaded reviewer selected")
	}
	if got != b.ID {
		t.Fatalf("tie should break to lowest id, got %s", got)
	}

	only, err := SelectReviewer(AssignmentInput{
		Pool:        []Reviewer{a},
		ActiveCount: map[uuid.UUID]int{a.ID: 40},
		PolicyType:  PolicyProperty,
	})
	if err != nil || only != a.ID {
		t.Fatalf("single eligible reviewer: %s %v", only, err)
	}
}

func TestSelectReviewerFilters(t *testing.T) {
	vehicleTeam := Team{ID: uuid.New(), PolicyTypes: []PolicyType{PolicyVehicle}}
	openTeam := Team{ID: uuid.New()}

	inactive := Reviewer{ID: uuid.New(), Active: false}
	specialist := Reviewer{ID: uuid.New(), Active: true, Specialization: policyTypePtr(PolicyVehicle)}
	wrongTeam := Reviewer{ID: uuid.New(), Active: true, TeamID: &vehicleTeam.ID}
	openTeamMember := Reviewer{ID: uuid.New(), Active: true, TeamID: &openTeam.ID}

	in := AssignmentInput{
		Pool:        []Reviewer{inactive, specialist, wrongTeam, openTeamMember},
		Teams:       map[uuid.UUID]Team{vehicleTeam.ID: vehicleTeam, openTeam.ID: openTeam},
		ActiveCount: map[uuid.UUID]int{openTeamMember.ID: 9},
		PolicyType:  PolicyProperty,
		TeamRouting: true,
	}
	got, err := SelectReviewer(in)
	if err != nil || got != openTeamMember.ID {
		t.Fatalf("got %s, %v; want open team member", got, err)
	}

	in.TeamRouting = false
	eligible := EligibleReviewers(in)
	if len(eligible) != 2 {
		t.Fatalf("without team routing expected 2 eligible, got %d", len(eligible))
	}

	in.Pool = []Reviewer{inactive, specialist}
	if _, err := SelectReviewer(in); !errors.Is(err, ErrNoEligibleReviewer) {
		t.Fatalf("err = %v, want ErrNoEligibleReviewer", err)
	}
}

func TestSeedRevisionDraftClearsOnlyFlaggedFields(t *testing.T) {
	c := submittedCase()
	c.Status = StatusNeedsRevision
	c.RejectionCount = 1
	c.RejectionReason = Feedback{
		"cat_pool":   {"photo_pool": "blurry"},
		"cat_damage": {"q_damage_count": "count looks wrong"},
	}
	submitted := map[string]CategoryData{
		"cat_pool":   dataWith(map[string]AnswerValue{"q_pool": TextAnswer("Yes")}, "photo_pool"),
		"cat_damage": dataWith(map[string]AnswerValue{"q_damage_count": NumberAnswer(1)}, "photo_front", "dynamic_photo_cat_damage_1"),
	}

	draft := SeedRevisionDraft(c, submitted)
	if draft.Round != 1 {
		t.Fatalf("round = %d", draft.Round)
	}
	pool := draft.Data("cat_pool")
	if pool.HasPhoto("photo_pool") || pool.Answer("q_pool").String() != "Yes" {
		t.Fatalf("pool data = %+v", pool)
	}
	damage := draft.Data("cat_damage")
	if damage.Answer("q_damage_count").IsDefined() {
		t.Fatal("flagged answer carried over")
	}
	if damage.HasPhoto("dynamic_photo_cat_damage_1") {
		t.Fatal("slots of a flagged dynamic question carried over")
	}
	if !damage.HasPhoto("photo_front") {
		t.Fatal("unflagged photo dropped")
	}
	if !submitted["cat_pool"].HasPhoto("photo_pool") {
		t.Fatal("seeding mutated the submission")
	}

	if err := CheckEditable(c, "cat_pool", "q_pool"); !errors.Is(err, ErrFieldLocked) {
		t.Fatalf("unflagged field editable: %v", err)
	}
	if err := CheckEditable(c, "cat_pool", "photo_pool"); err != nil {
		t.Fatalf("flagged field locked: %v", err)
	}
	if err := CheckEditable(c, "cat_damage", "dynamic_photo_cat_damage_2"); err != nil {
		t.Fatalf("slot of flagged dynamic question locked: %v", err)
	}
	c.Status = StatusInProgress
	if err := CheckEditable(c, "cat_pool", "q_pool"); err != nil {
		t.Fatalf("first round must allow edits: %v", err)
	}
}
