package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"verification_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeExpirer struct {
	caseID         uuid.UUID
	rejectionCount int
	calls          int
	err            error
}

func (f *fakeExpirer) ExpireIfStale(ctx context.Context, caseID uuid.UUID, rejectionCount int) (bool, error) {
	f.calls++
	f.caseID, f.rejectionCount = caseID, rejectionCount
	return f.err == nil, f.err
}

func testLogger() *logger.Logger {
	return logger.NewWithWriter("test", io.Discard)
}

func TestLinkExpiryTaskRoundTrip(t *testing.T) {
	payload := LinkExpiryPayload{CaseID: uuid.NewString(), RejectionCount: 2}
	task, err := NewLinkExpiryTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskVerificationLinkExpiry {
		t.Fatalf("unexpected task type %q", task.Type())
	}
	got, err := ParseLinkExpiryPayload(task)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != payload {
		t.Fatalf("payload mismatch: %+v vs %+v", got, payload)
	}
	if payload.TaskID() != "link-expiry:"+payload.CaseID+":2" {
		t.Fatalf("unexpected task id %q", payload.TaskID())
	}
}

func TestHandleLinkExpiry(t *testing.T) {
	expirer := &fakeExpirer{}
	w := &Worker{expirer: expirer, log: testLogger()}
	caseID := uuid.New()

	task, _ := NewLinkExpiryTask(LinkExpiryPayload{CaseID: caseID.String(), RejectionCount: 1})
	if err := w.handleLinkExpiry(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if expirer.caseID != caseID || expirer.rejectionCount != 1 {
		t.Fatalf("expirer called with %v/%d", expirer.caseID, expirer.rejectionCount)
	}
}

func TestHandleLinkExpirySkipsRetryOnBadPayload(t *testing.T) {
	w := &Worker{expirer: &fakeExpirer{}, log: testLogger()}

	task := asynq.NewTask(TaskVerificationLinkExpiry, []byte(`{"caseId":"not-a-uuid"}`))
	err := w.handleLinkExpiry(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleLinkExpiryPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("db down")
	w := &Worker{expirer: &fakeExpirer{err: boom}, log: testLogger()}

	task, _ := NewLinkExpiryTask(LinkExpiryPayload{CaseID: uuid.NewString()})
	if err := w.handleLinkExpiry(context.Background(), task); !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate for retry, got %v", err)
	}
}

type fakeSweeper struct {
	at    time.Time
	calls int
}

func (f *fakeSweeper) ExpireStaleLinks(ctx context.Context, now time.Time) (int, error) {
	f.calls++
	f.at = now
	return 1, nil
}

func TestLinkExpirySweepRunsImmediately(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := NewLinkExpirySweep(sweeper, testLogger(), time.Hour)
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	if sweeper.calls != 1 || !sweeper.at.Equal(fixed) {
		t.Fatalf("expected one sweep at %v, got %d at %v", fixed, sweeper.calls, sweeper.at)
	}
}
