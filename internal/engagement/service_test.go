package engagement_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraevents "github.com/jonesrussell/north-cloud/likechat/infrastructure/events"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/engagement"
	"github.com/jonesrussell/north-cloud/likechat/internal/gate"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
	"github.com/jonesrussell/north-cloud/likechat/internal/metrics"
	"github.com/jonesrussell/north-cloud/likechat/internal/progress"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
	"github.com/jonesrussell/north-cloud/likechat/internal/verify"
)

const requiredActions = 2

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

var errUpstream = fmt.Errorf("%w: 502 bad gateway", domain.ErrUpstreamUnavailable)

// scriptedVerifier returns results in order, repeating the last one.
type scriptedVerifier struct {
	mu      sync.Mutex
	results []verify.Result
	calls   int
	last    verify.Request
}

func (v *scriptedVerifier) Verify(_ context.Context, req verify.Request) verify.Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := min(v.calls, len(v.results)-1)
	v.calls++
	v.last = req
	return v.results[idx]
}

func (v *scriptedVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type recordedEvents struct {
	mu     sync.Mutex
	events []infraevents.Event
}

func (r *recordedEvents) PublishAsync(e infraevents.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) types() []infraevents.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]infraevents.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	fail    bool
}

func (h *memoryHistory) Record(_ context.Context, e *history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return domain.ErrStorageUnavailable
	}
	h.entries = append(h.entries, *e)
	return nil
}

func (h *memoryHistory) ListByUser(_ context.Context, userID int64, _ history.Filter) ([]history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []history.Entry
	for _, e := range h.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePurchases struct {
	current   purchase.Attempt
	has       bool
	failed    error
	cancelled []int64
}

func (f *fakePurchases) Start(_ context.Context, req purchase.StartRequest) (purchase.Attempt, error) {
	f.current = purchase.Attempt{ID: "attempt-1", UserID: req.UserID, Wallet: req.Wallet, State: purchase.StateAwaitingSettlement}
	f.has = true
	return f.current, nil
}

func (f *fakePurchases) Report(_ context.Context, _ int64, _, txHash string) (purchase.Attempt, error) {
	f.current.TxRef = txHash
	return f.current, nil
}

func (f *fakePurchases) Fail(_ int64, _ string, cause error) (purchase.Attempt, error) {
	f.failed = cause
	f.current.State = purchase.StateFailed
	return f.current, nil
}

func (f *fakePurchases) Get(int64) (purchase.Attempt, bool) { return f.current, f.has }

func (f *fakePurchases) Cancel(userID int64) bool {
	f.cancelled = append(f.cancelled, userID)
	return f.has
}

type fixture struct {
	svc       *engagement.Service
	queue     *queue.Queue
	progress  *progress.Store
	verifier  *scriptedVerifier
	events    *recordedEvents
	history   *memoryHistory
	purchases *fakePurchases
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, results ...verify.Result) *fixture {
	t.Helper()

	if len(results) == 0 {
		results = []verify.Result{{Verified: true, Strategy: verify.StrategyViewerContext}}
	}

	q, err := queue.New(queue.NewMemoryBackend(), queue.Options{Capacity: 3}, nil)
	require.NoError(t, err)
	store := progress.New(progress.NewMemoryBackend(), func() time.Time { return fixedNow }, nil)
	g := gate.New(store, q, nil, gate.Options{RequiredActions: requiredActions}, nil)

	f := &fixture{
		queue:     q,
		progress:  store,
		verifier:  &scriptedVerifier{results: results},
		events:    &recordedEvents{},
		history:   &memoryHistory{},
		purchases: &fakePurchases{},
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = engagement.NewService(engagement.Deps{
		Queue:     q,
		Progress:  store,
		Verifier:  f.verifier,
		Gate:      g,
		Purchases: f.purchases,
		History:   f.history,
		Events:    f.events,
		Metrics:   f.metrics,
	}, engagement.Options{
		VerifyRetry:  retry.Config{Delays: []time.Duration{0, 0}},
		DefaultToken: "0x1111111111111111111111111111111111111111",
		Now:          func() time.Time { return fixedNow },
	}, nil)
	return f
}

func (f *fixture) seed(t *testing.T, n int) []domain.LinkRecord {
	t.Helper()
	out := make([]domain.LinkRecord, 0, n)
	for i := range n {
		m, err := f.queue.Insert(context.Background(), domain.LinkRecord{
			SubmitterID: int64(100 + i),
			Target:      domain.TargetRef{URL: fmt.Sprintf("https://warpcast.com/u%d/0x%d", i, i)},
			TaskType:    domain.TaskLike,
		})
		require.NoError(t, err)
		out = append(out, m.Record)
	}
	return out
}

func TestListTasks_RejectsUnknownTaskType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListTasks(context.Background(), "follow")
	require.ErrorIs(t, err, domain.ErrInvalidTaskType)

	f.seed(t, 2)
	records, err := f.svc.ListTasks(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestVerifyActivity_RecordsCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	links := f.seed(t, 1)

	out, err := f.svc.VerifyActivity(ctx, engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)

	assert.True(t, out.Verified)
	assert.Equal(t, verify.StrategyViewerContext, out.Strategy)
	assert.Equal(t, 1, out.Tries)
	assert.Equal(t, []string{links[0].ID}, out.Progress.CompletedLinkIDs)

	rec, err := f.queue.Get(ctx, links[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, rec.CompletedBy)

	assert.Contains(t, f.events.types(), infraevents.ActivityVerified)
	require.Len(t, f.history.entries, 1)
	assert.Equal(t, metrics.OutcomeVerified, f.history.entries[0].Outcome)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.VerificationsTotal.WithLabelValues("like", "verified")), 0)
}

func TestVerifyActivity_LinkTargetCannotBeOverridden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	links := f.seed(t, 1)

	_, err := f.svc.VerifyActivity(ctx, engagement.VerifyRequest{
		UserID: 7,
		LinkID: links[0].ID,
		Target: domain.TargetRef{URL: "https://warpcast.com/me/0xmine"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = f.svc.VerifyActivity(ctx, engagement.VerifyRequest{
		UserID:   7,
		LinkID:   links[0].ID,
		TaskType: domain.TaskSupport,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTaskType)

	assert.Zero(t, f.verifier.callCount())
	p, err := f.progress.Get(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, p.CompletedLinkIDs)
}

func TestVerifyActivity_ChecksQueuedTarget(t *testing.T) {
	f := newFixture(t)
	links := f.seed(t, 1)

	out, err := f.svc.VerifyActivity(context.Background(), engagement.VerifyRequest{
		UserID:   7,
		LinkID:   links[0].ID,
		Target:   links[0].Target,
		TaskType: domain.TaskLike,
	})
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, links[0].Target, f.verifier.last.Target)
	assert.Equal(t, domain.TaskLike, f.verifier.last.TaskType)
}

func TestVerifyActivity_AlreadyCompletedSkipsEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	links := f.seed(t, 1)

	_, err := f.svc.VerifyActivity(ctx, engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)

	out, err := f.svc.VerifyActivity(ctx, engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)
	assert.True(t, out.AlreadyCompleted)
	assert.Equal(t, 1, f.verifier.callCount())
}

func TestVerifyActivity_RetriesTransientVerdicts(t *testing.T) {
	f := newFixture(t,
		verify.Result{Err: errUpstream},
		verify.Result{Err: errUpstream},
		verify.Result{Verified: true, Strategy: verify.StrategyReactionsScan},
	)
	links := f.seed(t, 1)

	out, err := f.svc.VerifyActivity(context.Background(), engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)

	assert.True(t, out.Verified)
	assert.Equal(t, 3, out.Tries)
	assert.Equal(t, verify.StrategyReactionsScan, out.Strategy)
}

func TestVerifyActivity_ExhaustedRetriesReturnNegative(t *testing.T) {
	f := newFixture(t, verify.Result{Err: errUpstream})
	links := f.seed(t, 1)

	out, err := f.svc.VerifyActivity(context.Background(), engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)

	assert.False(t, out.Verified)
	assert.True(t, out.Retryable)
	assert.Equal(t, 3, out.Tries)
	assert.NotEmpty(t, out.Diagnostic)
	assert.Empty(t, out.Progress.CompletedLinkIDs)
	assert.NotContains(t, f.events.types(), infraevents.ActivityVerified)
}

func TestVerifyActivity_FinalNegativeIsNotRetried(t *testing.T) {
	f := newFixture(t, verify.Result{})
	links := f.seed(t, 1)

	out, err := f.svc.VerifyActivity(context.Background(), engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.False(t, out.Retryable)
	assert.Equal(t, 1, out.Tries)
}

func TestVerifyActivity_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.VerifyActivity(ctx, engagement.VerifyRequest{UserID: 1, LinkID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.VerifyActivity(ctx, engagement.VerifyRequest{UserID: 1, TaskType: domain.TaskLike})
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = f.svc.VerifyActivity(ctx, engagement.VerifyRequest{
		UserID: 1, TaskType: "follow", Target: domain.TargetRef{URL: "x"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidTaskType)
}

func TestVerifyActivity_SupportMarksPurchased(t *testing.T) {
	f := newFixture(t, verify.Result{Verified: true, Strategy: verify.StrategyTokenBalance})

	out, err := f.svc.VerifyActivity(context.Background(), engagement.VerifyRequest{
		UserID: 3, TaskType: domain.TaskSupport, Wallet: "0xabc",
	})
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.True(t, out.Progress.Purchased)
}

func TestSubmitLink_GateAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	links := f.seed(t, 3)

	req := engagement.SubmitRequest{
		UserID: 7,
		Target: domain.TargetRef{URL: "https://warpcast.com/me/0xbeef"},
	}
	_, err := f.svc.SubmitLink(ctx, req)
	require.ErrorIs(t, err, domain.ErrNotEligible)

	for _, l := range links[:requiredActions] {
		_, err = f.svc.VerifyActivity(ctx, engagement.VerifyRequest{UserID: 7, LinkID: l.ID})
		require.NoError(t, err)
	}

	_, err = f.svc.SelectTaskType(ctx, 7, "recast")
	require.NoError(t, err)

	m, err := f.svc.SubmitLink(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskRecast, m.Record.TaskType)
	assert.Equal(t, int64(7), m.Record.SubmitterID)
	require.Len(t, m.Evicted, 1)
	assert.Equal(t, links[0].ID, m.Evicted[0].ID)

	types := f.events.types()
	assert.Contains(t, types, infraevents.LinkSubmitted)
	assert.Contains(t, types, infraevents.LinkEvicted)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.EvictionsTotal.WithLabelValues(engagement.ReasonCapacity)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(f.metrics.QueueDepth), 0)

	_, err = f.svc.SubmitLink(ctx, req)
	require.ErrorIs(t, err, domain.ErrAlreadySubmitted)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.SubmissionsTotal.WithLabelValues("refused")), 0)
}

func TestPinAndRemoveLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	links := f.seed(t, 1)

	m, err := f.svc.PinLink(ctx, queue.PinRequest{ID: links[0].ID, Slot: 1})
	require.NoError(t, err)
	assert.True(t, m.Record.Pinned)

	replaced, err := f.svc.PinLink(ctx, queue.PinRequest{
		Target: domain.TargetRef{TokenAddress: "0xabc"},
		Slot:   1,
	})
	require.NoError(t, err)
	require.Len(t, replaced.Evicted, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.EvictionsTotal.WithLabelValues(engagement.ReasonSlotReplaced)), 0)

	require.NoError(t, f.svc.RemoveLink(ctx, replaced.Record.ID))
	require.ErrorIs(t, f.svc.RemoveLink(ctx, replaced.Record.ID), domain.ErrNotFound)
	assert.Contains(t, f.events.types(), infraevents.LinkRemoved)
}

func TestDailyClaim_SameDayIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.DailyClaim(ctx, 5)
	require.NoError(t, err)
	assert.True(t, first.Claimed)
	assert.Equal(t, 1, first.Streak.CurrentStreak)

	second, err := f.svc.DailyClaim(ctx, 5)
	require.NoError(t, err)
	assert.False(t, second.Claimed)
	assert.Equal(t, first.Streak, second.Streak)
}

func TestReportPurchaseFailure(t *testing.T) {
	testCases := []struct {
		name       string
		report     engagement.FailureReport
		wantRetry  bool
		wantFailed bool
		wantClass  purchase.Class
	}{
		{
			name:       "user rejected is terminal",
			report:     engagement.FailureReport{Attempt: 1, Reason: "User rejected the request."},
			wantFailed: true,
			wantClass:  purchase.ClassUserRejected,
		},
		{
			name:       "balance amounts",
			report:     engagement.FailureReport{Attempt: 1, Need: "100", Have: "40"},
			wantFailed: true,
			wantClass:  purchase.ClassInsufficientFunds,
		},
		{
			name:      "network error retries",
			report:    engagement.FailureReport{Attempt: 1, Reason: "network error"},
			wantRetry: true,
			wantClass: purchase.ClassTransient,
		},
		{
			name:       "exhausted retries fail the watch",
			report:     engagement.FailureReport{Attempt: 4, Reason: "network error"},
			wantFailed: true,
			wantClass:  purchase.ClassTransient,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.svc.StartPurchase(ctx, 9, "0xwallet", "")
			require.NoError(t, err)

			tc.report.UserID = 9
			tc.report.AttemptID = "attempt-1"
			out, err := f.svc.ReportPurchaseFailure(ctx, tc.report)
			require.NoError(t, err)

			assert.Equal(t, tc.wantRetry, out.Decision.Retry)
			assert.Equal(t, tc.wantClass, out.Decision.Class)
			assert.Equal(t, tc.wantFailed, f.purchases.failed != nil)
		})
	}
}

func TestReportPurchaseFailure_StaleAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.StartPurchase(ctx, 9, "0xwallet", "")
	require.NoError(t, err)

	_, err = f.svc.ReportPurchaseFailure(ctx, engagement.FailureReport{
		UserID: 9, AttemptID: "older", Attempt: 1, Reason: "network error",
	})
	require.ErrorIs(t, err, domain.ErrSuperseded)
}

func TestPurchases_Disabled(t *testing.T) {
	q, err := queue.New(queue.NewMemoryBackend(), queue.Options{}, nil)
	require.NoError(t, err)
	store := progress.New(progress.NewMemoryBackend(), nil, nil)
	svc := engagement.NewService(engagement.Deps{
		Queue:    q,
		Progress: store,
		Gate:     gate.New(store, q, nil, gate.Options{}, nil),
	}, engagement.Options{}, nil)

	_, err = svc.StartPurchase(context.Background(), 1, "0xw", "0xt")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	_, err = svc.UserHistory(context.Background(), 1, history.Filter{})
	require.True(t, errors.Is(err, engagement.ErrHistoryDisabled))
}

func TestPurchaseSettled_EmitsEventAndHistory(t *testing.T) {
	f := newFixture(t)

	f.svc.PurchaseSettled(context.Background(), purchase.Attempt{
		ID: "a1", UserID: 4, State: purchase.StateConfirmed, TxRef: "0xtx",
	})

	assert.Equal(t, []infraevents.EventType{infraevents.PurchaseSettled}, f.events.types())
	entries, err := f.svc.UserHistory(context.Background(), 4, history.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.KindPurchase, entries[0].Kind)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PurchasesTotal.WithLabelValues("confirmed")), 0)
}

func TestResetProgress_CancelsPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SelectTaskType(ctx, 2, "like")
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetProgress(ctx, 2))

	p, err := f.svc.Progress(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, p.SelectedTaskType)
	assert.Equal(t, []int64{2}, f.purchases.cancelled)
}

func TestHistoryFailureDoesNotFailVerification(t *testing.T) {
	f := newFixture(t)
	f.history.fail = true
	links := f.seed(t, 1)

	out, err := f.svc.VerifyActivity(context.Background(), engagement.VerifyRequest{UserID: 7, LinkID: links[0].ID})
	require.NoError(t, err)
	assert.True(t, out.Verified)
}
