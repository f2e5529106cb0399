// Package engagement implements the operations exposed by the HTTP API and
// CLI on top of the queue, progress store, verification engine, publish
// gate and purchase manager.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	infraevents "github.com/jonesrussell/north-cloud/likechat/infrastructure/events"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/events"
	"github.com/jonesrussell/north-cloud/likechat/internal/gate"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
	"github.com/jonesrussell/north-cloud/likechat/internal/metrics"
	"github.com/jonesrussell/north-cloud/likechat/internal/progress"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
	"github.com/jonesrussell/north-cloud/likechat/internal/verify"
)

// Eviction reasons carried on LINK_EVICTED events.
const (
	ReasonCapacity     = "capacity"
	ReasonSlotReplaced = "slot_replaced"
)

// ErrHistoryDisabled is returned by history reads when no database is configured.
var ErrHistoryDisabled = errors.New("history is not enabled")

// Verifier checks a single engagement action.
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) verify.Result
}

// Purchases tracks on-chain purchase attempts.
type Purchases interface {
	Start(ctx context.Context, req purchase.StartRequest) (purchase.Attempt, error)
	Report(ctx context.Context, userID int64, attemptID, txHash string) (purchase.Attempt, error)
	Fail(userID int64, attemptID string, cause error) (purchase.Attempt, error)
	Get(userID int64) (purchase.Attempt, bool)
	Cancel(userID int64) bool
}

// HistoryStore is the audit log.
type HistoryStore interface {
	Record(ctx context.Context, e *history.Entry) error
	ListByUser(ctx context.Context, userID int64, filter history.Filter) ([]history.Entry, error)
}

// EventPublisher emits lifecycle events.
type EventPublisher interface {
	PublishAsync(event infraevents.Event)
}

// Deps are the collaborators of a Service. Purchases, History, Events and
// Metrics are optional.
type Deps struct {
	Queue     *queue.Queue
	Progress  *progress.Store
	Verifier  Verifier
	Gate      *gate.Gate
	Purchases Purchases
	History   HistoryStore
	Events    EventPublisher
	Metrics   *metrics.Metrics
}

// Options tunes a Service.
type Options struct {
	// VerifyRetry schedules retries of transient verification failures.
	VerifyRetry retry.Config
	// PurchaseRetryDelays feeds the purchase retry policy.
	PurchaseRetryDelays []time.Duration
	// DefaultToken is the token a support task targets when a request names none.
	DefaultToken string
	Now          func() time.Time
}

// Service orchestrates the engagement loop.
type Service struct {
	deps   Deps
	opts   Options
	policy purchase.RetryPolicy
	log    infralogger.Logger
}

// NewService creates a Service.
func NewService(deps Deps, opts Options, log infralogger.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.VerifyRetry.Delays) == 0 && opts.VerifyRetry.InitialDelay == 0 {
		opts.VerifyRetry = retry.Config{
			MaxAttempts:  3,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		}
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		policy: purchase.NewRetryPolicy(opts.PurchaseRetryDelays),
		log:    log,
	}
}

// RequiredActions is the number of completed links needed to publish.
func (s *Service) RequiredActions() int {
	return s.deps.Gate.RequiredActions()
}

// ListTasks returns the most recent queued links, optionally filtered by
// task type. An empty taskType lists everything.
func (s *Service) ListTasks(ctx context.Context, taskType string) ([]domain.LinkRecord, error) {
	var t domain.TaskType
	if taskType != "" {
		parsed, err := domain.ParseTaskType(taskType)
		if err != nil {
			return nil, err
		}
		t = parsed
	}

	records, err := s.deps.Queue.ListByTaskType(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return records, nil
}

// SubmitRequest publishes a user's own link.
type SubmitRequest struct {
	UserID      int64
	Wallet      string
	DisplayName string
	AvatarURL   string
	Target      domain.TargetRef
	// TaskType defaults to the user's selected task type, then like.
	TaskType domain.TaskType
}

// SubmitLink runs the publish gate and inserts the link.
func (s *Service) SubmitLink(ctx context.Context, req SubmitRequest) (queue.Mutation, error) {
	if req.Target.Empty() {
		return queue.Mutation{}, domain.ErrInvalidTarget
	}

	taskType, err := s.submissionTaskType(ctx, req)
	if err != nil {
		return queue.Mutation{}, err
	}

	rec := domain.LinkRecord{
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Target:      req.Target,
		TaskType:    taskType,
	}

	m, err := s.deps.Gate.Submit(ctx, req.UserID, req.Wallet, rec)
	if err != nil {
		if gate.IsRefusal(err) {
			s.deps.Metrics.RecordSubmission("refused")
		} else {
			s.deps.Metrics.RecordSubmission("error")
		}
		return m, err
	}

	s.deps.Metrics.RecordSubmission("accepted")
	s.publishLink(infraevents.LinkSubmitted, &m.Record, "")
	s.reportEvictions(m.Evicted)
	s.refreshQueueDepth(ctx)
	s.recordHistory(ctx, &history.Entry{
		Kind:     history.KindSubmission,
		UserID:   req.UserID,
		LinkID:   m.Record.ID,
		TaskType: m.Record.TaskType.String(),
		Outcome:  "accepted",
		Detail:   m.Record.Target.Key(),
	})
	return m, nil
}

func (s *Service) submissionTaskType(ctx context.Context, req SubmitRequest) (domain.TaskType, error) {
	if req.TaskType != "" {
		if !req.TaskType.Valid() {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, req.TaskType)
		}
		return req.TaskType, nil
	}

	p, err := s.deps.Progress.Get(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if p.SelectedTaskType != "" {
		return p.SelectedTaskType, nil
	}
	return domain.TaskLike, nil
}

// PinLink places a link in an administrative slot.
func (s *Service) PinLink(ctx context.Context, req queue.PinRequest) (queue.Mutation, error) {
	m, err := s.deps.Queue.Pin(ctx, req)
	if err != nil {
		return m, err
	}

	s.publishLink(infraevents.LinkPinned, &m.Record, "")
	s.reportEvictions(m.Evicted)
	s.refreshQueueDepth(ctx)
	return m, nil
}

// RemoveLink deletes a queued link regardless of pin status.
func (s *Service) RemoveLink(ctx context.Context, id string) error {
	rec, err := s.deps.Queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if err = s.deps.Queue.Remove(ctx, id); err != nil {
		return err
	}

	s.publishLink(infraevents.LinkRemoved, &rec, "")
	s.refreshQueueDepth(ctx)
	return nil
}

// QueueSnapshot returns every stored record in storage order.
func (s *Service) QueueSnapshot(ctx context.Context) ([]domain.LinkRecord, error) {
	return s.deps.Queue.All(ctx)
}

func (s *Service) reportEvictions(evicted []domain.LinkRecord) {
	for i := range evicted {
		reason := ReasonCapacity
		if evicted[i].Pinned {
			reason = ReasonSlotReplaced
		}
		s.deps.Metrics.RecordEvictions(reason, 1)
		s.publishLink(infraevents.LinkEvicted, &evicted[i], reason)
	}
}

func (s *Service) refreshQueueDepth(ctx context.Context) {
	if s.deps.Metrics == nil {
		return
	}
	records, err := s.deps.Queue.All(ctx)
	if err != nil {
		return
	}
	s.deps.Metrics.SetQueueDepth(len(records))
}

func (s *Service) publishLink(eventType infraevents.EventType, rec *domain.LinkRecord, reason string) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.PublishAsync(events.LinkEvent(eventType, rec, reason))
}

func (s *Service) publish(event infraevents.Event) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.PublishAsync(event)
}

// recordHistory writes an audit entry. Failures are logged, never returned.
func (s *Service) recordHistory(ctx context.Context, e *history.Entry) {
	if s.deps.History == nil {
		return
	}
	if err := s.deps.History.Record(ctx, e); err != nil {
		s.log.Warn("Failed to record history",
			infralogger.String("kind", string(e.Kind)),
			infralogger.UserID(e.UserID),
			infralogger.Error(err),
		)
	}
}

// UserHistory lists a user's audit entries.
func (s *Service) UserHistory(ctx context.Context, userID int64, filter history.Filter) ([]history.Entry, error) {
	if s.deps.History == nil {
		return nil, ErrHistoryDisabled
	}
	return s.deps.History.ListByUser(ctx, userID, filter)
}
