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
	"github.com/jonesrussell/north-cloud/likechat/internal/gate"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
	"github.com/jonesrussell/north-cloud/likechat/internal/metrics"
	"github.com/jonesrussell/north-cloud/likechat/internal/progress"
	"github.com/jonesrussell/north-cloud/likechat/internal/verify"
)

var errTransientVerdict = errors.New("transient verification failure")

// VerifyRequest asks whether a user performed the action a link asks for.
// With LinkID set, the queued record's Target and TaskType are checked;
// a request naming a different target or task type is rejected.
type VerifyRequest struct {
	UserID   int64
	LinkID   string
	Target   domain.TargetRef
	TaskType domain.TaskType
	Wallet   string
}

// VerifyOutcome is the verdict plus the user's progress afterwards.
type VerifyOutcome struct {
	Verified         bool                `json:"verified"`
	AlreadyCompleted bool                `json:"already_completed,omitempty"`
	Strategy         string              `json:"strategy,omitempty"`
	Hash             string              `json:"hash,omitempty"`
	Strategies       []string            `json:"strategies,omitempty"`
	Tries            int                 `json:"tries"`
	Retryable        bool                `json:"retryable"`
	Diagnostic       string              `json:"diagnostic,omitempty"`
	Progress         domain.UserProgress `json:"progress"`
}

// VerifyActivity runs the verification engine, retrying transient negative
// verdicts, and records the completion on success.
func (s *Service) VerifyActivity(ctx context.Context, req VerifyRequest) (VerifyOutcome, error) {
	started := s.opts.Now()

	if err := s.resolveVerifyRequest(ctx, &req); err != nil {
		return VerifyOutcome{}, err
	}

	if req.LinkID != "" {
		p, err := s.deps.Progress.Get(ctx, req.UserID)
		if err != nil {
			return VerifyOutcome{}, fmt.Errorf("verify activity: %w", err)
		}
		if p.HasCompleted(req.LinkID) {
			return VerifyOutcome{Verified: true, AlreadyCompleted: true, Progress: p}, nil
		}
	}

	result, tries, err := s.verifyWithRetry(ctx, req)
	if err != nil {
		return VerifyOutcome{}, err
	}

	out := VerifyOutcome{
		Verified:   result.Verified,
		Strategy:   result.Strategy,
		Hash:       result.Hash,
		Strategies: result.Attempts,
		Tries:      tries,
		Retryable:  result.Transient(),
	}
	if result.Err != nil {
		out.Diagnostic = result.Err.Error()
	}

	outcome := metrics.OutcomeRejected
	switch {
	case result.Verified:
		outcome = metrics.OutcomeVerified
	case result.Err != nil:
		outcome = metrics.OutcomeError
	}
	s.deps.Metrics.RecordVerification(req.TaskType.String(), outcome, result.Strategy, s.opts.Now().Sub(started))

	s.recordHistory(ctx, &history.Entry{
		Kind:     history.KindVerification,
		UserID:   req.UserID,
		LinkID:   req.LinkID,
		TaskType: req.TaskType.String(),
		Outcome:  outcome,
		Strategy: result.Strategy,
		Detail:   out.Diagnostic,
	})

	if !result.Verified {
		p, getErr := s.deps.Progress.Get(ctx, req.UserID)
		if getErr != nil {
			return out, fmt.Errorf("verify activity: %w", getErr)
		}
		out.Progress = p
		return out, nil
	}

	p, err := s.recordCompletion(ctx, req)
	if err != nil {
		return out, err
	}
	out.Progress = p

	s.publish(infraevents.Event{
		EventType: infraevents.ActivityVerified,
		UserID:    req.UserID,
		Payload: infraevents.ActivityPayload{
			LinkID:   req.LinkID,
			TaskType: req.TaskType.String(),
			Strategy: result.Strategy,
			Hash:     result.Hash,
		},
	})
	return out, nil
}

func (s *Service) resolveVerifyRequest(ctx context.Context, req *VerifyRequest) error {
	if req.LinkID != "" {
		rec, err := s.deps.Queue.Get(ctx, req.LinkID)
		if err != nil {
			return fmt.Errorf("verify activity: %w", err)
		}
		if !req.Target.Empty() && !req.Target.SameTarget(rec.Target) {
			return fmt.Errorf("%w: target does not match link %s", domain.ErrInvalidTarget, rec.ID)
		}
		if req.TaskType != "" && req.TaskType != rec.TaskType {
			return fmt.Errorf("%w: link %s asks for %s", domain.ErrInvalidTaskType, rec.ID, rec.TaskType)
		}
		req.Target = rec.Target
		req.TaskType = rec.TaskType
	}

	if req.TaskType == domain.TaskSupport && req.Target.TokenAddress == "" {
		req.Target.TokenAddress = s.opts.DefaultToken
	}
	if !req.TaskType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, req.TaskType)
	}
	if req.Target.Empty() {
		return domain.ErrInvalidTarget
	}
	return nil
}

// verifyWithRetry re-runs the engine while its verdict is transient. Only a
// cancelled context is returned as an error; exhausting the schedule yields
// the last negative verdict.
func (s *Service) verifyWithRetry(ctx context.Context, req VerifyRequest) (verify.Result, int, error) {
	cfg := s.opts.VerifyRetry
	cfg.IsRetryable = func(err error) bool { return errors.Is(err, errTransientVerdict) }
	cfg.OnRetry = func(attempt int, delay time.Duration, _ error) {
		s.log.Debug("Retrying verification",
			infralogger.UserID(req.UserID),
			infralogger.LinkID(req.LinkID),
			infralogger.Int("attempt", attempt),
			infralogger.Duration("delay", delay),
		)
	}

	vreq := verify.Request{
		Target:   req.Target,
		UserID:   req.UserID,
		TaskType: req.TaskType,
		Wallet:   req.Wallet,
	}

	var result verify.Result
	tries := 0
	err := retry.Retry(ctx, cfg, func() error {
		tries++
		result = s.deps.Verifier.Verify(ctx, vreq)
		if result.Transient() {
			return errTransientVerdict
		}
		return nil
	})
	if errors.Is(err, retry.ErrContextCancelled) {
		return verify.Result{}, tries, fmt.Errorf("verify activity: %w", ctx.Err())
	}
	return result, tries, nil
}

// recordCompletion persists a verified action on the progress store and the
// queued record. A record evicted in the meantime only loses the queue side.
func (s *Service) recordCompletion(ctx context.Context, req VerifyRequest) (domain.UserProgress, error) {
	var (
		p   domain.UserProgress
		err error
	)

	switch {
	case req.LinkID != "":
		p, err = s.deps.Progress.MarkCompleted(ctx, req.UserID, req.LinkID)
	default:
		p, err = s.deps.Progress.Get(ctx, req.UserID)
	}
	if err != nil {
		return p, fmt.Errorf("record completion: %w", err)
	}

	if req.TaskType == domain.TaskSupport {
		if p, err = s.deps.Progress.SetPurchased(ctx, req.UserID, ""); err != nil {
			return p, fmt.Errorf("record purchase: %w", err)
		}
	}

	if req.LinkID == "" {
		return p, nil
	}
	if _, err = s.deps.Queue.MarkCompleted(ctx, req.LinkID, req.UserID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return p, fmt.Errorf("record completion: %w", err)
		}
		s.log.Debug("Completed link already left the queue",
			infralogger.LinkID(req.LinkID),
			infralogger.UserID(req.UserID),
		)
	}
	return p, nil
}

// Progress returns a user's progress, creating an empty record on first access.
func (s *Service) Progress(ctx context.Context, userID int64) (domain.UserProgress, error) {
	return s.deps.Progress.Get(ctx, userID)
}

// SelectTaskType records the task type the user wants to submit with.
func (s *Service) SelectTaskType(ctx context.Context, userID int64, taskType string) (domain.UserProgress, error) {
	t, err := domain.ParseTaskType(taskType)
	if err != nil {
		return domain.UserProgress{}, err
	}
	return s.deps.Progress.SetSelectedTask(ctx, userID, t)
}

// DailyClaim advances the user's streak once per UTC day.
func (s *Service) DailyClaim(ctx context.Context, userID int64) (progress.ClaimResult, error) {
	res, err := s.deps.Progress.RecordDailyClaim(ctx, userID, s.opts.Now())
	if err != nil {
		return res, err
	}
	s.deps.Metrics.RecordClaim(res.Claimed)
	return res, nil
}

// Eligibility reports whether the user may publish a link.
func (s *Service) Eligibility(ctx context.Context, userID int64, wallet string) (gate.Decision, error) {
	return s.deps.Gate.CanPublish(ctx, userID, wallet)
}

// ResetProgress deletes a user's progress and tears down any purchase watch.
func (s *Service) ResetProgress(ctx context.Context, userID int64) error {
	if err := s.deps.Progress.Reset(ctx, userID); err != nil {
		return err
	}
	if s.deps.Purchases != nil {
		s.deps.Purchases.Cancel(userID)
	}
	s.log.Info("User progress reset", infralogger.UserID(userID))
	return nil
}
