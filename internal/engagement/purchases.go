package engagement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	infraevents "github.com/jonesrussell/north-cloud/likechat/infrastructure/events"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
)

var errPurchasesDisabled = fmt.Errorf("%w: purchase tracking not configured", domain.ErrUpstreamUnavailable)

// FailureReport is a wallet-side failure sent by the client.
type FailureReport struct {
	UserID    int64
	AttemptID string
	// Attempt is the 1-based number of the attempt that failed.
	Attempt int
	Reason  string
	// Need and Have are decimal token amounts for balance failures.
	Need string
	Have string
}

// FailureOutcome tells the client whether to retry.
type FailureOutcome struct {
	Decision purchase.Decision `json:"decision"`
	Attempt  purchase.Attempt  `json:"attempt"`
}

// StartPurchase begins watching for the user's purchase, superseding any
// earlier attempt.
func (s *Service) StartPurchase(ctx context.Context, userID int64, wallet, token string) (purchase.Attempt, error) {
	if s.deps.Purchases == nil {
		return purchase.Attempt{}, errPurchasesDisabled
	}
	return s.deps.Purchases.Start(ctx, purchase.StartRequest{UserID: userID, Wallet: wallet, Token: token})
}

// ReportPurchase attaches a transaction hash to the current attempt.
func (s *Service) ReportPurchase(ctx context.Context, userID int64, attemptID, txHash string) (purchase.Attempt, error) {
	if s.deps.Purchases == nil {
		return purchase.Attempt{}, errPurchasesDisabled
	}
	if txHash == "" {
		return purchase.Attempt{}, fmt.Errorf("%w: tx hash is required", domain.ErrInvalidTarget)
	}
	return s.deps.Purchases.Report(ctx, userID, attemptID, txHash)
}

// ReportPurchaseFailure classifies a failure and decides on a retry. Terminal
// decisions fail the watch; retryable ones leave it running.
func (s *Service) ReportPurchaseFailure(_ context.Context, report FailureReport) (FailureOutcome, error) {
	if s.deps.Purchases == nil {
		return FailureOutcome{}, errPurchasesDisabled
	}

	cause := failureCause(report)
	attemptNo := report.Attempt
	if attemptNo < 1 {
		attemptNo = 1
	}
	decision := s.policy.Decide(attemptNo, cause)
	s.deps.Metrics.RecordFailureDecision(string(decision.Class), decision.Retry)

	var (
		attempt purchase.Attempt
		err     error
	)
	if decision.Terminal {
		attempt, err = s.deps.Purchases.Fail(report.UserID, report.AttemptID, fmt.Errorf("%w: %w", decision.Class.Err(), cause))
	} else {
		current, ok := s.deps.Purchases.Get(report.UserID)
		switch {
		case !ok:
			err = fmt.Errorf("purchase attempt for user %d: %w", report.UserID, domain.ErrNotFound)
		case report.AttemptID != "" && current.ID != report.AttemptID:
			err = fmt.Errorf("purchase attempt %s: %w", report.AttemptID, domain.ErrSuperseded)
		default:
			attempt = current
		}
	}
	if err != nil {
		return FailureOutcome{Decision: decision}, err
	}

	s.log.Info("Purchase failure reported",
		infralogger.UserID(report.UserID),
		infralogger.String("class", string(decision.Class)),
		infralogger.Bool("retry", decision.Retry),
		infralogger.Int("remaining_attempts", decision.RemainingAttempts),
	)
	return FailureOutcome{Decision: decision, Attempt: attempt}, nil
}

func failureCause(report FailureReport) error {
	need, okNeed := new(big.Int).SetString(report.Need, 10)
	have, okHave := new(big.Int).SetString(report.Have, 10)
	if okNeed && okHave {
		return &purchase.BalanceError{Need: need, Have: have}
	}
	if report.Reason == "" {
		return errors.New("unknown wallet error")
	}
	return errors.New(report.Reason)
}

// PurchaseStatus returns the user's latest attempt.
func (s *Service) PurchaseStatus(userID int64) (purchase.Attempt, error) {
	if s.deps.Purchases == nil {
		return purchase.Attempt{}, errPurchasesDisabled
	}
	a, ok := s.deps.Purchases.Get(userID)
	if !ok {
		return purchase.Attempt{}, fmt.Errorf("purchase attempt for user %d: %w", userID, domain.ErrNotFound)
	}
	return a, nil
}

// CancelPurchase tears down the user's running watch.
func (s *Service) CancelPurchase(userID int64) (bool, error) {
	if s.deps.Purchases == nil {
		return false, errPurchasesDisabled
	}
	return s.deps.Purchases.Cancel(userID), nil
}

// PurchaseSettled is the purchase manager's settlement hook.
func (s *Service) PurchaseSettled(ctx context.Context, a purchase.Attempt) {
	s.deps.Metrics.RecordPurchase(a.State.String())
	s.recordHistory(ctx, &history.Entry{
		Kind:    history.KindPurchase,
		UserID:  a.UserID,
		Outcome: a.State.String(),
		Detail:  a.TxRef,
	})
	s.publish(infraevents.Event{
		EventType: infraevents.PurchaseSettled,
		UserID:    a.UserID,
		Payload: infraevents.PurchasePayload{
			AttemptID: a.ID,
			State:     a.State.String(),
			TxRef:     a.TxRef,
			Checks:    a.Checks,
		},
	})
}
