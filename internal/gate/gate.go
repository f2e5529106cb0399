// Package gate decides whether a user may publish a link and performs the
// insertion when they may.
package gate

import (
	"context"
	"errors"
	"fmt"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
)

// DefaultRequiredActions is the number of completed links needed to publish.
const DefaultRequiredActions = 5

// Decision sources.
const (
	SourceProgress = "progress"
	SourceOnChain  = "on_chain"
	SourceNone     = "none"
)

// Reasons reported with a refusal.
const (
	ReasonAllowed          = "eligible"
	ReasonNotEnoughActions = "not enough completed actions"
	ReasonPurchaseRequired = "token purchase required"
)

// Progress is the read/write subset of the progress store the gate uses.
type Progress interface {
	Get(ctx context.Context, userID int64) (domain.UserProgress, error)
	SetCurrentSubmission(ctx context.Context, userID int64, linkID string) (domain.UserProgress, error)
}

// Queue is the subset of the submission queue the gate uses.
type Queue interface {
	All(ctx context.Context) ([]domain.LinkRecord, error)
	InsertExclusive(ctx context.Context, rec domain.LinkRecord) (queue.Mutation, error)
}

// Options configures a Gate.
type Options struct {
	RequiredActions int
	// RequirePurchase additionally demands a confirmed purchase.
	RequirePurchase bool
}

// Decision is the outcome of CanPublish.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	Completed int    `json:"completed"`
	Required  int    `json:"required"`
	Source    string `json:"source"`
}

// Gate enforces eligibility and the one-active-submission rule.
type Gate struct {
	progress Progress
	queue    Queue
	balances purchase.BalanceReader
	opts     Options
	log      infralogger.Logger
}

// New creates a Gate. balances may be nil, which disables the on-chain
// fallback.
func New(progress Progress, q Queue, balances purchase.BalanceReader, opts Options, log infralogger.Logger) *Gate {
	if opts.RequiredActions <= 0 {
		opts.RequiredActions = DefaultRequiredActions
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Gate{progress: progress, queue: q, balances: balances, opts: opts, log: log}
}

// RequiredActions returns the configured threshold.
func (g *Gate) RequiredActions() int {
	return g.opts.RequiredActions
}

// CanPublish reports whether userID may publish. Stored progress is checked
// first; when it falls short and a wallet is given, holdings of the queued
// tokens are counted instead. Storage errors are returned, never treated as
// zero progress.
func (g *Gate) CanPublish(ctx context.Context, userID int64, wallet string) (Decision, error) {
	p, err := g.progress.Get(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("can publish: %w", err)
	}

	d := Decision{
		Completed: p.CompletedCount(),
		Required:  g.opts.RequiredActions,
		Source:    SourceProgress,
	}

	if d.Completed < d.Required {
		onChain, chainErr := g.reconstruct(ctx, wallet)
		if chainErr != nil {
			return Decision{}, fmt.Errorf("can publish: %w", chainErr)
		}
		if onChain.Met {
			d.Completed = onChain.Count
			d.Source = SourceOnChain
		}
	}

	switch {
	case d.Completed < d.Required:
		d.Reason = ReasonNotEnoughActions
		d.Source = SourceNone
	case g.opts.RequirePurchase && !p.Purchased:
		d.Reason = ReasonPurchaseRequired
	default:
		d.Allowed = true
		d.Reason = ReasonAllowed
	}
	return d, nil
}

func (g *Gate) reconstruct(ctx context.Context, wallet string) (purchase.Reconstruction, error) {
	if g.balances == nil || wallet == "" {
		return purchase.Reconstruction{}, nil
	}

	records, err := g.queue.All(ctx)
	if err != nil {
		return purchase.Reconstruction{}, err
	}

	r := purchase.Reconstruct(ctx, g.balances, wallet, records, g.opts.RequiredActions)
	if r.Err != nil {
		g.log.Debug("On-chain progress partially unavailable",
			infralogger.Int("failed", r.Failed),
			infralogger.Error(r.Err),
		)
	}
	return r, nil
}

// Submit inserts rec for userID after checking that the user's previous
// submission has left the queue and that they are eligible.
func (g *Gate) Submit(ctx context.Context, userID int64, wallet string, rec domain.LinkRecord) (queue.Mutation, error) {
	p, err := g.progress.Get(ctx, userID)
	if err != nil {
		return queue.Mutation{}, fmt.Errorf("submit: %w", err)
	}

	if p.CurrentSubmissionID != "" {
		active, activeErr := g.stillQueued(ctx, p.CurrentSubmissionID)
		if activeErr != nil {
			return queue.Mutation{}, fmt.Errorf("submit: %w", activeErr)
		}
		if active {
			return queue.Mutation{}, fmt.Errorf("submit: link %s: %w", p.CurrentSubmissionID, domain.ErrAlreadySubmitted)
		}
	}

	d, err := g.CanPublish(ctx, userID, wallet)
	if err != nil {
		return queue.Mutation{}, fmt.Errorf("submit: %w", err)
	}
	if !d.Allowed {
		return queue.Mutation{}, fmt.Errorf("submit: %s (%d/%d): %w", d.Reason, d.Completed, d.Required, domain.ErrNotEligible)
	}

	// Concurrent submits can all pass the checks above; the queue refuses
	// every insert but the first.
	rec.SubmitterID = userID
	m, err := g.queue.InsertExclusive(ctx, rec)
	if err != nil {
		return queue.Mutation{}, fmt.Errorf("submit: %w", err)
	}

	if _, err = g.progress.SetCurrentSubmission(ctx, userID, m.Record.ID); err != nil {
		return m, fmt.Errorf("submit: record current submission: %w", err)
	}

	g.log.Info("Link submitted",
		infralogger.UserID(userID),
		infralogger.LinkID(m.Record.ID),
		infralogger.TaskType(m.Record.TaskType.String()),
		infralogger.Int("evicted", len(m.Evicted)),
	)
	return m, nil
}

func (g *Gate) stillQueued(ctx context.Context, linkID string) (bool, error) {
	records, err := g.queue.All(ctx)
	if err != nil {
		return false, err
	}
	for i := range records {
		if records[i].ID == linkID {
			return true, nil
		}
	}
	return false, nil
}

// IsRefusal reports whether err is a gate refusal rather than a failure.
func IsRefusal(err error) bool {
	return errors.Is(err, domain.ErrAlreadySubmitted) || errors.Is(err, domain.ErrNotEligible)
}
