// Package verify decides whether a user performed an engagement action by
// running an ordered chain of strategies against the social API or chain.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/social"
)

const defaultStrategyTimeout = 6 * time.Second

// SocialAPI is the read API the social strategies query.
type SocialAPI interface {
	Enabled() bool
	CastByURL(ctx context.Context, castURL string) (social.Cast, error)
	CastByHash(ctx context.Context, hash string, viewerFID int64) (social.Cast, error)
	Conversation(ctx context.Context, hash string) ([]social.Cast, error)
	CastsByParent(ctx context.Context, parentHash string) ([]social.Cast, error)
	UserCasts(ctx context.Context, fid int64) ([]social.Cast, error)
}

// BalanceReader reads ERC-20 balances.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, wallet string) (*big.Int, error)
}

// Request names the action to check.
type Request struct {
	Target   domain.TargetRef
	UserID   int64
	TaskType domain.TaskType
	Wallet   string
}

// Result is the verdict. Err joins every strategy error and is diagnostic
// only: a false verdict with a nil Err means every strategy answered no.
type Result struct {
	Verified bool     `json:"verified"`
	Strategy string   `json:"strategy,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	Attempts []string `json:"attempts"`
	Err      error    `json:"-"`
}

// Transient reports whether retrying could change a negative verdict.
// Resolution failures, bad input and a missing credential are final.
func (r Result) Transient() bool {
	switch {
	case r.Verified || r.Err == nil:
		return false
	case errors.Is(r.Err, errMissingCredential),
		errors.Is(r.Err, domain.ErrResolution),
		errors.Is(r.Err, domain.ErrInvalidTarget),
		errors.Is(r.Err, domain.ErrInvalidTaskType):
		return false
	}
	return errors.Is(r.Err, domain.ErrUpstreamUnavailable) ||
		errors.Is(r.Err, domain.ErrTransient) ||
		errors.Is(r.Err, context.DeadlineExceeded)
}

var errMissingCredential = fmt.Errorf("%w: social api key not configured", domain.ErrUpstreamUnavailable)

// Options configures an Engine.
type Options struct {
	// StrategyTimeout bounds each strategy, resolution included.
	StrategyTimeout time.Duration
}

// Engine runs the strategy chains. It is safe for concurrent use.
type Engine struct {
	api      SocialAPI
	balances BalanceReader
	timeout  time.Duration
	log      infralogger.Logger
}

// NewEngine creates an Engine. Either dependency may be nil; tasks that need
// a missing one verify as false with domain.ErrUpstreamUnavailable.
func NewEngine(api SocialAPI, balances BalanceReader, opts Options, log infralogger.Logger) *Engine {
	if opts.StrategyTimeout <= 0 {
		opts.StrategyTimeout = defaultStrategyTimeout
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Engine{api: api, balances: balances, timeout: opts.StrategyTimeout, log: log}
}

// Verify never returns an error; failures are reported through Result.Err.
func (e *Engine) Verify(ctx context.Context, req Request) Result {
	if !req.TaskType.Valid() {
		return Result{Err: fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, req.TaskType)}
	}

	if !req.TaskType.RequiresContent() {
		return e.run(ctx, req, "", supportChain)
	}

	if e.api == nil || !e.api.Enabled() {
		return Result{Err: errMissingCredential}
	}

	hash, err := e.resolve(ctx, req.Target)
	if err != nil {
		e.log.Info("Verification target unresolved",
			infralogger.UserID(req.UserID),
			infralogger.TaskType(req.TaskType.String()),
			infralogger.Error(err),
		)
		return Result{Err: err}
	}

	chain := reactionChain
	if req.TaskType == domain.TaskComment {
		chain = commentChain
	}
	return e.run(ctx, req, hash, chain)
}

// resolve maps the target to a content hash: an explicit hash, a full hash
// embedded in the URL, or a remote lookup by URL.
func (e *Engine) resolve(ctx context.Context, target domain.TargetRef) (string, error) {
	if target.ContentHash != "" {
		return domain.NormalizeHash(target.ContentHash), nil
	}
	if target.URL == "" {
		return "", fmt.Errorf("%w: target has no url or hash", domain.ErrResolution)
	}
	if hash, ok := social.ExtractHash(target.URL); ok {
		return hash, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cast, err := e.api.CastByURL(ctx, target.URL)
	if err != nil {
		return "", fmt.Errorf("%w: lookup %s: %w", domain.ErrResolution, target.URL, err)
	}
	return domain.NormalizeHash(cast.Hash), nil
}

// run executes strategies in order and stops at the first match.
func (e *Engine) run(ctx context.Context, req Request, hash string, chain []strategy) Result {
	result := Result{Hash: hash, Attempts: make([]string, 0, len(chain))}
	var errs []error

	for _, s := range chain {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		result.Attempts = append(result.Attempts, s.name)
		matched, err := e.attempt(ctx, s, input{req: req, hash: hash})
		if err != nil {
			e.log.Debug("Verification strategy failed",
				infralogger.Strategy(s.name),
				infralogger.UserID(req.UserID),
				infralogger.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
		if matched {
			result.Verified = true
			result.Strategy = s.name
			return result
		}
	}

	result.Err = errors.Join(errs...)
	return result
}

// attempt runs one strategy under its own timeout and turns a panic into an error.
func (e *Engine) attempt(ctx context.Context, s strategy, in input) (matched bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("%w: strategy panicked: %v", domain.ErrTransient, r)
		}
	}()

	return s.run(ctx, e, in)
}
