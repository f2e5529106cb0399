package verify

import (
	"context"
	"fmt"
	"slices"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/social"
)

// Strategy names, reported in Result.Strategy and metrics labels.
const (
	StrategyViewerContext   = "viewer-context"
	StrategyReactionsScan   = "reactions-scan"
	StrategyInlineReplies   = "inline-replies"
	StrategyRepliesEndpoint = "replies-endpoint"
	StrategyParentVariants  = "parent-id-variants"
	StrategyUserCastsScan   = "user-casts-scan"
	StrategyTokenBalance    = "token-balance"
)

type input struct {
	req  Request
	hash string
}

type strategy struct {
	name string
	run  func(ctx context.Context, e *Engine, in input) (bool, error)
}

var (
	reactionChain = []strategy{
		{name: StrategyViewerContext, run: viewerContext},
		{name: StrategyReactionsScan, run: reactionsScan},
	}
	commentChain = []strategy{
		{name: StrategyInlineReplies, run: inlineReplies},
		{name: StrategyRepliesEndpoint, run: repliesEndpoint},
		{name: StrategyParentVariants, run: parentVariants},
		{name: StrategyUserCastsScan, run: userCastsScan},
	}
	supportChain = []strategy{
		{name: StrategyTokenBalance, run: tokenBalance},
	}
)

// viewerContext trusts the API's per-viewer flag when it is present.
func viewerContext(ctx context.Context, e *Engine, in input) (bool, error) {
	cast, err := e.api.CastByHash(ctx, in.hash, in.req.UserID)
	if err != nil {
		return false, err
	}
	if !cast.Viewer.Present {
		return false, nil
	}

	switch in.req.TaskType {
	case domain.TaskRecast:
		return cast.Viewer.Recasted, nil
	default:
		return cast.Viewer.Liked, nil
	}
}

// reactionsScan looks for the user among the reaction actors.
func reactionsScan(ctx context.Context, e *Engine, in input) (bool, error) {
	cast, err := e.api.CastByHash(ctx, in.hash, 0)
	if err != nil {
		return false, err
	}

	actors := cast.LikeFIDs
	if in.req.TaskType == domain.TaskRecast {
		actors = cast.RecastFIDs
	}
	return slices.Contains(actors, in.req.UserID), nil
}

func inlineReplies(ctx context.Context, e *Engine, in input) (bool, error) {
	cast, err := e.api.CastByHash(ctx, in.hash, 0)
	if err != nil {
		return false, err
	}
	return authoredBy(cast.Replies, in.req.UserID), nil
}

func repliesEndpoint(ctx context.Context, e *Engine, in input) (bool, error) {
	replies, err := e.api.Conversation(ctx, in.hash)
	if err != nil {
		return false, err
	}
	return authoredBy(replies, in.req.UserID), nil
}

// parentVariants queries by parent hash in each prefix form until one
// answers with a reply by the user.
func parentVariants(ctx context.Context, e *Engine, in input) (bool, error) {
	var lastErr error
	for _, variant := range social.HashVariants(in.hash) {
		casts, err := e.api.CastsByParent(ctx, variant)
		if err != nil {
			lastErr = err
			continue
		}
		if authoredBy(casts, in.req.UserID) {
			return true, nil
		}
	}
	return false, lastErr
}

// userCastsScan checks the user's own recent casts for a reply to the target.
func userCastsScan(ctx context.Context, e *Engine, in input) (bool, error) {
	casts, err := e.api.UserCasts(ctx, in.req.UserID)
	if err != nil {
		return false, err
	}
	for _, c := range casts {
		if social.SameHash(c.ParentHash, in.hash) {
			return true, nil
		}
	}
	return false, nil
}

// tokenBalance treats any non-zero balance of the target token as a purchase.
func tokenBalance(ctx context.Context, e *Engine, in input) (bool, error) {
	if e.balances == nil {
		return false, fmt.Errorf("%w: chain reader not configured", domain.ErrUpstreamUnavailable)
	}
	if in.req.Target.TokenAddress == "" || in.req.Wallet == "" {
		return false, fmt.Errorf("%w: support task needs a token address and wallet", domain.ErrInvalidTarget)
	}

	balance, err := e.balances.TokenBalance(ctx, in.req.Target.TokenAddress, in.req.Wallet)
	if err != nil {
		return false, err
	}
	if balance == nil {
		return false, fmt.Errorf("%w: empty balance for %s", domain.ErrUpstreamUnavailable, in.req.Target.TokenAddress)
	}
	return balance.Sign() > 0, nil
}

func authoredBy(casts []social.Cast, fid int64) bool {
	return slices.ContainsFunc(casts, func(c social.Cast) bool { return c.AuthorFID == fid })
}
