package verify_test

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/social"
	"github.com/jonesrussell/north-cloud/likechat/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullHash = "0x" + "00112233445566778899aabbccddeeff00112233"

var errBoom = errors.New("502 bad gateway")

type fakeAPI struct {
	disabled      bool
	castByURL     func(url string) (social.Cast, error)
	castByHash    func(ctx context.Context, hash string, viewer int64) (social.Cast, error)
	conversation  func(hash string) ([]social.Cast, error)
	castsByParent func(parent string) ([]social.Cast, error)
	userCasts     func(fid int64) ([]social.Cast, error)

	mu      sync.Mutex
	parents []string
	calls   int
}

func (f *fakeAPI) record() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeAPI) Enabled() bool { return !f.disabled }

func (f *fakeAPI) CastByURL(_ context.Context, u string) (social.Cast, error) {
	f.record()
	if f.castByURL == nil {
		return social.Cast{}, errBoom
	}
	return f.castByURL(u)
}

func (f *fakeAPI) CastByHash(ctx context.Context, hash string, viewer int64) (social.Cast, error) {
	f.record()
	if f.castByHash == nil {
		return social.Cast{}, errBoom
	}
	return f.castByHash(ctx, hash, viewer)
}

func (f *fakeAPI) Conversation(_ context.Context, hash string) ([]social.Cast, error) {
	f.record()
	if f.conversation == nil {
		return nil, errBoom
	}
	return f.conversation(hash)
}

func (f *fakeAPI) CastsByParent(_ context.Context, parent string) ([]social.Cast, error) {
	f.record()
	f.mu.Lock()
	f.parents = append(f.parents, parent)
	f.mu.Unlock()
	if f.castsByParent == nil {
		return nil, errBoom
	}
	return f.castsByParent(parent)
}

func (f *fakeAPI) UserCasts(_ context.Context, fid int64) ([]social.Cast, error) {
	f.record()
	if f.userCasts == nil {
		return nil, errBoom
	}
	return f.userCasts(fid)
}

type fakeBalances struct {
	balance *big.Int
	err     error
}

func (f fakeBalances) TokenBalance(context.Context, string, string) (*big.Int, error) {
	return f.balance, f.err
}

func likeRequest(taskType domain.TaskType) verify.Request {
	return verify.Request{
		Target:   domain.TargetRef{URL: "https://warpcast.com/alice/" + fullHash},
		UserID:   42,
		TaskType: taskType,
	}
}

func TestVerify_MissingCredentialIsImmediateFalse(t *testing.T) {
	api := &fakeAPI{disabled: true}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.False(t, res.Verified)
	require.ErrorIs(t, res.Err, domain.ErrUpstreamUnavailable)
	assert.False(t, res.Transient())
	assert.Zero(t, api.calls)
}

func TestVerify_ViewerContextShortCircuits(t *testing.T) {
	api := &fakeAPI{castByHash: func(_ context.Context, hash string, viewer int64) (social.Cast, error) {
		assert.Equal(t, fullHash, hash)
		assert.Equal(t, int64(42), viewer)
		return social.Cast{Hash: hash, Viewer: social.ViewerContext{Present: true, Liked: true}}, nil
	}}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyViewerContext, res.Strategy)
	assert.Equal(t, fullHash, res.Hash)
	assert.Equal(t, 1, api.calls)
}

func TestVerify_FallsBackToReactionsScan(t *testing.T) {
	api := &fakeAPI{castByHash: func(_ context.Context, hash string, _ int64) (social.Cast, error) {
		return social.Cast{Hash: hash, RecastFIDs: []int64{7, 42}}, nil
	}}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskRecast))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyReactionsScan, res.Strategy)
	assert.Equal(t, []string{verify.StrategyViewerContext, verify.StrategyReactionsScan}, res.Attempts)
}

func TestVerify_NegativeWhenNoStrategyMatches(t *testing.T) {
	api := &fakeAPI{castByHash: func(_ context.Context, hash string, _ int64) (social.Cast, error) {
		return social.Cast{Hash: hash, Viewer: social.ViewerContext{Present: true}, LikeFIDs: []int64{7}}, nil
	}}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.False(t, res.Verified)
	require.NoError(t, res.Err)
	assert.False(t, res.Transient())
	assert.Len(t, res.Attempts, 2)
}

func TestVerify_AllStrategiesErrorIsTransientFalse(t *testing.T) {
	api := &fakeAPI{castByHash: func(context.Context, string, int64) (social.Cast, error) {
		return social.Cast{}, domain.ErrUpstreamUnavailable
	}}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.False(t, res.Verified)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), verify.StrategyViewerContext)
	assert.Contains(t, res.Err.Error(), verify.StrategyReactionsScan)
	assert.True(t, res.Transient())
}

func TestVerify_ResolvesThroughURLLookup(t *testing.T) {
	api := &fakeAPI{
		castByURL: func(string) (social.Cast, error) { return social.Cast{Hash: "0xABCD"}, nil },
		castByHash: func(_ context.Context, hash string, _ int64) (social.Cast, error) {
			assert.Equal(t, "0xabcd", hash)
			return social.Cast{Hash: hash, LikeFIDs: []int64{42}}, nil
		},
	}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), verify.Request{
		Target:   domain.TargetRef{URL: "https://warpcast.com/alice/0xabcd"},
		UserID:   42,
		TaskType: domain.TaskLike,
	})

	assert.True(t, res.Verified)
	assert.Equal(t, "0xabcd", res.Hash)
}

func TestVerify_ResolutionFailureIsFinal(t *testing.T) {
	api := &fakeAPI{}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), verify.Request{
		Target:   domain.TargetRef{URL: "https://warpcast.com/alice/0xabcd"},
		UserID:   42,
		TaskType: domain.TaskLike,
	})

	assert.False(t, res.Verified)
	require.ErrorIs(t, res.Err, domain.ErrResolution)
	assert.False(t, res.Transient())
	assert.Empty(t, res.Attempts)
}

func TestVerify_CommentFallsThroughToParentVariants(t *testing.T) {
	bare := fullHash[2:]
	api := &fakeAPI{
		castByHash: func(_ context.Context, hash string, _ int64) (social.Cast, error) {
			return social.Cast{Hash: hash, Replies: []social.Cast{{AuthorFID: 7}}}, nil
		},
		conversation: func(string) ([]social.Cast, error) { return nil, nil },
		castsByParent: func(parent string) ([]social.Cast, error) {
			if parent == bare {
				return []social.Cast{{AuthorFID: 42}}, nil
			}
			return nil, nil
		},
	}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskComment))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyParentVariants, res.Strategy)
	assert.Equal(t, []string{fullHash, bare}, api.parents)
}

func TestVerify_CommentUserCastsScanMatchesAcrossPrefixes(t *testing.T) {
	api := &fakeAPI{
		userCasts: func(fid int64) ([]social.Cast, error) {
			assert.Equal(t, int64(42), fid)
			return []social.Cast{{ParentHash: "0x01"}, {ParentHash: "00112233445566778899AABBCCDDEEFF00112233"}}, nil
		},
	}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskComment))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyUserCastsScan, res.Strategy)
	assert.Len(t, res.Attempts, 4)
}

func TestVerify_RecoversStrategyPanic(t *testing.T) {
	calls := 0
	api := &fakeAPI{castByHash: func(_ context.Context, hash string, _ int64) (social.Cast, error) {
		calls++
		if calls == 1 {
			panic("unexpected shape")
		}
		return social.Cast{Hash: hash, LikeFIDs: []int64{42}}, nil
	}}
	engine := verify.NewEngine(api, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyReactionsScan, res.Strategy)
}

func TestVerify_StrategyTimeout(t *testing.T) {
	api := &fakeAPI{castByHash: func(ctx context.Context, _ string, viewer int64) (social.Cast, error) {
		if viewer > 0 {
			<-ctx.Done()
			return social.Cast{}, ctx.Err()
		}
		return social.Cast{LikeFIDs: []int64{42}}, nil
	}}
	engine := verify.NewEngine(api, nil, verify.Options{StrategyTimeout: 20 * time.Millisecond}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyReactionsScan, res.Strategy)
}

func TestVerify_Support(t *testing.T) {
	req := verify.Request{
		Target:   domain.TargetRef{TokenAddress: "0x1111111111111111111111111111111111111111"},
		UserID:   42,
		TaskType: domain.TaskSupport,
		Wallet:   "0x2222222222222222222222222222222222222222",
	}

	tests := []struct {
		name      string
		balances  verify.BalanceReader
		want      bool
		wantErr   error
		transient bool
	}{
		{name: "positive balance", balances: fakeBalances{balance: big.NewInt(3)}, want: true},
		{name: "zero balance", balances: fakeBalances{balance: big.NewInt(0)}},
		{name: "rpc failure", balances: fakeBalances{err: domain.ErrUpstreamUnavailable}, wantErr: domain.ErrUpstreamUnavailable, transient: true},
		{name: "no chain reader", balances: nil, wantErr: domain.ErrUpstreamUnavailable, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := verify.NewEngine(&fakeAPI{disabled: true}, tt.balances, verify.Options{}, nil)
			res := engine.Verify(context.Background(), req)

			assert.Equal(t, tt.want, res.Verified)
			if tt.wantErr != nil {
				require.ErrorIs(t, res.Err, tt.wantErr)
			}
			assert.Equal(t, tt.transient, res.Transient())
		})
	}
}

func TestVerify_SupportNeedsWallet(t *testing.T) {
	engine := verify.NewEngine(nil, fakeBalances{balance: big.NewInt(1)}, verify.Options{}, nil)

	res := engine.Verify(context.Background(), verify.Request{
		Target:   domain.TargetRef{TokenAddress: "0x1111111111111111111111111111111111111111"},
		TaskType: domain.TaskSupport,
	})

	assert.False(t, res.Verified)
	require.ErrorIs(t, res.Err, domain.ErrInvalidTarget)
	assert.False(t, res.Transient())
}

func TestVerify_InvalidTaskType(t *testing.T) {
	engine := verify.NewEngine(&fakeAPI{}, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), verify.Request{TaskType: "follow"})

	assert.False(t, res.Verified)
	require.ErrorIs(t, res.Err, domain.ErrInvalidTaskType)
}

func TestVerify_WithHTTPClientCoercesStringIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("viewer_fid") != "" {
			_, _ = w.Write([]byte(`{"cast":{"hash":"` + fullHash + `"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"cast":{"hash":"` + fullHash + `","reactions":{"likes":[{"fid":"42"}]}}}`))
	}))
	t.Cleanup(srv.Close)

	client := social.NewClient(social.Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	engine := verify.NewEngine(client, nil, verify.Options{}, nil)

	res := engine.Verify(context.Background(), likeRequest(domain.TaskLike))

	assert.True(t, res.Verified)
	assert.Equal(t, verify.StrategyReactionsScan, res.Strategy)
}
