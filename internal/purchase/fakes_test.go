package purchase_test

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/likechat/internal/chain"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// fakeChain serves balances per token and a block height that advances on
// every BlockNumber call when autoAdvance is set.
type fakeChain struct {
	mu          sync.Mutex
	balances    map[string]*big.Int
	balanceErr  map[string]error
	height      uint64
	autoAdvance uint64
	reads       int
	receipt     chain.Purchase
	receiptOK   bool
	receiptErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: map[string]*big.Int{}, balanceErr: map[string]error{}, height: 100}
}

func (f *fakeChain) setBalance(token string, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[strings.ToLower(token)] = big.NewInt(v)
}

// setNilBalance makes TokenBalance answer (nil, nil) for token.
func (f *fakeChain) setNilBalance(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[strings.ToLower(token)] = nil
}

func (f *fakeChain) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeChain) TokenBalance(_ context.Context, token, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	key := strings.ToLower(token)
	if err := f.balanceErr[key]; err != nil {
		return nil, err
	}
	if b, ok := f.balances[key]; ok {
		if b == nil {
			return nil, nil
		}
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height += f.autoAdvance
	return f.height, nil
}

func (f *fakeChain) PurchaseReceipt(context.Context, string, string) (chain.Purchase, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipt, f.receiptOK, f.receiptErr
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProgress struct {
	mu    sync.Mutex
	calls map[int64]string
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{calls: map[int64]string{}}
}

func (f *fakeProgress) SetPurchased(_ context.Context, userID int64, txRef string) (domain.UserProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID] = txRef
	return domain.UserProgress{UserID: userID, Purchased: true, PurchaseTxRef: txRef}, nil
}

func (f *fakeProgress) purchased(userID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.calls[userID]
	return ref, ok
}
