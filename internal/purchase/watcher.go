package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
)

const (
	DefaultBlocksPerCheck = 4
	DefaultConfirmTimeout = 30 * time.Second
	DefaultPollInterval   = time.Second
)

// ErrInvalidTransition is returned when an operation does not apply to the
// watcher's current state.
var ErrInvalidTransition = errors.New("invalid watcher state transition")

// ErrNoBalance is returned when a balance reader reports neither a value
// nor an error.
var ErrNoBalance = errors.New("balance reader returned no value")

// BalanceReader reads ERC-20 balances.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, wallet string) (*big.Int, error)
}

// readBalance calls r and turns a nil balance into ErrNoBalance.
func readBalance(ctx context.Context, r BalanceReader, token, wallet string) (*big.Int, error) {
	balance, err := r.TokenBalance(ctx, token, wallet)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, ErrNoBalance
	}
	return balance, nil
}

// BlockSource reports the chain height.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Clock returns the current time.
type Clock func() time.Time

// WatcherConfig configures one watch.
type WatcherConfig struct {
	Token          string
	Wallet         string
	BlocksPerCheck uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

func (c *WatcherConfig) setDefaults() {
	if c.BlocksPerCheck == 0 {
		c.BlocksPerCheck = DefaultBlocksPerCheck
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Snapshot is a copy of the watcher's progress.
type Snapshot struct {
	State      State
	Baseline   *big.Int
	Observed   *big.Int
	StartedAt  time.Time
	StartBlock uint64
	LastCheck  uint64
	Checks     int
	TxRef      string
	Err        error
}

// Watcher is the settlement state machine for one purchase attempt. It is
// driven by block heights passed to Observe, so tests can simulate block
// arrivals without timers.
type Watcher struct {
	cfg      WatcherConfig
	balances BalanceReader
	blocks   BlockSource
	now      Clock
	log      infralogger.Logger

	mu   sync.Mutex
	snap Snapshot
}

// NewWatcher creates an idle watcher.
func NewWatcher(cfg WatcherConfig, balances BalanceReader, blocks BlockSource, now Clock, log infralogger.Logger) *Watcher {
	cfg.setDefaults()
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		balances: balances,
		blocks:   blocks,
		now:      now,
		log:      log,
		snap:     Snapshot{State: StateIdle},
	}
}

// Begin records the pre-purchase balance and start block, and moves the
// watcher to awaiting settlement. On error the watcher stays idle.
func (w *Watcher) Begin(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.snap.State != StateIdle {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, w.snap.State)
	}

	baseline, err := readBalance(ctx, w.balances, w.cfg.Token, w.cfg.Wallet)
	if err != nil {
		return fmt.Errorf("snapshot balance: %w", err)
	}
	height, err := w.blocks.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("snapshot block: %w", err)
	}

	w.snap = Snapshot{
		State:      StateAwaitingSettlement,
		Baseline:   baseline,
		Observed:   baseline,
		StartedAt:  w.now(),
		StartBlock: height,
		LastCheck:  height,
	}
	return nil
}

// Observe feeds a new chain height. Every BlocksPerCheck blocks since the
// last check the balance is re-read; a balance above the baseline confirms.
// Once ConfirmTimeout has passed without confirmation the watch times out.
// A failed balance read leaves the watcher waiting and is returned.
func (w *Watcher) Observe(ctx context.Context, height uint64) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.snap.State != StateAwaitingSettlement {
		return w.snap.State, nil
	}

	var readErr error
	if height >= w.snap.LastCheck+w.cfg.BlocksPerCheck {
		w.snap.LastCheck = height
		w.snap.Checks++

		balance, err := readBalance(ctx, w.balances, w.cfg.Token, w.cfg.Wallet)
		switch {
		case err != nil:
			readErr = fmt.Errorf("check balance at block %d: %w", height, err)
			w.log.Warn("Purchase balance check failed",
				infralogger.Uint64("block", height),
				infralogger.Error(err),
			)
		case balance.Cmp(w.snap.Baseline) > 0:
			w.snap.Observed = balance
			w.snap.State = StateConfirmed
			return w.snap.State, nil
		default:
			w.snap.Observed = balance
		}
	}

	if w.now().Sub(w.snap.StartedAt) >= w.cfg.ConfirmTimeout {
		w.snap.State = StateTimedOut
	}
	return w.snap.State, readErr
}

// Confirm settles the watch from a verified receipt.
func (w *Watcher) Confirm(txRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.snap.State != StateAwaitingSettlement {
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, w.snap.State)
	}
	w.snap.State = StateConfirmed
	w.snap.TxRef = txRef
	return nil
}

// SetTxRef attaches the reported transaction hash without settling.
func (w *Watcher) SetTxRef(txRef string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.TxRef = txRef
}

// Fail moves a waiting or idle watcher to failed.
func (w *Watcher) Fail(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.snap.State.Terminal() {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, w.snap.State)
	}
	w.snap.State = StateFailed
	w.snap.Err = err
	return nil
}

// Cancel stops a watch that has not settled. It reports whether it did.
func (w *Watcher) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.snap.State.Terminal() {
		return false
	}
	w.snap.State = StateCancelled
	return true
}

// Snapshot returns a copy of the current progress.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Run polls the block source every PollInterval and feeds Observe until the
// watcher settles or ctx ends, in which case the watch is cancelled.
func (w *Watcher) Run(ctx context.Context) State {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if state := w.Snapshot().State; state.Terminal() {
			return state
		}

		select {
		case <-ctx.Done():
			w.Cancel()
			return w.Snapshot().State
		case <-ticker.C:
		}

		height, err := w.blocks.BlockNumber(ctx)
		if err != nil {
			w.log.Debug("Block height unavailable", infralogger.Error(err))
			// Keep the timeout moving while the RPC is down.
			height = w.Snapshot().LastCheck
		}
		_, _ = w.Observe(ctx, height)
	}
}
