package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/chain"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

const settleTimeout = 10 * time.Second

// ChainReader is what the manager needs from the chain.
type ChainReader interface {
	BalanceReader
	BlockSource
	PurchaseReceipt(ctx context.Context, txHash, buyer string) (chain.Purchase, bool, error)
}

// ProgressWriter records a confirmed purchase.
type ProgressWriter interface {
	SetPurchased(ctx context.Context, userID int64, txRef string) (domain.UserProgress, error)
}

// Attempt is the public view of one purchase attempt.
type Attempt struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Epoch      uint64    `json:"epoch"`
	Wallet     string    `json:"wallet"`
	Token      string    `json:"token"`
	State      State     `json:"state"`
	TxRef      string    `json:"tx_ref,omitempty"`
	Checks     int       `json:"checks"`
	StartedAt  time.Time `json:"started_at"`
	StartBlock uint64    `json:"start_block"`
	Error      string    `json:"error,omitempty"`
}

// StartRequest begins watching a purchase.
type StartRequest struct {
	UserID int64
	Wallet string
	// Token defaults to the manager's configured token.
	Token string
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Token          string
	BlocksPerCheck uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Clock          Clock
	// OnSettled is called once per attempt that reaches a terminal state
	// while still current. Superseded attempts never call it.
	OnSettled func(ctx context.Context, a Attempt)
}

type entry struct {
	attempt Attempt
	watcher *Watcher
	cancel  context.CancelFunc
	settled bool
}

// Manager runs at most one purchase watch per user. Starting a new attempt
// cancels the previous one and bumps the user's epoch; results from older
// epochs are dropped.
type Manager struct {
	chain    ChainReader
	progress ProgressWriter
	opts     ManagerOptions
	log      infralogger.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	epochs  map[int64]uint64
	entries map[int64]*entry
	closed  bool
}

// NewManager creates a Manager. Close stops every running watch.
func NewManager(chainReader ChainReader, progress ProgressWriter, opts ManagerOptions, log infralogger.Logger) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		log = infralogger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		chain:      chainReader,
		progress:   progress,
		opts:       opts,
		log:        log,
		baseCtx:    ctx,
		baseCancel: cancel,
		epochs:     make(map[int64]uint64),
		entries:    make(map[int64]*entry),
	}
}

// Start begins a new attempt for req.UserID, superseding any previous one.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Attempt, error) {
	if m.chain == nil {
		return Attempt{}, fmt.Errorf("%w: chain reader not configured", domain.ErrUpstreamUnavailable)
	}
	token := req.Token
	if token == "" {
		token = m.opts.Token
	}
	if token == "" || req.Wallet == "" {
		return Attempt{}, fmt.Errorf("%w: purchase needs a token and wallet", domain.ErrInvalidTarget)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Attempt{}, fmt.Errorf("%w: purchase manager closed", domain.ErrUpstreamUnavailable)
	}
	m.epochs[req.UserID]++
	epoch := m.epochs[req.UserID]
	if prev := m.entries[req.UserID]; prev != nil {
		m.stopLocked(prev)
	}
	m.mu.Unlock()

	w := NewWatcher(WatcherConfig{
		Token:          token,
		Wallet:         req.Wallet,
		BlocksPerCheck: m.opts.BlocksPerCheck,
		ConfirmTimeout: m.opts.ConfirmTimeout,
		PollInterval:   m.opts.PollInterval,
	}, m.chain, m.chain, m.opts.Clock, m.log.With(infralogger.UserID(req.UserID)))
	if err := w.Begin(ctx); err != nil {
		return Attempt{}, fmt.Errorf("begin purchase watch: %w", err)
	}

	snap := w.Snapshot()
	e := &entry{
		attempt: Attempt{
			ID:         uuid.NewString(),
			UserID:     req.UserID,
			Epoch:      epoch,
			Wallet:     req.Wallet,
			Token:      token,
			State:      snap.State,
			StartedAt:  snap.StartedAt,
			StartBlock: snap.StartBlock,
		},
		watcher: w,
	}

	m.mu.Lock()
	if m.closed || m.epochs[req.UserID] != epoch {
		m.mu.Unlock()
		w.Cancel()
		return Attempt{}, fmt.Errorf("start purchase watch: %w", domain.ErrSuperseded)
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	e.cancel = cancel
	m.entries[req.UserID] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(runCtx, e)

	m.log.Info("Purchase watch started",
		infralogger.UserID(req.UserID),
		infralogger.String("attempt_id", e.attempt.ID),
		infralogger.Uint64("start_block", snap.StartBlock),
	)
	return m.view(e), nil
}

func (m *Manager) watch(ctx context.Context, e *entry) {
	defer m.wg.Done()
	e.watcher.Run(ctx)
	m.settle(e)
}

// Report handles a transaction hash sent by the client. A receipt carrying
// the purchase event for the attempt's wallet confirms immediately;
// otherwise the hash is attached and balance polling continues.
func (m *Manager) Report(ctx context.Context, userID int64, attemptID, txHash string) (Attempt, error) {
	e, err := m.current(userID, attemptID)
	if err != nil {
		return Attempt{}, err
	}

	purchase, found, err := m.chain.PurchaseReceipt(ctx, txHash, e.attempt.Wallet)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		e.watcher.SetTxRef(txHash)
		return m.view(e), nil
	case err != nil:
		return m.view(e), fmt.Errorf("read purchase receipt: %w", err)
	case !found:
		e.watcher.SetTxRef(txHash)
		return m.view(e), nil
	}

	if confirmErr := e.watcher.Confirm(purchase.TxHash); confirmErr != nil {
		return m.view(e), nil
	}
	m.log.Info("Purchase confirmed from receipt",
		infralogger.UserID(userID),
		infralogger.String("tx_hash", txHash),
	)
	m.settle(e)
	return m.view(e), nil
}

// Fail records a wallet-side failure for the current attempt.
func (m *Manager) Fail(userID int64, attemptID string, cause error) (Attempt, error) {
	e, err := m.current(userID, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if failErr := e.watcher.Fail(cause); failErr != nil {
		return m.view(e), nil
	}
	m.settle(e)
	return m.view(e), nil
}

// Get returns the user's latest attempt.
func (m *Manager) Get(userID int64) (Attempt, bool) {
	m.mu.Lock()
	e := m.entries[userID]
	m.mu.Unlock()

	if e == nil {
		return Attempt{}, false
	}
	return m.view(e), true
}

// Cancel tears down the user's running attempt. It reports whether one was running.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[userID]
	if e == nil || e.settled {
		return false
	}
	m.epochs[userID]++
	m.stopLocked(e)
	return true
}

// Close cancels every watch and waits for the goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.baseCancel()
	m.wg.Wait()
}

func (m *Manager) stopLocked(e *entry) {
	e.watcher.Cancel()
	if e.cancel != nil {
		e.cancel()
	}
}

func (m *Manager) current(userID int64, attemptID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[userID]
	if e == nil {
		return nil, fmt.Errorf("purchase attempt for user %d: %w", userID, domain.ErrNotFound)
	}
	if attemptID != "" && e.attempt.ID != attemptID {
		return nil, fmt.Errorf("purchase attempt %s: %w", attemptID, domain.ErrSuperseded)
	}
	return e, nil
}

// settle runs side effects once for an attempt that is still current.
func (m *Manager) settle(e *entry) {
	snap := e.watcher.Snapshot()
	if !snap.State.Terminal() {
		return
	}

	m.mu.Lock()
	current := m.epochs[e.attempt.UserID] == e.attempt.Epoch
	if e.settled || !current {
		m.mu.Unlock()
		return
	}
	e.settled = true
	if e.cancel != nil {
		e.cancel()
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.baseCtx), settleTimeout)
	defer cancel()

	if snap.State == StateConfirmed && m.progress != nil {
		if _, err := m.progress.SetPurchased(ctx, e.attempt.UserID, snap.TxRef); err != nil {
			m.log.Error("Failed to record confirmed purchase",
				infralogger.UserID(e.attempt.UserID),
				infralogger.Error(err),
			)
		}
	}

	a := m.view(e)
	m.log.Info("Purchase watch settled",
		infralogger.UserID(a.UserID),
		infralogger.String("attempt_id", a.ID),
		infralogger.String("state", a.State.String()),
		infralogger.Int("checks", a.Checks),
	)
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(ctx, a)
	}
}

func (m *Manager) view(e *entry) Attempt {
	snap := e.watcher.Snapshot()
	a := e.attempt
	a.State = snap.State
	a.TxRef = snap.TxRef
	a.Checks = snap.Checks
	if snap.Err != nil {
		a.Error = snap.Err.Error()
	}
	return a
}
