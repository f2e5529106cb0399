package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/likechat/internal/chain"
	"github.com/jonesrussell/north-cloud/likechat/internal/config"
	"github.com/jonesrussell/north-cloud/likechat/internal/engagement"
	"github.com/jonesrussell/north-cloud/likechat/internal/events"
	"github.com/jonesrussell/north-cloud/likechat/internal/gate"
	"github.com/jonesrussell/north-cloud/likechat/internal/history"
	"github.com/jonesrussell/north-cloud/likechat/internal/metrics"
	"github.com/jonesrussell/north-cloud/likechat/internal/purchase"
	"github.com/jonesrussell/north-cloud/likechat/internal/social"
	"github.com/jonesrussell/north-cloud/likechat/internal/verify"
)

// Engagement is the wired engagement service and the resources it owns.
type Engagement struct {
	Service   *engagement.Service
	Chain     *chain.Reader
	Purchases *purchase.Manager
}

// Close stops purchase watches and the chain connection.
func (e *Engagement) Close() {
	if e.Purchases != nil {
		e.Purchases.Close()
	}
	if e.Chain != nil {
		e.Chain.Close()
	}
}

// EngagementDeps are the already-built pieces the service is wired from.
type EngagementDeps struct {
	Stores   *Stores
	DB       *sqlx.DB
	Registry prometheus.Registerer
	Live     sse.Broker
}

// SetupEngagement dials the chain when configured and wires the verification
// engine, purchase manager, publish gate and event fan-out into a Service.
func SetupEngagement(
	ctx context.Context,
	cfg *config.Config,
	deps EngagementDeps,
	log infralogger.Logger,
) (*Engagement, error) {
	e := &Engagement{}

	if cfg.Chain.RPCURL != "" {
		reader, err := chain.Dial(ctx, cfg.Chain, log)
		if err != nil {
			return nil, fmt.Errorf("dial chain: %w", err)
		}
		e.Chain = reader
	} else {
		log.Warn("Chain RPC not configured, purchases and token checks disabled")
	}

	socialClient := social.NewClient(cfg.Social, log)
	if !socialClient.Enabled() {
		log.Warn("Social API key not configured, like and recast checks will fail")
	}

	var (
		balances  verify.BalanceReader
		gateChain purchase.BalanceReader
	)
	if e.Chain != nil {
		balances = e.Chain
		gateChain = e.Chain
	}

	engine := verify.NewEngine(socialClient, balances, verify.Options{StrategyTimeout: cfg.Verify.StrategyTimeout}, log)
	g := gate.New(deps.Stores.Progress, deps.Stores.Queue, gateChain, gate.Options{
		RequiredActions: cfg.Service.RequiredActions,
		RequirePurchase: cfg.Service.RequirePurchase,
	}, log)

	svcDeps := engagement.Deps{
		Queue:    deps.Stores.Queue,
		Progress: deps.Stores.Progress,
		Verifier: engine,
		Gate:     g,
		Metrics:  metrics.NewMetrics(deps.Registry),
		Events:   setupEvents(cfg, deps, log),
	}
	if deps.DB != nil {
		svcDeps.History = history.NewRepository(deps.DB)
	}

	// The manager reports settlement to the service, which needs the manager.
	var svc *engagement.Service
	if e.Chain != nil {
		e.Purchases = purchase.NewManager(e.Chain, deps.Stores.Progress, purchase.ManagerOptions{
			Token:          cfg.Chain.TokenAddress,
			BlocksPerCheck: cfg.Purchase.BlocksPerCheck,
			ConfirmTimeout: cfg.Purchase.ConfirmTimeout,
			PollInterval:   cfg.Purchase.PollInterval,
			OnSettled: func(ctx context.Context, a purchase.Attempt) {
				svc.PurchaseSettled(ctx, a)
			},
		}, log)
		svcDeps.Purchases = e.Purchases
	}

	svc = engagement.NewService(svcDeps, engagement.Options{
		VerifyRetry: retry.Config{
			MaxAttempts:  cfg.Verify.MaxAttempts,
			InitialDelay: cfg.Verify.InitialDelay,
			MaxDelay:     cfg.Verify.MaxDelay,
			Multiplier:   2,
		},
		PurchaseRetryDelays: cfg.Purchase.RetryDelays,
		DefaultToken:        cfg.Chain.TokenAddress,
	}, log)
	e.Service = svc
	return e, nil
}

// setupEvents fans events out to the Redis stream and the live feed, each
// only when enabled.
func setupEvents(cfg *config.Config, deps EngagementDeps, log infralogger.Logger) engagement.EventPublisher {
	var fanout events.Fanout
	if cfg.Events.Enabled && deps.Stores.Redis != nil {
		fanout = append(fanout, events.NewPublisher(deps.Stores.Redis, cfg.Events.Stream, cfg.Events.MaxLen, log))
		log.Info("Event stream publisher enabled", infralogger.String("stream", cfg.Events.Stream))
	}
	if deps.Live != nil {
		fanout = append(fanout, events.NewLiveFeed(deps.Live, log))
	}
	if len(fanout) == 0 {
		return nil
	}
	return fanout
}
