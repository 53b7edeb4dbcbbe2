package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mev-engine/mev-opportunity-engine/internal/api"
	"github.com/mev-engine/mev-opportunity-engine/internal/chain"
	"github.com/mev-engine/mev-opportunity-engine/internal/config"
	"github.com/mev-engine/mev-opportunity-engine/pkg/cache"
	"github.com/mev-engine/mev-opportunity-engine/pkg/execution"
	"github.com/mev-engine/mev-opportunity-engine/pkg/gasprice"
	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/metrics"
	"github.com/mev-engine/mev-opportunity-engine/pkg/processing"
	"github.com/mev-engine/mev-opportunity-engine/pkg/risk"
	"github.com/mev-engine/mev-opportunity-engine/pkg/strategy"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"go.uber.org/fx"
)

// Application aggregates the engine's components and owns their
// startup and shutdown order
type Application struct {
	cfg         *config.Config
	store       *risk.Store
	gate        *risk.Gate
	gasModel    *gasprice.Model
	snapCache   *cache.SnapshotCache
	engines     map[types.StrategyKind]interfaces.Strategy
	pool        *processing.AnalysisPool
	coordinator *execution.Coordinator
	collector   *metrics.Collector
	server      *api.Server
	stream      *chain.IntentStream
	autoExecute bool
}

// NewRiskComponents builds the risk store and gate from configuration.
// The store is optional; an empty state_path runs without persistence.
func NewRiskComponents(cfg *config.Config) (*risk.Gate, *risk.Store, error) {
	var store *risk.Store
	if cfg.Risk.StatePath != "" {
		s, err := risk.NewStore(cfg.Risk.StatePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open risk store: %w", err)
		}
		store = s
	}

	maxExposure, err := config.ParseWei(cfg.Risk.MaxSingleExposure)
	if err != nil {
		return nil, nil, err
	}
	gate := risk.NewGate(&risk.GateConfig{
		MaxSingleExposure: maxExposure,
		MinProfitRatio:    cfg.Risk.MinProfitRatio,
		FailureThreshold:  cfg.Risk.FailureThreshold,
		Cooldown:          cfg.Risk.Cooldown,
	}, store)
	return gate, store, nil
}

// NewGasModel builds the gas price model with its competition tracker
func NewGasModel(cfg *config.Config) (*gasprice.Model, error) {
	basePriority, err := config.ParseWei(cfg.Gas.BasePriorityFee)
	if err != nil {
		return nil, err
	}
	maxPriority, err := config.ParseWei(cfg.Gas.MaxPriorityFee)
	if err != nil {
		return nil, err
	}
	maxGasPrice, err := config.ParseWei(cfg.Gas.MaxGasPrice)
	if err != nil {
		return nil, err
	}

	tracker := gasprice.NewCompetitionTracker(0)
	return gasprice.NewModel(&gasprice.ModelConfig{
		BasePriorityFee: basePriority,
		MaxPriorityFee:  maxPriority,
		MaxGasPrice:     maxGasPrice,
		BufferPct:       cfg.Gas.BufferPct,
	}, tracker), nil
}

// NewSnapshotCache builds the pool snapshot cache
func NewSnapshotCache(cfg *config.Config) *cache.SnapshotCache {
	return cache.New(&cache.Config{
		TTL:              cfg.Cache.TTL,
		EvictionInterval: cfg.Cache.EvictionInterval,
	})
}

// NewApplication wires every component together. Chain-facing
// collaborators come up only when their endpoints are configured; the
// admin API and risk surface run either way.
func NewApplication(cfg *config.Config, gate *risk.Gate, store *risk.Store, gasModel *gasprice.Model, snapCache *cache.SnapshotCache) (*Application, error) {
	collector := metrics.NewCollector()
	gate.SetObserver(collector)

	deps := strategy.Deps{
		Cache: snapCache,
		Risk:  gate,
		Gas:   gasModel,
	}

	if cfg.Chain.RPCURL != "" {
		venues := make(map[string]chain.Venue, len(cfg.Chain.Venues))
		for id, venue := range cfg.Chain.Venues {
			venues[id] = chain.Venue{
				Factory: common.HexToAddress(venue.Factory),
				FeeBps:  venue.FeeBps,
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		provider, err := chain.Dial(ctx, cfg.Chain.RPCURL, venues)
		if err != nil {
			return nil, err
		}
		deps.Pools = provider
		deps.Blocks = provider
	}

	autoExecute := false
	if cfg.Chain.RelayURL != "" {
		deps.Executor = chain.NewRelayExecutor(cfg.Chain.RelayURL, cfg.Chain.RelayAPIKey)
		autoExecute = true
	}

	engines, err := buildEngines(cfg, deps)
	if err != nil {
		return nil, err
	}

	coordinator := execution.NewCoordinator(gate, gasModel, collector, cfg.Processing.JobTimeout)

	app := &Application{
		cfg:         cfg,
		store:       store,
		gate:        gate,
		gasModel:    gasModel,
		snapCache:   snapCache,
		engines:     engines,
		coordinator: coordinator,
		collector:   collector,
		autoExecute: autoExecute,
	}

	engineList := make([]interfaces.Strategy, 0, len(engines))
	for _, engine := range engines {
		engineList = append(engineList, engine)
	}
	app.pool = processing.NewAnalysisPool(&processing.PoolConfig{
		PoolSize:   cfg.Processing.PoolSize,
		QueueSize:  cfg.Processing.QueueSize,
		JobTimeout: cfg.Processing.JobTimeout,
	}, engineList, app.handleOpportunity)

	handlers := api.NewHandlers(gate, gasModel.Tracker(), app.pool)
	app.server = api.NewServer(cfg, handlers, collector)

	if cfg.Chain.WSURL != "" {
		routers := make(map[common.Address]string, len(cfg.Chain.Venues))
		for id, venue := range cfg.Chain.Venues {
			if venue.Router != "" {
				routers[common.HexToAddress(venue.Router)] = id
			}
		}
		stream, err := chain.NewIntentStream(chain.StreamConfig{
			URL:     cfg.Chain.WSURL,
			WETH:    common.HexToAddress(cfg.Chain.WETHAddress),
			Routers: routers,
			OnReorg: snapCache.Purge,
		}, app.pool.Submit)
		if err != nil {
			return nil, err
		}
		app.stream = stream
	}

	return app, nil
}

// buildEngines constructs the enabled strategy engines
func buildEngines(cfg *config.Config, deps strategy.Deps) (map[types.StrategyKind]interfaces.Strategy, error) {
	engines := make(map[types.StrategyKind]interfaces.Strategy)

	if cfg.Strategies.Arbitrage.Enabled {
		minPos, err := config.ParseWei(cfg.Strategies.Arbitrage.MinPosition)
		if err != nil {
			return nil, err
		}
		maxPos, err := config.ParseWei(cfg.Strategies.Arbitrage.MaxPosition)
		if err != nil {
			return nil, err
		}
		engines[types.StrategyArbitrage] = strategy.NewArbitrage(&strategy.Config{
			MinPosition:   minPos,
			MaxPosition:   maxPos,
			MinSpreadBps:  cfg.Strategies.Arbitrage.MinSpreadBps,
			CounterDexIDs: cfg.Chain.CounterDexs,
		}, deps)
	}

	if cfg.Strategies.Sandwich.Enabled {
		minVictim, err := config.ParseWei(cfg.Strategies.Sandwich.MinVictimAmount)
		if err != nil {
			return nil, err
		}
		minVictimGas, err := config.ParseWei(cfg.Strategies.Sandwich.MinVictimGasPrice)
		if err != nil {
			return nil, err
		}
		maxPos, err := config.ParseWei(cfg.Strategies.Sandwich.MaxPosition)
		if err != nil {
			return nil, err
		}
		engines[types.StrategySandwich] = strategy.NewSandwich(&strategy.Config{
			MaxPosition:       maxPos,
			MinVictimAmount:   minVictim,
			MinVictimGasPrice: minVictimGas,
		}, deps)
	}

	if cfg.Strategies.Frontrun.Enabled {
		minVictim, err := config.ParseWei(cfg.Strategies.Frontrun.MinVictimAmount)
		if err != nil {
			return nil, err
		}
		maxPos, err := config.ParseWei(cfg.Strategies.Frontrun.MaxPosition)
		if err != nil {
			return nil, err
		}
		engines[types.StrategyFrontrun] = strategy.NewFrontrun(&strategy.Config{
			MaxPosition:     maxPos,
			MinVictimAmount: minVictim,
		}, deps)
	}

	if cfg.Strategies.JIT.Enabled {
		minVictim, err := config.ParseWei(cfg.Strategies.JIT.MinVictimAmount)
		if err != nil {
			return nil, err
		}
		maxPos, err := config.ParseWei(cfg.Strategies.JIT.MaxPosition)
		if err != nil {
			return nil, err
		}
		engines[types.StrategyJIT] = strategy.NewJIT(&strategy.Config{
			MaxPosition:     maxPos,
			MinVictimAmount: minVictim,
			HoldBlocks:      cfg.Strategies.JIT.HoldBlocks,
		}, deps)
	}

	return engines, nil
}

// handleOpportunity is the analysis pool sink: count it, stream it,
// and hand it to the coordinator when a relay is configured
func (a *Application) handleOpportunity(opp *types.Opportunity) {
	a.collector.ObserveOpportunity(opp)
	a.collector.SetQueueDepth(a.pool.Stats().QueuedJobs)

	if err := a.server.Broadcaster().BroadcastOpportunity(opp); err != nil {
		log.Printf("app: opportunity feed: %v", err)
	}

	if !a.autoExecute {
		return
	}
	go a.execute(opp)
}

func (a *Application) execute(opp *types.Opportunity) {
	engine, ok := a.engines[opp.Strategy]
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Processing.JobTimeout)
	defer cancel()

	plan, err := engine.BuildPlan(ctx, opp)
	if err != nil {
		a.collector.ObserveRejection(opp.Strategy, "plan")
		log.Printf("app: %s plan rejected for %s: %v", opp.Strategy, opp.ID, err)
		return
	}

	result, err := a.coordinator.Execute(ctx, engine, plan)
	if err != nil {
		a.collector.ObserveRejection(opp.Strategy, "execution")
		log.Printf("app: %s execution refused for %s: %v", opp.Strategy, opp.ID, err)
		return
	}
	if !result.Success {
		log.Printf("app: %s execution failed for %s: %s", opp.Strategy, opp.ID, result.FailureReason)
	}
}

// Start brings components up in dependency order
func (a *Application) Start(ctx context.Context) error {
	log.Printf("app: starting opportunity engine on %s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	if err := a.pool.Start(ctx); err != nil {
		return fmt.Errorf("start analysis pool: %w", err)
	}
	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	if a.stream != nil {
		if err := a.stream.Start(ctx); err != nil {
			return fmt.Errorf("start intent stream: %w", err)
		}
	}

	log.Printf("app: %d strategy engines armed", len(a.engines))
	return nil
}

// Stop tears components down in reverse order
func (a *Application) Stop(ctx context.Context) error {
	if a.stream != nil {
		if err := a.stream.Stop(ctx); err != nil {
			log.Printf("app: error stopping intent stream: %v", err)
		}
	}
	a.coordinator.Shutdown()
	if err := a.pool.Stop(ctx); err != nil {
		log.Printf("app: error stopping analysis pool: %v", err)
	}
	if err := a.server.Stop(ctx); err != nil {
		log.Printf("app: error stopping api server: %v", err)
	}
	a.snapCache.Stop()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("app: error closing risk store: %v", err)
		}
	}

	log.Println("app: stopped")
	return nil
}

// Module provides the fx wiring for the engine
var Module = fx.Options(
	fx.Provide(
		NewRiskComponents,
		NewGasModel,
		NewSnapshotCache,
		NewApplication,
	),
)
