package risk

import (
	"errors"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

var (
	// ErrPositionTooLarge rejects a single trade above the exposure limit
	ErrPositionTooLarge = errors.New("risk: position exceeds single-trade exposure limit")
	// ErrInsufficientProfit rejects trades whose net profit does not clear
	// the minimum multiple of gas cost
	ErrInsufficientProfit = errors.New("risk: net profit below minimum profit ratio")
	// ErrCircuitBreakerTripped blocks an entire strategy until cool-down
	// or manual reset
	ErrCircuitBreakerTripped = errors.New("risk: circuit breaker tripped")
	// ErrEmergencyShutdown blocks every strategy until manual reset
	ErrEmergencyShutdown = errors.New("risk: emergency shutdown active")
	// ErrUnknownStrategy rejects resets for strategies the gate does not track
	ErrUnknownStrategy = errors.New("risk: unknown strategy")
)

const (
	// DefaultFailureThreshold trips the breaker at 5 consecutive failures
	DefaultFailureThreshold = 5
	// DefaultCooldown re-arms a tripped breaker after 10 minutes
	DefaultCooldown = 10 * time.Minute
	// DefaultMinProfitRatio requires net profit of at least 2x gas cost
	DefaultMinProfitRatio = 2
)

// strategyState is the mutable per-strategy risk state. Guarded by the
// gate mutex; only RecordResult, the cool-down check and the reset paths
// write to it.
type strategyState struct {
	consecutiveFailures uint32
	cumulativeExposure  *big.Int
	lastReset           time.Time
	trippedBy           map[types.BreakerKind]bool
	trippedAt           time.Time
}

// GateConfig holds the risk thresholds
type GateConfig struct {
	MaxSingleExposure *big.Int // wei; nil disables the size check
	MinProfitRatio    int64    // net profit must be >= ratio * gas cost
	FailureThreshold  uint32
	Cooldown          time.Duration
}

// StateObserver receives breaker transitions as they happen. The
// metrics collector satisfies it.
type StateObserver interface {
	ObserveBreakerTrip(strategy types.StrategyKind, kind types.BreakerKind)
	ObserveRiskState(view types.RiskStateView)
}

// Gate is the circuit-breaker and exposure-limit state machine. One
// instance serves all strategies; each strategy arms and trips
// independently, except for emergency shutdown which trips everything.
type Gate struct {
	mu       sync.Mutex
	cfg      GateConfig
	states   map[types.StrategyKind]*strategyState
	store    *Store
	observer StateObserver
	nowFn    func() time.Time
}

// NewGate creates a gate with the given thresholds; a nil store disables
// persistence. Previously persisted state is restored so breakers survive
// restarts.
func NewGate(cfg *GateConfig, store *Store) *Gate {
	if cfg == nil {
		cfg = &GateConfig{}
	}
	if cfg.MinProfitRatio <= 0 {
		cfg.MinProfitRatio = DefaultMinProfitRatio
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	g := &Gate{
		cfg:    *cfg,
		states: make(map[types.StrategyKind]*strategyState),
		store:  store,
		nowFn:  time.Now,
	}
	for _, kind := range types.AllStrategies {
		g.states[kind] = &strategyState{
			cumulativeExposure: big.NewInt(0),
			lastReset:          g.nowFn(),
			trippedBy:          make(map[types.BreakerKind]bool),
		}
	}
	if store != nil {
		if err := g.restore(); err != nil {
			log.Printf("risk: failed to restore persisted state: %v", err)
		}
	}
	return g
}

// SetObserver wires breaker transitions to an observer and publishes
// the current state of every strategy as a baseline
func (g *Gate) SetObserver(obs StateObserver) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.observer = obs
	if obs == nil {
		return
	}
	for strategy, state := range g.states {
		obs.ObserveRiskState(g.viewLocked(strategy, state))
	}
}

// Validate checks a sized opportunity against the risk limits. A nil
// plan is allowed; engines validate before the plan exists and the
// coordinator re-validates with one. Checks run in order and stop at
// the first failure. A breaker trip here suppresses the whole strategy,
// not just this opportunity.
func (g *Gate) Validate(opp *types.Opportunity, plan *types.ExecutionPlan) error {
	if opp == nil {
		return ErrUnknownStrategy
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[opp.Strategy]
	if !ok {
		return ErrUnknownStrategy
	}

	if err := g.checkBreakersLocked(opp.Strategy, state); err != nil {
		return err
	}

	if g.cfg.MaxSingleExposure != nil && g.cfg.MaxSingleExposure.Sign() > 0 &&
		opp.SizedAmount.Cmp(g.cfg.MaxSingleExposure) > 0 {
		return ErrPositionTooLarge
	}

	if opp.GasCost != nil && opp.GasCost.Sign() > 0 {
		required := new(big.Int).Mul(opp.GasCost, big.NewInt(g.cfg.MinProfitRatio))
		if opp.NetProfit().Cmp(required) < 0 {
			return ErrInsufficientProfit
		}
	}

	if state.consecutiveFailures >= g.cfg.FailureThreshold {
		g.tripLocked(opp.Strategy, state, types.BreakerConsecutiveFailures)
		return ErrCircuitBreakerTripped
	}

	return nil
}

// RecordOutcome is the administrative outcome hook: failures increment
// the consecutive-failure count, a success resets it to zero.
func (g *Gate) RecordOutcome(strategy types.StrategyKind, success bool) {
	g.record(strategy, success, nil)
}

// RecordResult folds a completed execution back into risk state,
// including the exposure taken by the plan
func (g *Gate) RecordResult(plan *types.ExecutionPlan, result *types.ExecutionResult) {
	if plan == nil || plan.Opportunity == nil {
		return
	}
	success := result != nil && result.Success
	g.record(plan.Opportunity.Strategy, success, plan.FlashLoanAmount)
}

func (g *Gate) record(strategy types.StrategyKind, success bool, exposure *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[strategy]
	if !ok {
		return
	}

	if success {
		state.consecutiveFailures = 0
	} else {
		state.consecutiveFailures++
		if state.consecutiveFailures >= g.cfg.FailureThreshold {
			g.tripLocked(strategy, state, types.BreakerConsecutiveFailures)
		}
	}
	if exposure != nil && exposure.Sign() > 0 {
		state.cumulativeExposure.Add(state.cumulativeExposure, exposure)
	}
	g.persistLocked(strategy, state)
}

// EmergencyShutdown trips every strategy with the manual breaker. Only
// an explicit Reset clears it; the cool-down timer does not apply.
func (g *Gate) EmergencyShutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	log.Printf("risk: EMERGENCY SHUTDOWN - all strategies suspended")
	for strategy, state := range g.states {
		g.tripLocked(strategy, state, types.BreakerManualShutdown)
	}
}

// Reset manually re-arms one strategy and clears its failure count
func (g *Gate) Reset(strategy types.StrategyKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[strategy]
	if !ok {
		return ErrUnknownStrategy
	}
	g.resetLocked(strategy, state)
	return nil
}

// ResetAll re-arms every strategy
func (g *Gate) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for strategy, state := range g.states {
		g.resetLocked(strategy, state)
	}
}

// State returns a read-only copy of a strategy's risk state
func (g *Gate) State(strategy types.StrategyKind) types.RiskStateView {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[strategy]
	if !ok {
		return types.RiskStateView{Strategy: strategy}
	}

	// re-arms an expired cool-down before the view is taken
	g.checkBreakersLocked(strategy, state)
	return g.viewLocked(strategy, state)
}

func (g *Gate) viewLocked(strategy types.StrategyKind, state *strategyState) types.RiskStateView {
	view := types.RiskStateView{
		Strategy:            strategy,
		Armed:               len(state.trippedBy) == 0,
		ConsecutiveFailures: state.consecutiveFailures,
		CumulativeExposure:  new(big.Int).Set(state.cumulativeExposure),
		LastReset:           state.lastReset,
		TrippedAt:           state.trippedAt,
	}
	for kind := range state.trippedBy {
		view.TrippedBy = append(view.TrippedBy, kind)
	}
	return view
}

// checkBreakersLocked re-arms expired breakers and reports whether the
// strategy may trade. Manual shutdown never expires.
func (g *Gate) checkBreakersLocked(strategy types.StrategyKind, state *strategyState) error {
	if state.trippedBy[types.BreakerManualShutdown] {
		return ErrEmergencyShutdown
	}
	if state.trippedBy[types.BreakerConsecutiveFailures] {
		if g.nowFn().Sub(state.trippedAt) >= g.cfg.Cooldown {
			g.resetLocked(strategy, state)
			return nil
		}
		return ErrCircuitBreakerTripped
	}
	return nil
}

func (g *Gate) tripLocked(strategy types.StrategyKind, state *strategyState, kind types.BreakerKind) {
	if !state.trippedBy[kind] {
		log.Printf("risk: %s breaker tripped for %s", kind, strategy)
		if g.observer != nil {
			g.observer.ObserveBreakerTrip(strategy, kind)
		}
	}
	state.trippedBy[kind] = true
	state.trippedAt = g.nowFn()
	g.persistLocked(strategy, state)
	if g.observer != nil {
		g.observer.ObserveRiskState(g.viewLocked(strategy, state))
	}
}

func (g *Gate) resetLocked(strategy types.StrategyKind, state *strategyState) {
	state.consecutiveFailures = 0
	state.trippedBy = make(map[types.BreakerKind]bool)
	state.trippedAt = time.Time{}
	state.lastReset = g.nowFn()
	g.persistLocked(strategy, state)
	if g.observer != nil {
		g.observer.ObserveRiskState(g.viewLocked(strategy, state))
	}
}

func (g *Gate) persistLocked(strategy types.StrategyKind, state *strategyState) {
	if g.store == nil {
		return
	}
	if err := g.store.Save(strategy, state); err != nil {
		log.Printf("risk: failed to persist state for %s: %v", strategy, err)
	}
}

func (g *Gate) restore() error {
	records, err := g.store.LoadAll()
	if err != nil {
		return err
	}
	for strategy, rec := range records {
		state, ok := g.states[strategy]
		if !ok {
			continue
		}
		state.consecutiveFailures = rec.consecutiveFailures
		state.cumulativeExposure = rec.cumulativeExposure
		state.lastReset = rec.lastReset
		state.trippedBy = rec.trippedBy
		state.trippedAt = rec.trippedAt
	}
	return nil
}
