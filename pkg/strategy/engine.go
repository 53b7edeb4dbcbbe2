package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/mev-engine/mev-opportunity-engine/pkg/cache"
	"github.com/mev-engine/mev-opportunity-engine/pkg/dexmath"
	"github.com/mev-engine/mev-opportunity-engine/pkg/gasprice"
	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/sizing"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"github.com/mev-engine/mev-opportunity-engine/pkg/validation"
)

// Deps bundles the collaborators every strategy engine needs. All fields
// are required except Cache, which may be nil to bypass snapshot caching.
type Deps struct {
	Pools    interfaces.PoolStateProvider
	Blocks   interfaces.BlockMetaProvider
	Executor interfaces.FlashLoanExecutor
	Cache    interfaces.SnapshotCache
	Risk     interfaces.RiskGate
	Gas      *gasprice.Model
}

// Config holds the per-engine tuning thresholds. Strategies read only
// the fields relevant to them; constructors fill defaults for the rest.
type Config struct {
	MinPosition *big.Int // smallest size worth analyzing
	MaxPosition *big.Int // configured position ceiling

	MinSpreadBps  uint32   // arbitrage: minimum cross-pool mid-price gap
	CounterDexIDs []string // arbitrage: venues to compare against

	MinVictimAmount   *big.Int // sandwich/frontrun/jit: victim swap floor
	MinVictimGasPrice *big.Int // sandwich: skip victims paying too little

	BackrunBps            int64  // sandwich: fraction of frontrun output sold back
	MaxReserveFractionBps int64  // sandwich/frontrun/jit: reserve usage cap
	HoldBlocks            uint64 // jit: liquidity hold window

	PlanDeadline time.Duration // execution deadline from plan build
}

const (
	// DefaultMinSpreadBps requires a 1% mid-price gap before arbitrage
	// sizing starts
	DefaultMinSpreadBps = 100
	// DefaultBackrunBps sells back 95% of the frontrun output
	DefaultBackrunBps = 9500
	// DefaultHoldBlocks is the jit liquidity hold window
	DefaultHoldBlocks = 2
	// DefaultPlanDeadline bounds how long a plan stays submittable
	DefaultPlanDeadline = 2 * time.Second
)

func applyDefaults(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	out := *cfg
	if out.MinPosition == nil || out.MinPosition.Sign() <= 0 {
		// 0.001 ETH: below this gas dominates any profit
		out.MinPosition = new(big.Int).SetUint64(params.GWei * 1e6)
	}
	if out.MaxPosition == nil || out.MaxPosition.Sign() <= 0 {
		out.MaxPosition = new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
	}
	if out.MinSpreadBps == 0 {
		out.MinSpreadBps = DefaultMinSpreadBps
	}
	if out.MinVictimAmount == nil || out.MinVictimAmount.Sign() <= 0 {
		out.MinVictimAmount = new(big.Int).Set(out.MinPosition)
	}
	if out.BackrunBps <= 0 || out.BackrunBps > 10000 {
		out.BackrunBps = DefaultBackrunBps
	}
	if out.HoldBlocks == 0 {
		out.HoldBlocks = DefaultHoldBlocks
	}
	if out.PlanDeadline <= 0 {
		out.PlanDeadline = DefaultPlanDeadline
	}
	return &out
}

// baseEngine carries the shared analysis plumbing: snapshot fetch through
// the cache, gas quoting, plan construction and executor delegation. The
// four strategies embed it and supply Analyze.
type baseEngine struct {
	kind      types.StrategyKind
	cfg       *Config
	deps      Deps
	amm       *dexmath.Math
	simAmm    *dexmath.Math // unguarded, for replaying victim legs
	validator *validation.SnapshotValidator
	optimizer *sizing.Optimizer
	nowFn     func() time.Time
}

func newBaseEngine(kind types.StrategyKind, cfg *Config, deps Deps) baseEngine {
	return baseEngine{
		kind:      kind,
		cfg:       applyDefaults(cfg),
		deps:      deps,
		amm:       dexmath.New(nil),
		simAmm:    dexmath.New(&dexmath.Config{MaxInputBps: 10000, SafetyMarginBps: 10000}),
		validator: validation.NewSnapshotValidator(nil),
		optimizer: sizing.NewOptimizer(0),
		nowFn:     time.Now,
	}
}

// Kind returns the strategy identity
func (e *baseEngine) Kind() types.StrategyKind {
	return e.kind
}

// snapshot fetches a pool state through the TTL cache. Provider errors
// are infrastructure faults and propagate.
func (e *baseEngine) snapshot(ctx context.Context, dexID string, tokenA, tokenB common.Address) (*types.PoolSnapshot, error) {
	key := cache.Key(dexID, tokenA.Hex(), tokenB.Hex())
	if e.deps.Cache != nil {
		if snap, ok := e.deps.Cache.Get(key); ok {
			return snap, nil
		}
	}
	snap, err := e.deps.Pools.GetSnapshot(ctx, dexID, tokenA, tokenB)
	if err != nil {
		return nil, fmt.Errorf("fetch %s snapshot: %w", dexID, err)
	}
	if e.deps.Cache != nil && snap != nil {
		e.deps.Cache.Put(key, snap)
	}
	return snap, nil
}

// gasQuote prices the strategy's bundle at the current head. A ceiling
// breach returns a nil quote: the opportunity is dropped, never retried.
func (e *baseEngine) gasQuote(ctx context.Context) (*gasQuote, error) {
	head, err := e.deps.Blocks.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	priorityFee := e.deps.Gas.CompetitivePriorityFee(head.PriorityFees, e.kind)
	if err := e.deps.Gas.CheckCeiling(head.BaseFee, priorityFee); err != nil {
		return nil, nil
	}
	return &gasQuote{
		baseFee:     head.BaseFee,
		priorityFee: priorityFee,
		cost:        e.deps.Gas.EstimateGasCost(head.BaseFee, priorityFee, e.deps.Gas.GasUnits(e.kind)),
	}, nil
}

type gasQuote struct {
	baseFee     *big.Int
	priorityFee *big.Int
	cost        *big.Int
}

// finalize runs the risk gate over a candidate and stamps the shared
// fields. A gate rejection returns nil: the strategy stays quiet rather
// than surfacing an error for a policy decision.
func (e *baseEngine) finalize(opp *types.Opportunity) *types.Opportunity {
	opp.ID = fmt.Sprintf("%s-%s-%d", e.kind, shortHash(opp.TargetTx), e.nowFn().UnixNano())
	opp.Strategy = e.kind
	opp.CompetitionLevel = e.deps.Gas.Tracker().Level(e.kind)
	opp.DetectedAt = e.nowFn()

	if err := e.deps.Risk.Validate(opp, nil); err != nil {
		return nil
	}
	return opp
}

func shortHash(txHash string) string {
	if len(txHash) > 10 {
		return txHash[:10]
	}
	return txHash
}

// callbackPayload is the strategy-specific data the flash-loan callback
// needs to replay the planned legs on-chain
type callbackPayload struct {
	Strategy      types.StrategyKind        `json:"strategy"`
	TargetTx      string                    `json:"targetTx,omitempty"`
	Pools         map[string]common.Address `json:"pools"`
	AmountIn      *big.Int                  `json:"amountIn"`
	CounterAmount *big.Int                  `json:"counterAmount,omitempty"`
	HoldBlocks    uint64                    `json:"holdBlocks,omitempty"`
}

// BuildPlan turns a detected opportunity into a single-use execution
// plan priced at the current head
func (e *baseEngine) BuildPlan(ctx context.Context, opp *types.Opportunity) (*types.ExecutionPlan, error) {
	if opp == nil {
		return nil, fmt.Errorf("build plan: nil opportunity")
	}

	head, err := e.deps.Blocks.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	priorityFee := e.deps.Gas.CompetitivePriorityFee(head.PriorityFees, e.kind)
	if err := e.deps.Gas.CheckCeiling(head.BaseFee, priorityFee); err != nil {
		return nil, err
	}

	payload := callbackPayload{
		Strategy:      e.kind,
		TargetTx:      opp.TargetTx,
		Pools:         opp.Pools,
		AmountIn:      opp.SizedAmount,
		CounterAmount: opp.CounterAmount,
	}
	if e.kind == types.StrategyJIT {
		payload.HoldBlocks = e.cfg.HoldBlocks
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode callback payload: %w", err)
	}

	return &types.ExecutionPlan{
		Opportunity:     opp,
		GasPrice:        new(big.Int).Add(head.BaseFee, priorityFee),
		PriorityFee:     priorityFee,
		FlashLoanToken:  opp.TokenIn,
		FlashLoanAmount: opp.SizedAmount,
		CallbackPayload: encoded,
		Deadline:        e.nowFn().Add(e.cfg.PlanDeadline),
	}, nil
}

// Execute hands the plan to the flash-loan collaborator. Outcome
// recording belongs to the execution coordinator, which owns the
// single point where results feed risk and competition state.
func (e *baseEngine) Execute(ctx context.Context, plan *types.ExecutionPlan) (*types.ExecutionResult, error) {
	if plan == nil || plan.Opportunity == nil {
		return nil, fmt.Errorf("execute: nil plan")
	}
	return e.deps.Executor.Execute(ctx, plan)
}

// orientReserves returns (reserveIn, reserveOut) for a swap entering the
// pool with tokenIn
func orientReserves(snap *types.PoolSnapshot, tokenIn common.Address) (*big.Int, *big.Int) {
	if snap.TokenA == tokenIn {
		return snap.ReserveA, snap.ReserveB
	}
	return snap.ReserveB, snap.ReserveA
}

func bpsOf(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Div(out, big.NewInt(10000))
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
