package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyKind identifies one of the four opportunity strategies
type StrategyKind string

const (
	StrategyArbitrage StrategyKind = "arbitrage"
	StrategySandwich  StrategyKind = "sandwich"
	StrategyFrontrun  StrategyKind = "frontrun"
	StrategyJIT       StrategyKind = "jit"
)

// AllStrategies lists every strategy kind in a stable order
var AllStrategies = []StrategyKind{
	StrategyArbitrage,
	StrategySandwich,
	StrategyFrontrun,
	StrategyJIT,
}

// PoolSnapshot is a point-in-time view of a constant-product pool.
// Snapshots are immutable once constructed; a fresh one is fetched per
// analysis cycle.
type PoolSnapshot struct {
	PairID               common.Address `json:"pairId"`
	DexID                string         `json:"dexId"`
	TokenA               common.Address `json:"tokenA"`
	TokenB               common.Address `json:"tokenB"`
	ReserveA             *big.Int       `json:"reserveA"`
	ReserveB             *big.Int       `json:"reserveB"`
	FeeBps               uint32         `json:"feeBps"`
	LastUpdate           time.Time      `json:"lastUpdate"`
	PendingConflictCount uint32         `json:"pendingConflictCount"`
}

// HasReserves reports whether both reserves are present and positive
func (p *PoolSnapshot) HasReserves() bool {
	return p.ReserveA != nil && p.ReserveB != nil &&
		p.ReserveA.Sign() > 0 && p.ReserveB.Sign() > 0
}

// Age returns how stale the snapshot is relative to now
func (p *PoolSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(p.LastUpdate)
}

// SwapIntent is the decoded shape of a pending swap transaction. It is
// produced by the external decoder and read-only to the engine.
type SwapIntent struct {
	TxHash         string         `json:"txHash"`
	DexID          string         `json:"dexId"`
	TokenIn        common.Address `json:"tokenIn"`
	TokenOut       common.Address `json:"tokenOut"`
	AmountIn       *big.Int       `json:"amountIn"`
	GasPrice       *big.Int       `json:"gasPrice"`
	MaxPriorityFee *big.Int       `json:"maxPriorityFee"`
	ObservedAt     time.Time      `json:"observedAt"`
}

// Valid reports whether the intent carries the minimum decoded fields
func (s *SwapIntent) Valid() bool {
	return s != nil && s.TxHash != "" && s.AmountIn != nil && s.AmountIn.Sign() > 0 &&
		s.TokenIn != s.TokenOut
}

// BlockMeta carries current head metadata from the RPC collaborator
type BlockMeta struct {
	Number       uint64     `json:"number"`
	Timestamp    time.Time  `json:"timestamp"`
	BaseFee      *big.Int   `json:"baseFee"`
	PriorityFees []*big.Int `json:"priorityFees"` // recent observed tips, newest last
}

// Opportunity is a sized, profitable trade candidate. Immutable after
// construction; consumed by the risk gate and the execution coordinator.
type Opportunity struct {
	ID                  string                          `json:"id"`
	Strategy            StrategyKind                    `json:"strategy"`
	TargetTx            string                          `json:"targetTx"`
	TokenIn             common.Address                  `json:"tokenIn"`
	TokenOut            common.Address                  `json:"tokenOut"`
	SizedAmount         *big.Int                        `json:"sizedAmount"`
	CounterAmount       *big.Int                        `json:"counterAmount,omitempty"` // backrun leg, when present
	ExpectedGrossProfit *big.Int                        `json:"expectedGrossProfit"`
	GasCost             *big.Int                        `json:"gasCost"`
	Pools               map[string]common.Address       `json:"pools"`
	CompetitionLevel    float64                         `json:"competitionLevel"`
	DetectedAt          time.Time                       `json:"detectedAt"`
}

// NetProfit returns expected profit after gas
func (o *Opportunity) NetProfit() *big.Int {
	if o.ExpectedGrossProfit == nil {
		return big.NewInt(0)
	}
	net := new(big.Int).Set(o.ExpectedGrossProfit)
	if o.GasCost != nil {
		net.Sub(net, o.GasCost)
	}
	return net
}

// ExecutionPlan is the single-use handoff to the flash-loan submitter.
// A plan is never re-submitted after failure without re-analysis.
type ExecutionPlan struct {
	Opportunity     *Opportunity   `json:"opportunity"`
	GasPrice        *big.Int       `json:"gasPrice"`
	PriorityFee     *big.Int       `json:"priorityFee"`
	FlashLoanToken  common.Address `json:"flashLoanToken"`
	FlashLoanAmount *big.Int       `json:"flashLoanAmount"`
	CallbackPayload []byte         `json:"callbackPayload"`
	Deadline        time.Time      `json:"deadline"`
}

// ExecutionResult is what the flash-loan collaborator reports back
type ExecutionResult struct {
	Success        bool          `json:"success"`
	TxHash         string        `json:"txHash,omitempty"`
	RealizedProfit *big.Int      `json:"realizedProfit,omitempty"`
	GasUsed        uint64        `json:"gasUsed,omitempty"`
	FailureReason  string        `json:"failureReason,omitempty"`
	Latency        time.Duration `json:"latency"`
}

// BreakerKind identifies why a strategy's circuit breaker tripped
type BreakerKind string

const (
	BreakerConsecutiveFailures BreakerKind = "consecutive_failures"
	BreakerManualShutdown      BreakerKind = "manual_shutdown"
)

// RiskStateView is a read-only copy of a strategy's risk state
type RiskStateView struct {
	Strategy            StrategyKind  `json:"strategy"`
	Armed               bool          `json:"armed"`
	TrippedBy           []BreakerKind `json:"trippedBy,omitempty"`
	ConsecutiveFailures uint32        `json:"consecutiveFailures"`
	CumulativeExposure  *big.Int      `json:"cumulativeExposure"`
	LastReset           time.Time     `json:"lastReset"`
	TrippedAt           time.Time     `json:"trippedAt,omitempty"`
}
