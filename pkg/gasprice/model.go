package gasprice

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/params"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// ErrGasPriceTooHigh indicates the computed gas price exceeds the hard
// ceiling. Fatal for the opportunity, never retried within the cycle.
var ErrGasPriceTooHigh = errors.New("gasprice: computed price exceeds ceiling")

const (
	// DefaultBufferPct pads gas cost estimates by 20%
	DefaultBufferPct = 20
)

// DefaultStrategyGasUnits carries the flash-loan bundle gas estimates per
// strategy: borrow + repay + swaps + safety margin
var DefaultStrategyGasUnits = map[types.StrategyKind]uint64{
	types.StrategyArbitrage: 850000, // flash loan + two swaps
	types.StrategySandwich:  400000, // frontrun + backrun legs
	types.StrategyFrontrun:  350000, // single leg
	types.StrategyJIT:       500000, // mint + burn around the victim
}

// Model estimates EIP-1559 gas costs and competition-adaptive priority
// fees. Priority fee math is exact integer arithmetic; the competition
// multiplier enters in per-mille form.
type Model struct {
	basePriorityFee *big.Int
	maxPriorityFee  *big.Int
	maxGasPrice     *big.Int
	bufferPct       int64

	tracker *CompetitionTracker

	mu       sync.RWMutex
	gasUnits map[types.StrategyKind]uint64
}

// ModelConfig holds the gas pricing thresholds
type ModelConfig struct {
	BasePriorityFee *big.Int // floor for the tip, default 2 gwei
	MaxPriorityFee  *big.Int // cap for the tip, default 50 gwei
	MaxGasPrice     *big.Int // hard ceiling, default 1000 gwei
	BufferPct       int64
}

// NewModel creates a gas price model; nil config uses defaults
func NewModel(cfg *ModelConfig, tracker *CompetitionTracker) *Model {
	if cfg == nil {
		cfg = &ModelConfig{}
	}
	m := &Model{
		basePriorityFee: cfg.BasePriorityFee,
		maxPriorityFee:  cfg.MaxPriorityFee,
		maxGasPrice:     cfg.MaxGasPrice,
		bufferPct:       cfg.BufferPct,
		tracker:         tracker,
		gasUnits:        make(map[types.StrategyKind]uint64),
	}
	if m.basePriorityFee == nil || m.basePriorityFee.Sign() <= 0 {
		m.basePriorityFee = new(big.Int).SetUint64(2 * params.GWei)
	}
	if m.maxPriorityFee == nil || m.maxPriorityFee.Sign() <= 0 {
		m.maxPriorityFee = new(big.Int).SetUint64(50 * params.GWei)
	}
	if m.maxGasPrice == nil || m.maxGasPrice.Sign() <= 0 {
		m.maxGasPrice = new(big.Int).SetUint64(1000 * params.GWei)
	}
	if m.bufferPct <= 0 {
		m.bufferPct = DefaultBufferPct
	}
	if m.tracker == nil {
		m.tracker = NewCompetitionTracker(0)
	}
	for kind, units := range DefaultStrategyGasUnits {
		m.gasUnits[kind] = units
	}
	return m
}

// Tracker exposes the competition tracker for outcome recording
func (m *Model) Tracker() *CompetitionTracker {
	return m.tracker
}

// EstimateGasCost returns (baseFee+priorityFee)*gasUnits padded by the
// configured buffer
func (m *Model) EstimateGasCost(baseFee, priorityFee *big.Int, gasUnits uint64) *big.Int {
	perGas := new(big.Int).Add(baseFee, priorityFee)
	cost := perGas.Mul(perGas, new(big.Int).SetUint64(gasUnits))
	cost.Mul(cost, big.NewInt(100+m.bufferPct))
	return cost.Div(cost, big.NewInt(100))
}

// CompetitivePriorityFee averages the observed recent priority fees,
// scales by the strategy's competition level and clamps to the
// configured [base, max] band. No observations yields the base fee.
func (m *Model) CompetitivePriorityFee(observed []*big.Int, strategy types.StrategyKind) *big.Int {
	if len(observed) == 0 {
		return new(big.Int).Set(m.basePriorityFee)
	}

	sum := big.NewInt(0)
	count := int64(0)
	for _, fee := range observed {
		if fee == nil || fee.Sign() < 0 {
			continue
		}
		sum.Add(sum, fee)
		count++
	}
	if count == 0 {
		return new(big.Int).Set(m.basePriorityFee)
	}

	avg := sum.Div(sum, big.NewInt(count))
	fee := avg.Mul(avg, big.NewInt(m.tracker.LevelPerMille(strategy)))
	fee.Div(fee, big.NewInt(1000))

	if fee.Cmp(m.basePriorityFee) < 0 {
		return new(big.Int).Set(m.basePriorityFee)
	}
	if fee.Cmp(m.maxPriorityFee) > 0 {
		return new(big.Int).Set(m.maxPriorityFee)
	}
	return fee
}

// CheckCeiling rejects effective gas prices above the hard ceiling
func (m *Model) CheckCeiling(baseFee, priorityFee *big.Int) error {
	effective := new(big.Int).Add(baseFee, priorityFee)
	if effective.Cmp(m.maxGasPrice) > 0 {
		return ErrGasPriceTooHigh
	}
	return nil
}

// GasUnits returns the current gas estimate for a strategy
func (m *Model) GasUnits(strategy types.StrategyKind) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if units, ok := m.gasUnits[strategy]; ok {
		return units
	}
	return 350000
}

// RecordGasUsed folds realized gas usage into the estimate with an
// exponential moving average (alpha 0.1)
func (m *Model) RecordGasUsed(strategy types.StrategyKind, gasUsed uint64) {
	if gasUsed == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.gasUnits[strategy]
	if current == 0 {
		m.gasUnits[strategy] = gasUsed
		return
	}
	m.gasUnits[strategy] = (current*9 + gasUsed) / 10
}
