package gasprice

import (
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}

func TestEstimateGasCost(t *testing.T) {
	m := NewModel(nil, nil)

	// (30+2) gwei * 100000 units * 1.2 buffer
	cost := m.EstimateGasCost(gwei(30), gwei(2), 100000)
	expected := new(big.Int).Mul(gwei(32), big.NewInt(100000))
	expected.Mul(expected, big.NewInt(120))
	expected.Div(expected, big.NewInt(100))
	if cost.Cmp(expected) != 0 {
		t.Errorf("Expected %s, got %s", expected, cost)
	}
}

func TestCompetitivePriorityFeeClamping(t *testing.T) {
	m := NewModel(nil, nil)

	// no observations: base fee
	fee := m.CompetitivePriorityFee(nil, types.StrategySandwich)
	if fee.Cmp(gwei(2)) != 0 {
		t.Errorf("Expected base 2 gwei with no observations, got %s", fee)
	}

	// average of 3/5/7 gwei at level 1.0 is 5 gwei
	observed := []*big.Int{gwei(3), gwei(5), gwei(7)}
	fee = m.CompetitivePriorityFee(observed, types.StrategySandwich)
	if fee.Cmp(gwei(5)) != 0 {
		t.Errorf("Expected 5 gwei, got %s", fee)
	}

	// tiny observed fees clamp up to the base
	fee = m.CompetitivePriorityFee([]*big.Int{big.NewInt(1)}, types.StrategySandwich)
	if fee.Cmp(gwei(2)) != 0 {
		t.Errorf("Expected clamp to base, got %s", fee)
	}

	// huge observed fees clamp to the max
	fee = m.CompetitivePriorityFee([]*big.Int{gwei(500)}, types.StrategySandwich)
	if fee.Cmp(gwei(50)) != 0 {
		t.Errorf("Expected clamp to 50 gwei max, got %s", fee)
	}
}

func TestCompetitivePriorityFeeScalesWithLevel(t *testing.T) {
	tracker := NewCompetitionTracker(0)
	m := NewModel(nil, tracker)

	// drive the level up with failures
	for i := 0; i < 10; i++ {
		tracker.Record(types.StrategySandwich, false)
	}
	if tracker.Level(types.StrategySandwich) != 3.0 {
		t.Fatalf("Expected level pinned at 3.0, got %f", tracker.Level(types.StrategySandwich))
	}

	fee := m.CompetitivePriorityFee([]*big.Int{gwei(10)}, types.StrategySandwich)
	if fee.Cmp(gwei(30)) != 0 {
		t.Errorf("Expected 10 gwei x3.0 = 30 gwei, got %s", fee)
	}
}

func TestCheckCeiling(t *testing.T) {
	m := NewModel(nil, nil)

	if err := m.CheckCeiling(gwei(50), gwei(2)); err != nil {
		t.Errorf("52 gwei should pass the 1000 gwei ceiling, got %v", err)
	}
	if err := m.CheckCeiling(gwei(990), gwei(50)); err != ErrGasPriceTooHigh {
		t.Errorf("Expected ErrGasPriceTooHigh above ceiling, got %v", err)
	}
}

func TestRecordGasUsedEMA(t *testing.T) {
	m := NewModel(nil, nil)

	initial := m.GasUnits(types.StrategyFrontrun)
	m.RecordGasUsed(types.StrategyFrontrun, initial*2)

	updated := m.GasUnits(types.StrategyFrontrun)
	expected := (initial*9 + initial*2) / 10
	if updated != expected {
		t.Errorf("Expected EMA %d, got %d", expected, updated)
	}
}

func TestCompetitionLevelBounds(t *testing.T) {
	tracker := NewCompetitionTracker(0)
	rng := rand.New(rand.NewSource(42))

	// level must hold [1.0, 3.0] under arbitrary outcome sequences
	for i := 0; i < 500; i++ {
		tracker.Record(types.StrategyArbitrage, rng.Intn(2) == 0)
		level := tracker.Level(types.StrategyArbitrage)
		if level < 1.0 || level > 3.0 {
			t.Fatalf("Level %f escaped [1.0, 3.0] at step %d", level, i)
		}
	}
}

func TestCompetitionLevelAdjustments(t *testing.T) {
	tracker := NewCompetitionTracker(0)

	// all failures: 1.0 -> 1.5 -> 2.25 -> 3.0 (capped)
	tracker.Record(types.StrategyJIT, false)
	if got := tracker.Level(types.StrategyJIT); got != 1.5 {
		t.Errorf("Expected 1.5 after first failure, got %f", got)
	}
	tracker.Record(types.StrategyJIT, false)
	if got := tracker.Level(types.StrategyJIT); got != 2.25 {
		t.Errorf("Expected 2.25, got %f", got)
	}
	tracker.Record(types.StrategyJIT, false)
	tracker.Record(types.StrategyJIT, false)
	if got := tracker.Level(types.StrategyJIT); got != 3.0 {
		t.Errorf("Expected cap at 3.0, got %f", got)
	}

	// sustained successes decay the level /1.2 per step
	for i := 0; i < 20; i++ {
		tracker.Record(types.StrategyJIT, true)
	}
	if got := tracker.Level(types.StrategyJIT); got != 1.0 {
		t.Errorf("Expected decay back to 1.0, got %f", got)
	}
}

func TestCompetitionWindowExpiry(t *testing.T) {
	tracker := NewCompetitionTracker(time.Minute)
	now := time.Now()
	tracker.nowFn = func() time.Time { return now }

	tracker.Record(types.StrategySandwich, false)
	if tracker.Level(types.StrategySandwich) != 1.5 {
		t.Fatalf("Expected 1.5 after failure, got %f", tracker.Level(types.StrategySandwich))
	}

	// once the window empties the level reads as 1.0
	now = now.Add(2 * time.Minute)
	if got := tracker.Level(types.StrategySandwich); got != 1.0 {
		t.Errorf("Expected 1.0 with empty window, got %f", got)
	}
}
