package execution

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/gasprice"
	"github.com/mev-engine/mev-opportunity-engine/pkg/risk"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// blockingStrategy lets tests control when Execute returns
type blockingStrategy struct {
	kind    types.StrategyKind
	result  *types.ExecutionResult
	err     error
	release chan struct{} // nil means return immediately
}

func (s *blockingStrategy) Kind() types.StrategyKind { return s.kind }

func (s *blockingStrategy) Analyze(context.Context, *types.SwapIntent) (*types.Opportunity, error) {
	return nil, nil
}

func (s *blockingStrategy) BuildPlan(context.Context, *types.Opportunity) (*types.ExecutionPlan, error) {
	return nil, nil
}

func (s *blockingStrategy) Execute(ctx context.Context, _ *types.ExecutionPlan) (*types.ExecutionResult, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-time.After(5 * time.Second):
		}
	}
	return s.result, s.err
}

func profitablePlan(kind types.StrategyKind) *types.ExecutionPlan {
	gwei := big.NewInt(1e9)
	opp := &types.Opportunity{
		ID:                  "opp-1",
		Strategy:            kind,
		SizedAmount:         big.NewInt(1e18),
		ExpectedGrossProfit: new(big.Int).Mul(big.NewInt(300), gwei),
		GasCost:             new(big.Int).Mul(big.NewInt(100), gwei),
		DetectedAt:          time.Now(),
	}
	return &types.ExecutionPlan{
		Opportunity:     opp,
		FlashLoanAmount: opp.SizedAmount,
		Deadline:        time.Now().Add(time.Second),
	}
}

func newTestCoordinator(timeout time.Duration) (*Coordinator, *risk.Gate, *gasprice.Model) {
	gate := risk.NewGate(nil, nil)
	gas := gasprice.NewModel(nil, nil)
	return NewCoordinator(gate, gas, nil, timeout), gate, gas
}

func TestExecuteRecordsSuccess(t *testing.T) {
	c, gate, gas := newTestCoordinator(0)
	engine := &blockingStrategy{
		kind:   types.StrategyArbitrage,
		result: &types.ExecutionResult{Success: true, TxHash: "0xabc", GasUsed: 900000},
	}

	result, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategyArbitrage))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Success {
		t.Error("Expected success result")
	}
	if got := gate.State(types.StrategyArbitrage).ConsecutiveFailures; got != 0 {
		t.Errorf("Expected no recorded failures, got %d", got)
	}
	// realized gas usage folded into the EMA
	if got := gas.GasUnits(types.StrategyArbitrage); got != (850000*9+900000)/10 {
		t.Errorf("Expected EMA-updated gas units, got %d", got)
	}
}

func TestExecuteTimeoutCountsAsFailureOnce(t *testing.T) {
	c, gate, gas := newTestCoordinator(50 * time.Millisecond)
	release := make(chan struct{})
	engine := &blockingStrategy{
		kind:    types.StrategySandwich,
		result:  &types.ExecutionResult{Success: true, TxHash: "0xlate"},
		release: release,
	}

	result, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategySandwich))
	if err != nil {
		t.Fatalf("Timeout must not be an error: %v", err)
	}
	if result.Success {
		t.Fatal("Expected synthesized failure on timeout")
	}
	if got := gate.State(types.StrategySandwich).ConsecutiveFailures; got != 1 {
		t.Errorf("Expected exactly one recorded failure, got %d", got)
	}

	// the late success must be discarded, not recorded
	close(release)
	time.Sleep(50 * time.Millisecond)
	if got := gate.State(types.StrategySandwich).ConsecutiveFailures; got != 1 {
		t.Errorf("Late success changed risk state: %d failures", got)
	}
	if level := gas.Tracker().Level(types.StrategySandwich); level != 1.5 {
		t.Errorf("Expected one failure outcome in the tracker, level %f", level)
	}
}

func TestExecuteAtMostOneInFlight(t *testing.T) {
	c, _, _ := newTestCoordinator(time.Second)
	release := make(chan struct{})
	engine := &blockingStrategy{
		kind:    types.StrategyFrontrun,
		result:  &types.ExecutionResult{Success: true},
		release: release,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Execute(context.Background(), engine, profitablePlan(types.StrategyFrontrun))
	}()
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategyFrontrun)); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy with a plan in flight, got %v", err)
	}

	close(release)
	wg.Wait()

	// lock released after completion
	engine2 := &blockingStrategy{kind: types.StrategyFrontrun, result: &types.ExecutionResult{Success: true}}
	if _, err := c.Execute(context.Background(), engine2, profitablePlan(types.StrategyFrontrun)); err != nil {
		t.Errorf("Expected execution to proceed after release, got %v", err)
	}
}

func TestExecuteRefusesAfterShutdown(t *testing.T) {
	c, gate, _ := newTestCoordinator(time.Second)
	release := make(chan struct{})
	engine := &blockingStrategy{
		kind:    types.StrategyJIT,
		result:  &types.ExecutionResult{Success: true},
		release: release,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategyJIT)); err != nil {
			t.Errorf("In-flight execution failed: %v", err)
		}
	}()
	time.Sleep(20 * time.Millisecond)

	c.Shutdown()
	if _, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategyJIT)); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}

	// the already-submitted plan still completes and records
	close(release)
	wg.Wait()
	if got := gate.State(types.StrategyJIT).ConsecutiveFailures; got != 0 {
		t.Errorf("In-flight success should have recorded cleanly, got %d failures", got)
	}
}

func TestExecuteRejectsExpiredPlan(t *testing.T) {
	c, _, _ := newTestCoordinator(time.Second)
	engine := &blockingStrategy{kind: types.StrategyArbitrage, result: &types.ExecutionResult{Success: true}}

	plan := profitablePlan(types.StrategyArbitrage)
	plan.Deadline = time.Now().Add(-time.Millisecond)
	if _, err := c.Execute(context.Background(), engine, plan); !errors.Is(err, ErrPlanExpired) {
		t.Errorf("Expected ErrPlanExpired, got %v", err)
	}
}

func TestExecuteRevalidatesRisk(t *testing.T) {
	c, gate, _ := newTestCoordinator(time.Second)
	engine := &blockingStrategy{kind: types.StrategyArbitrage, result: &types.ExecutionResult{Success: true}}

	gate.EmergencyShutdown()
	if _, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategyArbitrage)); !errors.Is(err, risk.ErrEmergencyShutdown) {
		t.Errorf("Expected risk rejection before submission, got %v", err)
	}
}

func TestExecutorErrorBecomesFailureResult(t *testing.T) {
	c, gate, _ := newTestCoordinator(time.Second)
	engine := &blockingStrategy{kind: types.StrategySandwich, err: errors.New("bundle rejected")}

	result, err := c.Execute(context.Background(), engine, profitablePlan(types.StrategySandwich))
	if err != nil {
		t.Fatalf("Executor error must become a failure result, got error %v", err)
	}
	if result.Success || result.FailureReason != "bundle rejected" {
		t.Errorf("Expected failure with reason, got %+v", result)
	}
	if got := gate.State(types.StrategySandwich).ConsecutiveFailures; got != 1 {
		t.Errorf("Expected one recorded failure, got %d", got)
	}
}
