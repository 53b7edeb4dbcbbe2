package execution

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/gasprice"
	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

var (
	// ErrBusy means the strategy already has an execution in flight
	ErrBusy = errors.New("execution: strategy busy")
	// ErrShuttingDown means the coordinator no longer accepts plans
	ErrShuttingDown = errors.New("execution: coordinator shutting down")
	// ErrPlanExpired means the plan's deadline passed before submission
	ErrPlanExpired = errors.New("execution: plan deadline passed")
)

// DefaultTimeout is the hard per-execution deadline. A bundle that has
// not confirmed by then is counted as failed; inclusion has no explicit
// failure signal, so the deadline is the failure signal.
const DefaultTimeout = 2 * time.Second

// ResultObserver receives every recorded execution outcome. Implemented
// by the metrics collector; optional.
type ResultObserver interface {
	ObserveExecution(strategy types.StrategyKind, result *types.ExecutionResult)
}

// Coordinator serializes executions per strategy and owns the single
// point where outcomes feed risk and competition state. Each outcome is
// recorded exactly once: a timeout records a failure, and a success
// arriving after the timeout is discarded.
type Coordinator struct {
	risk     interfaces.RiskGate
	gas      *gasprice.Model
	observer ResultObserver
	timeout  time.Duration

	locks map[types.StrategyKind]*sync.Mutex

	mu       sync.Mutex
	shutdown bool
}

// NewCoordinator creates a coordinator; non-positive timeout uses the
// default, nil observer disables observation
func NewCoordinator(riskGate interfaces.RiskGate, gas *gasprice.Model, observer ResultObserver, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	locks := make(map[types.StrategyKind]*sync.Mutex, len(types.AllStrategies))
	for _, kind := range types.AllStrategies {
		locks[kind] = &sync.Mutex{}
	}
	return &Coordinator{
		risk:     riskGate,
		gas:      gas,
		observer: observer,
		timeout:  timeout,
		locks:    locks,
	}
}

// Execute submits a plan through its engine with the hard deadline
// applied. Returns ErrBusy when the strategy already has a plan in
// flight; a deadline miss returns a synthesized failure result, not an
// error.
func (c *Coordinator) Execute(ctx context.Context, engine interfaces.Strategy, plan *types.ExecutionPlan) (*types.ExecutionResult, error) {
	if plan == nil || plan.Opportunity == nil {
		return nil, errors.New("execution: nil plan")
	}
	if c.isShutdown() {
		return nil, ErrShuttingDown
	}
	if !plan.Deadline.IsZero() && time.Now().After(plan.Deadline) {
		return nil, ErrPlanExpired
	}
	if err := c.risk.Validate(plan.Opportunity, plan); err != nil {
		return nil, err
	}

	kind := engine.Kind()
	lock := c.locks[kind]
	if lock == nil {
		return nil, errors.New("execution: unknown strategy")
	}
	if !lock.TryLock() {
		return nil, ErrBusy
	}

	execCtx, cancel := context.WithTimeout(ctx, c.timeout)

	var once sync.Once
	record := func(result *types.ExecutionResult) {
		once.Do(func() {
			c.record(kind, plan, result)
		})
	}

	done := make(chan *types.ExecutionResult, 1)
	started := time.Now()
	go func() {
		defer lock.Unlock()
		defer cancel()

		result, err := engine.Execute(execCtx, plan)
		if err != nil || result == nil {
			result = &types.ExecutionResult{
				Success:       false,
				FailureReason: failureReason(err),
				Latency:       time.Since(started),
			}
		}
		if result.Success && execCtx.Err() != nil {
			// late success: the failure was already recorded, and the
			// position is treated as lost
			log.Printf("execution: discarding late success for %s plan %s", kind, plan.Opportunity.ID)
			return
		}
		record(result)
		done <- result
	}()

	select {
	case result := <-done:
		return result, nil
	case <-execCtx.Done():
		result := &types.ExecutionResult{
			Success:       false,
			FailureReason: "execution deadline exceeded",
			Latency:       time.Since(started),
		}
		record(result)
		return result, nil
	}
}

// Shutdown stops accepting new plans. In-flight executions run to
// completion and their outcomes are still recorded.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
}

func (c *Coordinator) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// record is the single sink for execution outcomes
func (c *Coordinator) record(kind types.StrategyKind, plan *types.ExecutionPlan, result *types.ExecutionResult) {
	c.risk.RecordResult(plan, result)
	c.gas.Tracker().Record(kind, result.Success)
	if result.GasUsed > 0 {
		c.gas.RecordGasUsed(kind, result.GasUsed)
	}
	if c.observer != nil {
		c.observer.ObserveExecution(kind, result)
	}
	if result.Success {
		log.Printf("execution: %s plan %s landed tx=%s profit=%s",
			kind, plan.Opportunity.ID, result.TxHash, result.RealizedProfit)
	} else {
		log.Printf("execution: %s plan %s failed: %s", kind, plan.Opportunity.ID, result.FailureReason)
	}
}

func failureReason(err error) string {
	if err == nil {
		return "executor returned no result"
	}
	return err.Error()
}
