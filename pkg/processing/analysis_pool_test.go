package processing

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// scriptedEngine returns a fixed analysis outcome
type scriptedEngine struct {
	kind  types.StrategyKind
	opp   *types.Opportunity
	err   error
	delay time.Duration
	calls int64
}

func (e *scriptedEngine) Kind() types.StrategyKind { return e.kind }

func (e *scriptedEngine) Analyze(ctx context.Context, _ *types.SwapIntent) (*types.Opportunity, error) {
	atomic.AddInt64(&e.calls, 1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.opp, e.err
}

func (e *scriptedEngine) BuildPlan(context.Context, *types.Opportunity) (*types.ExecutionPlan, error) {
	return nil, nil
}

func (e *scriptedEngine) Execute(context.Context, *types.ExecutionPlan) (*types.ExecutionResult, error) {
	return nil, nil
}

func testIntent() *types.SwapIntent {
	return &types.SwapIntent{
		TxHash:     "0xfeed",
		DexID:      "uniswap_v2",
		AmountIn:   big.NewInt(1e18),
		ObservedAt: time.Now(),
	}
}

func TestPoolFansOutAcrossEngines(t *testing.T) {
	detected := &scriptedEngine{kind: types.StrategyArbitrage, opp: &types.Opportunity{ID: "opp-1"}}
	quiet := &scriptedEngine{kind: types.StrategySandwich}

	var mu sync.Mutex
	var sunk []*types.Opportunity
	p := NewAnalysisPool(nil, []interfaces.Strategy{detected, quiet}, func(opp *types.Opportunity) {
		mu.Lock()
		defer mu.Unlock()
		sunk = append(sunk, opp)
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := p.Submit(testIntent()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if atomic.LoadInt64(&detected.calls) != 1 || atomic.LoadInt64(&quiet.calls) != 1 {
		t.Error("Each engine should analyze the intent exactly once")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sunk) != 1 || sunk[0].ID != "opp-1" {
		t.Errorf("Expected exactly the detected opportunity in the sink, got %d", len(sunk))
	}

	stats := p.Stats()
	if stats.Analyzed != 2 || stats.Detected != 1 {
		t.Errorf("Expected 2 analyzed / 1 detected, got %+v", stats)
	}
}

func TestPoolTimeoutIsLoggedDrop(t *testing.T) {
	slow := &scriptedEngine{kind: types.StrategyJIT, delay: 200 * time.Millisecond}

	p := NewAnalysisPool(&PoolConfig{
		PoolSize:        2,
		QueueSize:       10,
		JobTimeout:      20 * time.Millisecond,
		ShutdownTimeout: time.Second,
	}, []interfaces.Strategy{slow}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := p.Submit(testIntent()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// wait for the job to hit its own timeout before tearing down
	deadline := time.Now().Add(time.Second)
	for p.Stats().TimedOut == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := p.Stats().TimedOut; got != 1 {
		t.Errorf("Expected 1 timed-out job, got %d", got)
	}
}

func TestPoolFullQueueDrops(t *testing.T) {
	blocked := &scriptedEngine{kind: types.StrategyArbitrage, delay: time.Second}

	p := NewAnalysisPool(&PoolConfig{
		PoolSize:        1,
		QueueSize:       1,
		JobTimeout:      2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, []interfaces.Strategy{blocked}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	// fill the worker and the one queue slot, then overflow
	var sawFull bool
	for i := 0; i < 5; i++ {
		if err := p.Submit(testIntent()); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("Expected ErrQueueFull, got %v", err)
			}
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("Expected the bounded queue to reject an overflow submission")
	}
}

func TestFullQueueDropsWholeIntent(t *testing.T) {
	first := &scriptedEngine{kind: types.StrategyArbitrage, delay: time.Second}
	second := &scriptedEngine{kind: types.StrategySandwich, delay: time.Second}

	// room for one job but two engines: the intent must not reach
	// either engine
	p := NewAnalysisPool(&PoolConfig{
		PoolSize:        1,
		QueueSize:       1,
		JobTimeout:      2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}, []interfaces.Strategy{first, second}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	if err := p.Submit(testIntent()); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if got := len(p.jobQueue); got != 0 {
		t.Errorf("A dropped intent must leave no partial jobs queued, found %d", got)
	}
	if atomic.LoadInt64(&first.calls) != 0 || atomic.LoadInt64(&second.calls) != 0 {
		t.Error("No engine should analyze a dropped intent")
	}
	if got := p.Stats().Dropped; got != 1 {
		t.Errorf("Expected 1 dropped intent, got %d", got)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewAnalysisPool(nil, nil, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := p.Submit(testIntent()); err == nil {
		t.Error("Expected submission to fail after stop")
	}
}
