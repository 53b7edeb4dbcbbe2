package processing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// ErrQueueFull means the analysis queue is saturated and the intent was
// dropped. Mempool pressure is bursty; dropping is the correct response.
var ErrQueueFull = errors.New("processing: analysis queue full")

// PoolConfig holds configuration for the analysis pool
type PoolConfig struct {
	PoolSize        int           `json:"pool_size"`
	QueueSize       int           `json:"queue_size"`
	JobTimeout      time.Duration `json:"job_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultPoolConfig returns the default analysis pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		PoolSize:        8,
		QueueSize:       1000,
		JobTimeout:      2 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// analysisJob pairs one swap intent with one strategy engine
type analysisJob struct {
	intent *types.SwapIntent
	engine interfaces.Strategy
}

// OpportunitySink receives every opportunity the pool detects
type OpportunitySink func(opp *types.Opportunity)

// AnalysisPool fans swap intents out across strategy engines with a
// bounded queue and per-job timeout. Analyze is side-effect-free, so
// jobs run with unbounded mutual concurrency; only queue depth and
// worker count bound the load.
type AnalysisPool struct {
	config  *PoolConfig
	engines []interfaces.Strategy
	sink    OpportunitySink

	jobQueue chan analysisJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	running bool

	analyzed      int64
	detected      int64
	timedOut      int64
	dropped       int64
	analysisFault int64
}

// PoolStats is a point-in-time snapshot of pool counters
type PoolStats struct {
	QueuedJobs    int   `json:"queuedJobs"`
	Analyzed      int64 `json:"analyzed"`
	Detected      int64 `json:"detected"`
	TimedOut      int64 `json:"timedOut"`
	Dropped       int64 `json:"dropped"`
	AnalysisFault int64 `json:"analysisFaults"`
}

// NewAnalysisPool creates an analysis pool over the given engines; nil
// config uses defaults. The sink may be nil.
func NewAnalysisPool(config *PoolConfig, engines []interfaces.Strategy, sink OpportunitySink) *AnalysisPool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	defaults := DefaultPoolConfig()
	if config.PoolSize <= 0 {
		config.PoolSize = defaults.PoolSize
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AnalysisPool{
		config:   config,
		engines:  engines,
		sink:     sink,
		jobQueue: make(chan analysisJob, config.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines
func (p *AnalysisPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("analysis pool is already running")
	}

	for i := 0; i < p.config.PoolSize; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.running = true
	return nil
}

// Stop drains the pool: no new submissions, in-flight jobs run to
// completion or timeout
func (p *AnalysisPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("analysis pool is not running")
	}
	p.running = false
	p.cancel()
	close(p.jobQueue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return fmt.Errorf("analysis pool shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues one job per engine for the intent, all or nothing.
// An intent analyzed by only some strategies would skew detection, so
// a queue without room for every engine drops the whole intent and
// returns ErrQueueFull.
func (p *AnalysisPool) Submit(intent *types.SwapIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return fmt.Errorf("analysis pool is not running")
	}

	if len(p.jobQueue)+len(p.engines) > cap(p.jobQueue) {
		atomic.AddInt64(&p.dropped, 1)
		return ErrQueueFull
	}
	for _, engine := range p.engines {
		p.jobQueue <- analysisJob{intent: intent, engine: engine}
	}
	return nil
}

// Stats returns current pool counters
func (p *AnalysisPool) Stats() PoolStats {
	return PoolStats{
		QueuedJobs:    len(p.jobQueue),
		Analyzed:      atomic.LoadInt64(&p.analyzed),
		Detected:      atomic.LoadInt64(&p.detected),
		TimedOut:      atomic.LoadInt64(&p.timedOut),
		Dropped:       atomic.LoadInt64(&p.dropped),
		AnalysisFault: atomic.LoadInt64(&p.analysisFault),
	}
}

func (p *AnalysisPool) worker() {
	defer p.wg.Done()

	for job := range p.jobQueue {
		p.processJob(job)
	}
}

// processJob runs one Analyze call under the job timeout. Timeouts and
// faults are logged drops; the pool never crashes on a bad intent.
func (p *AnalysisPool) processJob(job analysisJob) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.JobTimeout)
	defer cancel()

	atomic.AddInt64(&p.analyzed, 1)
	opp, err := job.engine.Analyze(ctx, job.intent)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			atomic.AddInt64(&p.timedOut, 1)
			log.Printf("processing: %s analysis timed out for %s", job.engine.Kind(), job.intent.TxHash)
			return
		}
		if errors.Is(err, context.Canceled) {
			// pool shutting down; not a fault
			return
		}
		atomic.AddInt64(&p.analysisFault, 1)
		log.Printf("processing: %s analysis fault for %s: %v", job.engine.Kind(), job.intent.TxHash, err)
		return
	}
	if opp == nil {
		return
	}

	atomic.AddInt64(&p.detected, 1)
	if p.sink != nil {
		p.sink(opp)
	}
}
