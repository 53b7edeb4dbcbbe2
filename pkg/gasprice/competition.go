package gasprice

import (
	"sync"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

const (
	// DefaultWindow is the sliding window over which execution outcomes
	// drive the competition level
	DefaultWindow = 5 * time.Minute

	// Competition level bounds and adjustment factors, in per-mille to
	// keep the arithmetic exact. 1000 = x1.0.
	levelFloor = 1000
	levelCap   = 3000

	// success rate thresholds, in percent of the window
	lowSuccessPct  = 30
	highSuccessPct = 70
)

type outcome struct {
	at      time.Time
	success bool
}

// CompetitionTracker derives a per-strategy competition multiplier from
// recent execution outcomes. Low success rates mean other searchers are
// winning the same opportunities, so the gas premium scales up; high
// success rates let it decay back toward 1.0.
//
// All mutation goes through Record; callers never touch the window.
type CompetitionTracker struct {
	mu      sync.Mutex
	window  time.Duration
	history map[types.StrategyKind][]outcome
	levels  map[types.StrategyKind]int64 // per-mille
	nowFn   func() time.Time
}

// NewCompetitionTracker creates a tracker with the given window;
// non-positive windows use the default
func NewCompetitionTracker(window time.Duration) *CompetitionTracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &CompetitionTracker{
		window:  window,
		history: make(map[types.StrategyKind][]outcome),
		levels:  make(map[types.StrategyKind]int64),
		nowFn:   time.Now,
	}
}

// Record adds an execution outcome and applies one adjustment step:
// success rate under 30% over the trailing window raises the level x1.5
// (capped at 3.0); over 70% decays it /1.2 (floored at 1.0).
func (c *CompetitionTracker) Record(strategy types.StrategyKind, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	entries := c.prune(strategy, now)
	entries = append(entries, outcome{at: now, success: success})
	c.history[strategy] = entries

	successes := 0
	for _, e := range entries {
		if e.success {
			successes++
		}
	}
	ratePct := successes * 100 / len(entries)

	level := c.levelLocked(strategy)
	switch {
	case ratePct < lowSuccessPct:
		level = level * 3 / 2
		if level > levelCap {
			level = levelCap
		}
	case ratePct > highSuccessPct:
		level = level * 10 / 12
		if level < levelFloor {
			level = levelFloor
		}
	}
	c.levels[strategy] = level
}

// Level returns the current competition multiplier for a strategy.
// A strategy with no recent outcomes sits at 1.0.
func (c *CompetitionTracker) Level(strategy types.StrategyKind) float64 {
	return float64(c.LevelPerMille(strategy)) / 1000
}

// LevelPerMille returns the multiplier in exact per-mille form for use
// in integer fee math
func (c *CompetitionTracker) LevelPerMille(strategy types.StrategyKind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.prune(strategy, c.nowFn())) == 0 {
		c.levels[strategy] = levelFloor
	}
	return c.levelLocked(strategy)
}

func (c *CompetitionTracker) levelLocked(strategy types.StrategyKind) int64 {
	if level, ok := c.levels[strategy]; ok {
		return level
	}
	return levelFloor
}

// prune drops entries outside the window; callers hold the lock
func (c *CompetitionTracker) prune(strategy types.StrategyKind, now time.Time) []outcome {
	entries := c.history[strategy]
	cutoff := now.Add(-c.window)
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	c.history[strategy] = kept
	return kept
}
