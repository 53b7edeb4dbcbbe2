package sizing

import (
	"math/big"
)

// ProfitFunc evaluates net profit for a candidate trade size. An error
// means the size is infeasible (guard tripped, pool drained) and the
// search treats it like an unprofitable probe, not a fault.
type ProfitFunc func(size *big.Int) (*big.Int, error)

// DefaultMaxIterations bounds the search against pathological payoff
// functions that never converge
const DefaultMaxIterations = 100

// Result is the outcome of one optimization run
type Result struct {
	BestSize   *big.Int
	BestProfit *big.Int
	Iterations int
}

// Optimizer finds the trade size maximizing a strategy's profit function
// with a bounded integer binary search. The profit curve is assumed
// locally concave; that holds for single-pool impact curves but is not
// proven for two-pool arbitrage or sandwich shapes, so the result is a
// local optimum, not a guaranteed global one.
type Optimizer struct {
	maxIterations int
}

// NewOptimizer creates an optimizer with the given iteration cap;
// non-positive caps fall back to the default
func NewOptimizer(maxIterations int) *Optimizer {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Optimizer{maxIterations: maxIterations}
}

// Optimize searches [minSize, maxSize] for the size with the highest
// positive profit. When an evaluation improves on the best seen so far
// the lower bound moves up (hunting a larger optimum on the presumed
// concave curve); otherwise the upper bound moves down. Returns zeros
// when no size in range is profitable; callers report "no opportunity",
// not an error.
func (o *Optimizer) Optimize(fn ProfitFunc, minSize, maxSize *big.Int) *Result {
	result := &Result{
		BestSize:   big.NewInt(0),
		BestProfit: big.NewInt(0),
	}
	if fn == nil || minSize == nil || maxSize == nil || minSize.Sign() <= 0 || maxSize.Cmp(minSize) < 0 {
		return result
	}

	lower := new(big.Int).Set(minSize)
	upper := new(big.Int).Set(maxSize)
	one := big.NewInt(1)

	for lower.Cmp(upper) <= 0 && result.Iterations < o.maxIterations {
		result.Iterations++

		mid := new(big.Int).Add(lower, upper)
		mid.Rsh(mid, 1)

		profit, err := fn(mid)
		if err != nil || profit == nil || profit.Sign() <= 0 {
			upper.Sub(mid, one)
			continue
		}

		if profit.Cmp(result.BestProfit) > 0 {
			result.BestProfit = profit
			result.BestSize = mid
			lower.Add(mid, one)
		} else {
			upper.Sub(mid, one)
		}
	}

	return result
}

// CapSize returns min(configuredMax, poolCapacity/3): positions never use
// more than a third of the pool regardless of configuration
func CapSize(configuredMax, poolCapacity *big.Int) *big.Int {
	capacity := new(big.Int).Div(poolCapacity, big.NewInt(3))
	if configuredMax.Cmp(capacity) < 0 {
		return new(big.Int).Set(configuredMax)
	}
	return capacity
}
