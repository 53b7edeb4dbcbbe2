package sizing

import (
	"errors"
	"math/big"
	"testing"
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// concave profit with a peak at size=60: f(x) = 120x - x^2 (scaled)
func concaveProfit(size *big.Int) (*big.Int, error) {
	x := new(big.Int).Div(size, big.NewInt(1e18))
	profit := new(big.Int).Mul(big.NewInt(120), x)
	sq := new(big.Int).Mul(x, x)
	profit.Sub(profit, sq)
	return profit.Mul(profit, big.NewInt(1e15)), nil
}

func TestOptimizeFindsConcavePeak(t *testing.T) {
	opt := NewOptimizer(0)

	result := opt.Optimize(concaveProfit, eth(1), eth(100))
	if result.BestProfit.Sign() <= 0 {
		t.Fatal("Expected positive profit on concave curve")
	}

	size := new(big.Int).Div(result.BestSize, big.NewInt(1e18)).Int64()
	if size < 40 || size > 80 {
		t.Errorf("Expected size near the peak (60), got %d", size)
	}

	// profit at the found size must beat the minimum-size profit
	minProfit, _ := concaveProfit(eth(1))
	if result.BestProfit.Cmp(minProfit) < 0 {
		t.Errorf("Best profit %s worse than f(min) %s", result.BestProfit, minProfit)
	}
}

func TestOptimizeRespectsBounds(t *testing.T) {
	opt := NewOptimizer(0)
	minSize, maxSize := eth(2), eth(50)

	result := opt.Optimize(concaveProfit, minSize, maxSize)
	if result.BestSize.Cmp(minSize) < 0 || result.BestSize.Cmp(maxSize) > 0 {
		t.Errorf("Best size %s outside [%s, %s]", result.BestSize, minSize, maxSize)
	}
}

func TestOptimizeNoProfitableSize(t *testing.T) {
	opt := NewOptimizer(0)

	alwaysLoss := func(size *big.Int) (*big.Int, error) {
		return big.NewInt(-1), nil
	}

	result := opt.Optimize(alwaysLoss, eth(1), eth(100))
	if result.BestSize.Sign() != 0 || result.BestProfit.Sign() != 0 {
		t.Errorf("Expected (0, 0) for unprofitable range, got (%s, %s)",
			result.BestSize, result.BestProfit)
	}
}

func TestOptimizeErrorTreatedAsInfeasible(t *testing.T) {
	opt := NewOptimizer(0)

	// everything above 10 ETH errors; below it profit grows with size
	fn := func(size *big.Int) (*big.Int, error) {
		if size.Cmp(eth(10)) > 0 {
			return nil, errors.New("pool guard")
		}
		return new(big.Int).Div(size, big.NewInt(1e9)), nil
	}

	result := opt.Optimize(fn, eth(1), eth(100))
	if result.BestProfit.Sign() <= 0 {
		t.Fatal("Expected a profitable size below the guard")
	}
	if result.BestSize.Cmp(eth(10)) > 0 {
		t.Errorf("Best size %s should stay under the guarded region", result.BestSize)
	}
}

func TestOptimizeIterationCap(t *testing.T) {
	opt := NewOptimizer(5)

	result := opt.Optimize(concaveProfit, eth(1), eth(100))
	if result.Iterations > 5 {
		t.Errorf("Expected at most 5 iterations, ran %d", result.Iterations)
	}
}

func TestOptimizeDegenerateRanges(t *testing.T) {
	opt := NewOptimizer(0)

	tests := []struct {
		name     string
		min, max *big.Int
	}{
		{"inverted range", eth(10), eth(1)},
		{"zero min", big.NewInt(0), eth(10)},
		{"nil bounds", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := opt.Optimize(concaveProfit, tt.min, tt.max)
			if result.BestSize.Sign() != 0 || result.BestProfit.Sign() != 0 {
				t.Errorf("Expected zeros for degenerate range, got (%s, %s)",
					result.BestSize, result.BestProfit)
			}
		})
	}
}

func TestCapSize(t *testing.T) {
	// pool capacity dominates
	capped := CapSize(eth(100), eth(30))
	if capped.Cmp(eth(10)) != 0 {
		t.Errorf("Expected 10 ETH (pool/3), got %s", capped)
	}

	// configured max dominates
	capped = CapSize(eth(5), eth(30))
	if capped.Cmp(eth(5)) != 0 {
		t.Errorf("Expected 5 ETH (configured), got %s", capped)
	}
}
