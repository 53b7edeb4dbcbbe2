package dexmath

import (
	"errors"
	"math/big"
)

// All pool math is exact integer arithmetic over math/big. Floating point
// is never used: token amounts range up to 18 decimals and intermediate
// products exceed 64 bits routinely.

var (
	// ErrInvalidReserves indicates a zero or missing pool reserve
	ErrInvalidReserves = errors.New("dexmath: invalid pool reserves")
	// ErrAmountTooLarge indicates an input above the manipulation guard
	ErrAmountTooLarge = errors.New("dexmath: amount exceeds max pool fraction")
)

const (
	bpsDenominator = 10000

	// DefaultMaxInputBps caps trade input at 3% of the input reserve.
	// Larger trades move the pool enough to invite manipulation.
	DefaultMaxInputBps = 300

	// DefaultSafetyMarginBps discounts quoted output to 99.5%, absorbing
	// execution slippage and MEV-protection overhead.
	DefaultSafetyMarginBps = 9950
)

var bpsDenom = big.NewInt(bpsDenominator)

// Math performs constant-product AMM calculations with configured guards
type Math struct {
	maxInputBps     int64
	safetyMarginBps int64
}

// Config holds the tunable guard parameters for Math
type Config struct {
	MaxInputBps     int64
	SafetyMarginBps int64
}

// New creates a Math instance; a nil config uses the defaults
func New(cfg *Config) *Math {
	if cfg == nil {
		cfg = &Config{
			MaxInputBps:     DefaultMaxInputBps,
			SafetyMarginBps: DefaultSafetyMarginBps,
		}
	}
	m := &Math{
		maxInputBps:     cfg.MaxInputBps,
		safetyMarginBps: cfg.SafetyMarginBps,
	}
	if m.maxInputBps <= 0 {
		m.maxInputBps = DefaultMaxInputBps
	}
	if m.safetyMarginBps <= 0 || m.safetyMarginBps > bpsDenominator {
		m.safetyMarginBps = DefaultSafetyMarginBps
	}
	return m
}

// OutputAmount computes the constant-product swap output:
//
//	out = in*(10000-fee)*reserveOut / (reserveIn*10000 + in*(10000-fee))
//
// Division truncates toward zero, so rounding never favors the caller.
func (m *Math) OutputAmount(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInvalidReserves
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if feeBps >= bpsDenominator {
		return nil, ErrInvalidReserves
	}

	// Manipulation guard: amountIn <= maxInputBps/10000 of reserveIn
	limit := new(big.Int).Mul(reserveIn, big.NewInt(m.maxInputBps))
	limit.Div(limit, bpsDenom)
	if amountIn.Cmp(limit) > 0 {
		return nil, ErrAmountTooLarge
	}

	amountWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(bpsDenominator-feeBps)))
	numerator := new(big.Int).Mul(amountWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, bpsDenom)
	denominator.Add(denominator, amountWithFee)

	return numerator.Div(numerator, denominator), nil
}

// PriceImpactBps returns amountIn/reserveIn scaled to basis points
func (m *Math) PriceImpactBps(amountIn, reserveIn *big.Int) (uint32, error) {
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return 0, ErrInvalidReserves
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return 0, nil
	}
	impact := new(big.Int).Mul(amountIn, bpsDenom)
	impact.Div(impact, reserveIn)
	if !impact.IsUint64() || impact.Uint64() > 1<<31 {
		return 1 << 31, nil
	}
	return uint32(impact.Uint64()), nil
}

// ApplySafetyMargin discounts an expected output by the configured margin
func (m *Math) ApplySafetyMargin(amountOut *big.Int) *big.Int {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	adjusted := new(big.Int).Mul(amountOut, big.NewInt(m.safetyMarginBps))
	return adjusted.Div(adjusted, bpsDenom)
}

// MaxInput returns the largest input the manipulation guard allows for
// the given reserve
func (m *Math) MaxInput(reserveIn *big.Int) *big.Int {
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	limit := new(big.Int).Mul(reserveIn, big.NewInt(m.maxInputBps))
	return limit.Div(limit, bpsDenom)
}

// SpreadBps returns the mid-price gap between two pools of the same pair
// in basis points, relative to the cheaper pool. Prices are compared as
// cross products to stay in integer arithmetic:
//
//	priceA = rOutA/rInA  vs  priceB = rOutB/rInB
func SpreadBps(reserveInA, reserveOutA, reserveInB, reserveOutB *big.Int) (uint32, error) {
	if reserveInA == nil || reserveOutA == nil || reserveInB == nil || reserveOutB == nil ||
		reserveInA.Sign() <= 0 || reserveOutA.Sign() <= 0 || reserveInB.Sign() <= 0 || reserveOutB.Sign() <= 0 {
		return 0, ErrInvalidReserves
	}

	// cross-multiplied prices: pA = rOutA*rInB, pB = rOutB*rInA
	pA := new(big.Int).Mul(reserveOutA, reserveInB)
	pB := new(big.Int).Mul(reserveOutB, reserveInA)

	lo, hi := pA, pB
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	diff := new(big.Int).Sub(hi, lo)
	diff.Mul(diff, bpsDenom)
	diff.Div(diff, lo)
	if !diff.IsUint64() || diff.Uint64() > 1<<31 {
		return 1 << 31, nil
	}
	return uint32(diff.Uint64()), nil
}
