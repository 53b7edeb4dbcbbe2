package validation

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// Validation failures are recoverable-by-rejection: callers translate them
// into "no opportunity", they never propagate as engine faults.
var (
	ErrMissingFields         = errors.New("validation: snapshot missing required fields")
	ErrStaleData             = errors.New("validation: pool data exceeds max age")
	ErrPendingConflict       = errors.New("validation: pool has unresolved pending transactions")
	ErrManipulationSuspected = errors.New("validation: reserve ratio deviation suggests manipulation")
	ErrInsufficientLiquidity = errors.New("validation: pool liquidity below floor for trade size")
)

const (
	// DefaultMaxDataAge rejects snapshots older than 5 minutes
	DefaultMaxDataAge = 300 * time.Second

	// DefaultMaxRatioDeviationBps allows 20% reserve-ratio divergence
	// between two pools of the same pair before suspecting manipulation
	DefaultMaxRatioDeviationBps = 2000

	// DefaultLiquidityMultiple requires reserves of at least 10x the
	// intended trade size
	DefaultLiquidityMultiple = 10
)

// SnapshotValidator sanity-checks pool snapshots before any sizing work
type SnapshotValidator struct {
	maxDataAge           time.Duration
	maxRatioDeviationBps int64
	liquidityMultiple    int64
}

// ValidatorConfig holds the tunable thresholds
type ValidatorConfig struct {
	MaxDataAge           time.Duration
	MaxRatioDeviationBps int64
	LiquidityMultiple    int64
}

// NewSnapshotValidator creates a validator; nil config uses defaults
func NewSnapshotValidator(cfg *ValidatorConfig) *SnapshotValidator {
	if cfg == nil {
		cfg = &ValidatorConfig{
			MaxDataAge:           DefaultMaxDataAge,
			MaxRatioDeviationBps: DefaultMaxRatioDeviationBps,
			LiquidityMultiple:    DefaultLiquidityMultiple,
		}
	}
	v := &SnapshotValidator{
		maxDataAge:           cfg.MaxDataAge,
		maxRatioDeviationBps: cfg.MaxRatioDeviationBps,
		liquidityMultiple:    cfg.LiquidityMultiple,
	}
	if v.maxDataAge <= 0 {
		v.maxDataAge = DefaultMaxDataAge
	}
	if v.maxRatioDeviationBps <= 0 {
		v.maxRatioDeviationBps = DefaultMaxRatioDeviationBps
	}
	if v.liquidityMultiple <= 0 {
		v.liquidityMultiple = DefaultLiquidityMultiple
	}
	return v
}

// Validate checks a single snapshot. Checks run in order and stop at the
// first failure.
func (v *SnapshotValidator) Validate(snap *types.PoolSnapshot, now time.Time) error {
	if snap == nil || !snap.HasReserves() || snap.FeeBps == 0 || snap.PairID == (common.Address{}) {
		return ErrMissingFields
	}
	if snap.Age(now) > v.maxDataAge {
		return ErrStaleData
	}
	if snap.PendingConflictCount != 0 {
		return ErrPendingConflict
	}
	return nil
}

// ValidateForTrade runs the single-snapshot checks plus the liquidity
// floor for an intended trade size
func (v *SnapshotValidator) ValidateForTrade(snap *types.PoolSnapshot, now time.Time, tradeSize *big.Int) error {
	if err := v.Validate(snap, now); err != nil {
		return err
	}
	return v.checkLiquidity(snap, tradeSize)
}

// ValidatePair validates two snapshots of the same pair together: both
// individual checks, the cross-pool reserve-ratio sanity check, and the
// liquidity floor on each side.
func (v *SnapshotValidator) ValidatePair(a, b *types.PoolSnapshot, now time.Time, tradeSize *big.Int) error {
	if err := v.Validate(a, now); err != nil {
		return err
	}
	if err := v.Validate(b, now); err != nil {
		return err
	}
	if err := v.checkRatioDeviation(a, b); err != nil {
		return err
	}
	if err := v.checkLiquidity(a, tradeSize); err != nil {
		return err
	}
	return v.checkLiquidity(b, tradeSize)
}

// checkRatioDeviation compares reserve ratios across pools:
// |ratioA - ratioB| / min(ratioA, ratioB) must stay under the limit.
// Ratios are compared via cross products to avoid division.
func (v *SnapshotValidator) checkRatioDeviation(a, b *types.PoolSnapshot) error {
	// ratioA = a.ReserveB/a.ReserveA, ratioB = b.ReserveB/b.ReserveA
	pA := new(big.Int).Mul(a.ReserveB, b.ReserveA)
	pB := new(big.Int).Mul(b.ReserveB, a.ReserveA)

	lo, hi := pA, pB
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	if lo.Sign() == 0 {
		return ErrManipulationSuspected
	}

	deviation := new(big.Int).Sub(hi, lo)
	deviation.Mul(deviation, big.NewInt(10000))
	deviation.Div(deviation, lo)

	if deviation.Cmp(big.NewInt(v.maxRatioDeviationBps)) > 0 {
		return ErrManipulationSuspected
	}
	return nil
}

func (v *SnapshotValidator) checkLiquidity(snap *types.PoolSnapshot, tradeSize *big.Int) error {
	if tradeSize == nil || tradeSize.Sign() <= 0 {
		return nil
	}
	floor := new(big.Int).Mul(tradeSize, big.NewInt(v.liquidityMultiple))
	if snap.ReserveA.Cmp(floor) < 0 || snap.ReserveB.Cmp(floor) < 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// IsRejection reports whether an error is a recoverable validation
// rejection rather than an engine fault
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrStaleData) ||
		errors.Is(err, ErrPendingConflict) ||
		errors.Is(err, ErrManipulationSuspected) ||
		errors.Is(err, ErrInsufficientLiquidity)
}
