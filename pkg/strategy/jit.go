package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/sizing"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"github.com/mev-engine/mev-opportunity-engine/pkg/validation"
)

// DefaultJITReserveBps caps the jit position at 20% of the input reserve
const DefaultJITReserveBps = 2000

// jitEngine mints liquidity just before a large victim swap, collects
// the pro-rata share of the swap fee, and burns the position after a
// short hold window. No directional exposure beyond the hold.
type jitEngine struct {
	baseEngine
}

// NewJIT creates the just-in-time liquidity engine
func NewJIT(cfg *Config, deps Deps) interfaces.Strategy {
	e := &jitEngine{baseEngine: newBaseEngine(types.StrategyJIT, cfg, deps)}
	if e.cfg.MaxReserveFractionBps <= 0 {
		e.cfg.MaxReserveFractionBps = DefaultJITReserveBps
	}
	return e
}

func (j *jitEngine) Analyze(ctx context.Context, intent *types.SwapIntent) (*types.Opportunity, error) {
	if !intent.Valid() {
		return nil, nil
	}
	if intent.AmountIn.Cmp(j.cfg.MinVictimAmount) < 0 {
		return nil, nil
	}

	snap, err := j.snapshot(ctx, intent.DexID, intent.TokenIn, intent.TokenOut)
	if err != nil {
		return nil, err
	}
	if verr := j.validator.Validate(snap, j.nowFn()); verr != nil {
		if validation.IsRejection(verr) {
			return nil, nil
		}
		return nil, verr
	}

	rIn, _ := orientReserves(snap, intent.TokenIn)

	maxSize := minBig(bpsOf(rIn, j.cfg.MaxReserveFractionBps), sizing.CapSize(j.cfg.MaxPosition, rIn))
	if j.cfg.MinPosition.Cmp(maxSize) > 0 {
		return nil, nil
	}

	// The victim pays feeBps of their input to liquidity providers; our
	// share is position/(reserve+position). Strictly increasing in
	// position, so the search settles at the cap.
	feeTotal := bpsOf(intent.AmountIn, int64(snap.FeeBps))
	profitFn := func(size *big.Int) (*big.Int, error) {
		share := new(big.Int).Mul(feeTotal, size)
		share.Div(share, new(big.Int).Add(rIn, size))
		return j.amm.ApplySafetyMargin(share), nil
	}

	result := j.optimizer.Optimize(profitFn, j.cfg.MinPosition, maxSize)
	if result.BestProfit.Sign() <= 0 {
		return nil, nil
	}

	quote, err := j.gasQuote(ctx)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, nil
	}

	opp := &types.Opportunity{
		TargetTx:            intent.TxHash,
		TokenIn:             intent.TokenIn,
		TokenOut:            intent.TokenOut,
		SizedAmount:         result.BestSize,
		ExpectedGrossProfit: result.BestProfit,
		GasCost:             quote.cost,
		Pools:               map[string]common.Address{snap.DexID: snap.PairID},
	}
	return j.finalize(opp), nil
}
