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

// frontrunEngine is the single-position cousin of the sandwich: buy
// ahead of the victim, let their swap push the price, then unwind the
// whole position. Same victim-relative size bounds, no held inventory.
type frontrunEngine struct {
	baseEngine
}

// NewFrontrun creates the frontrun engine
func NewFrontrun(cfg *Config, deps Deps) interfaces.Strategy {
	e := &frontrunEngine{baseEngine: newBaseEngine(types.StrategyFrontrun, cfg, deps)}
	if e.cfg.MaxReserveFractionBps <= 0 {
		e.cfg.MaxReserveFractionBps = DefaultSandwichReserveBps
	}
	return e
}

func (f *frontrunEngine) Analyze(ctx context.Context, intent *types.SwapIntent) (*types.Opportunity, error) {
	if !intent.Valid() {
		return nil, nil
	}
	if intent.AmountIn.Cmp(f.cfg.MinVictimAmount) < 0 {
		return nil, nil
	}

	snap, err := f.snapshot(ctx, intent.DexID, intent.TokenIn, intent.TokenOut)
	if err != nil {
		return nil, err
	}
	if verr := f.validator.Validate(snap, f.nowFn()); verr != nil {
		if validation.IsRejection(verr) {
			return nil, nil
		}
		return nil, verr
	}

	rIn, rOut := orientReserves(snap, intent.TokenIn)

	minSize := new(big.Int).Div(intent.AmountIn, big.NewInt(2))
	maxSize := new(big.Int).Mul(intent.AmountIn, big.NewInt(3))
	maxSize.Div(maxSize, big.NewInt(2))
	maxSize = minBig(maxSize, bpsOf(rIn, f.cfg.MaxReserveFractionBps))
	maxSize = minBig(maxSize, sizing.CapSize(f.cfg.MaxPosition, rIn))
	if minSize.Cmp(maxSize) > 0 {
		return nil, nil
	}

	profitFn := func(size *big.Int) (*big.Int, error) {
		return f.simulate(size, intent.AmountIn, rIn, rOut, snap.FeeBps)
	}

	result := f.optimizer.Optimize(profitFn, minSize, maxSize)
	if result.BestProfit.Sign() <= 0 {
		return nil, nil
	}

	if verr := f.validator.ValidateForTrade(snap, f.nowFn(), result.BestSize); verr != nil {
		if validation.IsRejection(verr) {
			return nil, nil
		}
		return nil, verr
	}

	quote, err := f.gasQuote(ctx)
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
	return f.finalize(opp), nil
}

// simulate replays buy, victim, and full unwind against a working copy
// of the reserves. Profit is margin-adjusted and denominated in tokenIn.
func (f *frontrunEngine) simulate(buyIn, victimIn, rIn, rOut *big.Int, feeBps uint32) (*big.Int, error) {
	curIn := new(big.Int).Set(rIn)
	curOut := new(big.Int).Set(rOut)

	bought, err := f.amm.OutputAmount(buyIn, curIn, curOut, feeBps)
	if err != nil {
		return nil, err
	}
	curIn.Add(curIn, buyIn)
	curOut.Sub(curOut, bought)

	victimOut, err := f.simAmm.OutputAmount(victimIn, curIn, curOut, feeBps)
	if err != nil {
		return nil, err
	}
	curIn.Add(curIn, victimIn)
	curOut.Sub(curOut, victimOut)

	// unwind the entire position at the post-victim price
	sold, err := f.simAmm.OutputAmount(bought, curOut, curIn, feeBps)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Sub(f.amm.ApplySafetyMargin(sold), buyIn), nil
}
