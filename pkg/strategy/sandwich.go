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

// DefaultSandwichReserveBps caps the frontrun leg at 10% of the input
// reserve regardless of victim size
const DefaultSandwichReserveBps = 1000

// sandwichEngine brackets a victim swap: a frontrun buy pushes the price
// up, the victim buys at the worse price, a backrun sell captures the
// spread. Profit is simulated across the three legs with sequential
// reserve updates; the victim leg replays unguarded since the victim's
// size is not ours to cap.
type sandwichEngine struct {
	baseEngine
}

// NewSandwich creates the sandwich engine
func NewSandwich(cfg *Config, deps Deps) interfaces.Strategy {
	e := &sandwichEngine{baseEngine: newBaseEngine(types.StrategySandwich, cfg, deps)}
	if e.cfg.MaxReserveFractionBps <= 0 {
		e.cfg.MaxReserveFractionBps = DefaultSandwichReserveBps
	}
	return e
}

func (s *sandwichEngine) Analyze(ctx context.Context, intent *types.SwapIntent) (*types.Opportunity, error) {
	if !intent.Valid() {
		return nil, nil
	}
	if intent.AmountIn.Cmp(s.cfg.MinVictimAmount) < 0 {
		return nil, nil
	}
	// Victims underpaying on gas are likely to be repriced or dropped
	// before our bundle lands around them
	if s.cfg.MinVictimGasPrice != nil && intent.GasPrice != nil &&
		intent.GasPrice.Cmp(s.cfg.MinVictimGasPrice) < 0 {
		return nil, nil
	}

	snap, err := s.snapshot(ctx, intent.DexID, intent.TokenIn, intent.TokenOut)
	if err != nil {
		return nil, err
	}
	if verr := s.validator.Validate(snap, s.nowFn()); verr != nil {
		if validation.IsRejection(verr) {
			return nil, nil
		}
		return nil, verr
	}

	rIn, rOut := orientReserves(snap, intent.TokenIn)

	// Frontrun bounds: [0.5x, 1.5x] of the victim, capped by the reserve
	// fraction and the configured position ceiling
	minSize := new(big.Int).Div(intent.AmountIn, big.NewInt(2))
	maxSize := new(big.Int).Mul(intent.AmountIn, big.NewInt(3))
	maxSize.Div(maxSize, big.NewInt(2))
	maxSize = minBig(maxSize, bpsOf(rIn, s.cfg.MaxReserveFractionBps))
	maxSize = minBig(maxSize, sizing.CapSize(s.cfg.MaxPosition, rIn))
	if minSize.Cmp(maxSize) > 0 {
		return nil, nil
	}

	var bestBackrun *big.Int
	profitFn := func(size *big.Int) (*big.Int, error) {
		profit, backrunIn, err := s.simulate(size, intent.AmountIn, rIn, rOut, snap.FeeBps)
		if err != nil {
			return nil, err
		}
		bestBackrun = backrunIn
		return profit, nil
	}

	result := s.optimizer.Optimize(profitFn, minSize, maxSize)
	if result.BestProfit.Sign() <= 0 {
		return nil, nil
	}
	// Re-run the winning size so bestBackrun matches BestSize, not the
	// last probe the search happened to evaluate
	if _, backrunIn, err := s.simulate(result.BestSize, intent.AmountIn, rIn, rOut, snap.FeeBps); err == nil {
		bestBackrun = backrunIn
	}

	if verr := s.validator.ValidateForTrade(snap, s.nowFn(), result.BestSize); verr != nil {
		if validation.IsRejection(verr) {
			return nil, nil
		}
		return nil, verr
	}

	quote, err := s.gasQuote(ctx)
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
		CounterAmount:       bestBackrun,
		ExpectedGrossProfit: result.BestProfit,
		GasCost:             quote.cost,
		Pools:               map[string]common.Address{snap.DexID: snap.PairID},
	}
	return s.finalize(opp), nil
}

// simulate replays frontrun, victim and backrun sequentially against a
// working copy of the reserves. Returns the margin-adjusted profit in
// tokenIn and the backrun input amount.
func (s *sandwichEngine) simulate(frontrunIn, victimIn, rIn, rOut *big.Int, feeBps uint32) (*big.Int, *big.Int, error) {
	curIn := new(big.Int).Set(rIn)
	curOut := new(big.Int).Set(rOut)

	// frontrun: tokenIn -> tokenOut, guarded like any trade of ours
	frontOut, err := s.amm.OutputAmount(frontrunIn, curIn, curOut, feeBps)
	if err != nil {
		return nil, nil, err
	}
	curIn.Add(curIn, frontrunIn)
	curOut.Sub(curOut, frontOut)

	// victim swap moves the pool further in the same direction
	victimOut, err := s.simAmm.OutputAmount(victimIn, curIn, curOut, feeBps)
	if err != nil {
		return nil, nil, err
	}
	curIn.Add(curIn, victimIn)
	curOut.Sub(curOut, victimOut)

	// backrun: sell most of the frontrun output back for tokenIn
	backrunIn := bpsOf(frontOut, s.cfg.BackrunBps)
	backOut, err := s.simAmm.OutputAmount(backrunIn, curOut, curIn, feeBps)
	if err != nil {
		return nil, nil, err
	}

	profit := new(big.Int).Sub(s.amm.ApplySafetyMargin(backOut), frontrunIn)
	return profit, backrunIn, nil
}
