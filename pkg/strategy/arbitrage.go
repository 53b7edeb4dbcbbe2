package strategy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mev-engine/mev-opportunity-engine/pkg/dexmath"
	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/sizing"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"github.com/mev-engine/mev-opportunity-engine/pkg/validation"
)

// arbitrageEngine trades the same pair across two venues: buy the token
// where it is cheap, sell it where it is dear, both legs inside one
// flash-loan bundle. The victim intent only points at the pair; the
// opportunity exists independent of whether the victim lands.
type arbitrageEngine struct {
	baseEngine
}

// NewArbitrage creates the cross-venue arbitrage engine
func NewArbitrage(cfg *Config, deps Deps) interfaces.Strategy {
	return &arbitrageEngine{baseEngine: newBaseEngine(types.StrategyArbitrage, cfg, deps)}
}

func (a *arbitrageEngine) Analyze(ctx context.Context, intent *types.SwapIntent) (*types.Opportunity, error) {
	if !intent.Valid() || len(a.cfg.CounterDexIDs) == 0 {
		return nil, nil
	}

	primary, err := a.snapshot(ctx, intent.DexID, intent.TokenIn, intent.TokenOut)
	if err != nil {
		return nil, err
	}

	// Find the counter-venue with the widest spread above the minimum
	var counter *types.PoolSnapshot
	var bestSpread uint32
	for _, dexID := range a.cfg.CounterDexIDs {
		if dexID == intent.DexID {
			continue
		}
		snap, err := a.snapshot(ctx, dexID, intent.TokenIn, intent.TokenOut)
		if err != nil {
			return nil, err
		}
		rInP, rOutP := orientReserves(primary, intent.TokenIn)
		rInC, rOutC := orientReserves(snap, intent.TokenIn)
		spread, serr := dexmath.SpreadBps(rInP, rOutP, rInC, rOutC)
		if serr != nil {
			continue
		}
		if spread >= a.cfg.MinSpreadBps && spread > bestSpread {
			counter = snap
			bestSpread = spread
		}
	}
	if counter == nil {
		return nil, nil
	}

	now := a.nowFn()
	if err := a.validator.ValidatePair(primary, counter, now, nil); err != nil {
		if validation.IsRejection(err) {
			return nil, nil
		}
		return nil, err
	}

	// Buy on the venue quoting more output per input, sell on the other
	buy, sell := primary, counter
	rInBuy, rOutBuy := orientReserves(buy, intent.TokenIn)
	rInSell, rOutSell := orientReserves(sell, intent.TokenIn)
	pBuy := new(big.Int).Mul(rOutBuy, rInSell)
	pSell := new(big.Int).Mul(rOutSell, rInBuy)
	if pSell.Cmp(pBuy) > 0 {
		buy, sell = sell, buy
		rInBuy, rOutBuy = orientReserves(buy, intent.TokenIn)
	}
	// the sell leg enters with tokenOut, so its reserves flip
	sellIn, sellOut := orientReserves(sell, intent.TokenOut)

	profitFn := func(size *big.Int) (*big.Int, error) {
		bought, err := a.amm.OutputAmount(size, rInBuy, rOutBuy, buy.FeeBps)
		if err != nil {
			return nil, err
		}
		sold, err := a.amm.OutputAmount(bought, sellIn, sellOut, sell.FeeBps)
		if err != nil {
			return nil, err
		}
		return new(big.Int).Sub(a.amm.ApplySafetyMargin(sold), size), nil
	}

	maxSize := sizing.CapSize(a.cfg.MaxPosition, rInBuy)
	result := a.optimizer.Optimize(profitFn, a.cfg.MinPosition, maxSize)
	if result.BestProfit.Sign() <= 0 {
		return nil, nil
	}

	// Liquidity floor against the size actually chosen
	if err := a.validator.ValidatePair(buy, sell, now, result.BestSize); err != nil {
		if validation.IsRejection(err) {
			return nil, nil
		}
		return nil, err
	}

	quote, err := a.gasQuote(ctx)
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
		Pools: map[string]common.Address{
			buy.DexID:  buy.PairID,
			sell.DexID: sell.PairID,
		},
	}
	return a.finalize(opp), nil
}
