package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// Minimal fragments of the v2 factory and pair contracts. The engine
// only ever reads pair resolution, reserves and token ordering.
const factoryABIJSON = `[
	{"constant":true,"inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"name":"pair","type":"address"}],"type":"function"}
]`

const pairABIJSON = `[
	{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

// DefaultPairFeeBps is the standard v2 swap fee when a venue does not
// override it.
const DefaultPairFeeBps = 30

// nodeClient is the slice of ethclient.Client the provider needs.
// Narrowed to an interface so tests can fake the node.
type nodeClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock *big.Int, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

// Venue is one constant-product DEX deployment the provider can read
type Venue struct {
	Factory common.Address
	FeeBps  uint32
}

// Provider reads pool snapshots and head metadata from a JSON-RPC node.
// It implements interfaces.PoolStateProvider and
// interfaces.BlockMetaProvider.
type Provider struct {
	client nodeClient
	venues map[string]Venue

	factoryABI abi.ABI
	pairABI    abi.ABI

	mu    sync.RWMutex
	pairs map[string]pairInfo // resolved pair contracts, keyed by dex:tokenA:tokenB
}

type pairInfo struct {
	address common.Address
	token0  common.Address
}

// NewProvider creates a provider over an already-dialed node client
func NewProvider(client nodeClient, venues map[string]Venue) (*Provider, error) {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	return &Provider{
		client:     client,
		venues:     venues,
		factoryABI: factoryABI,
		pairABI:    pairABI,
		pairs:      make(map[string]pairInfo),
	}, nil
}

// Dial connects to the RPC endpoint and builds a provider over it
func Dial(ctx context.Context, rpcURL string, venues map[string]Venue) (*Provider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc node %s: %w", rpcURL, err)
	}
	return NewProvider(client, venues)
}

// GetSnapshot reads the current reserves for the token pair on the
// given venue. Reserves come back oriented to (tokenA, tokenB)
// regardless of the pair contract's internal token ordering.
func (p *Provider) GetSnapshot(ctx context.Context, dexID string, tokenA, tokenB common.Address) (*types.PoolSnapshot, error) {
	venue, ok := p.venues[dexID]
	if !ok {
		return nil, fmt.Errorf("chain: unknown venue %q", dexID)
	}

	pair, err := p.resolvePair(ctx, dexID, venue.Factory, tokenA, tokenB)
	if err != nil {
		return nil, err
	}

	reserve0, reserve1, err := p.getReserves(ctx, pair.address)
	if err != nil {
		return nil, err
	}

	feeBps := venue.FeeBps
	if feeBps == 0 {
		feeBps = DefaultPairFeeBps
	}

	snap := &types.PoolSnapshot{
		PairID:     pair.address,
		DexID:      dexID,
		TokenA:     tokenA,
		TokenB:     tokenB,
		FeeBps:     feeBps,
		LastUpdate: time.Now(),
	}
	if pair.token0 == tokenA {
		snap.ReserveA, snap.ReserveB = reserve0, reserve1
	} else {
		snap.ReserveA, snap.ReserveB = reserve1, reserve0
	}
	return snap, nil
}

// Head returns current head metadata. Recent priority fees come from
// the fee history of the last few blocks at the median percentile.
func (p *Provider) Head(ctx context.Context) (*types.BlockMeta, error) {
	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch head: %w", err)
	}

	meta := &types.BlockMeta{
		Number:    header.Number.Uint64(),
		Timestamp: time.Unix(int64(header.Time), 0),
		BaseFee:   header.BaseFee,
	}

	history, err := p.client.FeeHistory(ctx, 5, nil, []float64{50})
	if err != nil {
		// head metadata is still usable without tip observations
		log.Printf("chain: fee history unavailable: %v", err)
		return meta, nil
	}
	for _, rewards := range history.Reward {
		for _, tip := range rewards {
			if tip != nil && tip.Sign() > 0 {
				meta.PriorityFees = append(meta.PriorityFees, tip)
			}
		}
	}
	return meta, nil
}

func (p *Provider) resolvePair(ctx context.Context, dexID string, factory, tokenA, tokenB common.Address) (pairInfo, error) {
	key := dexID + ":" + tokenA.Hex() + ":" + tokenB.Hex()

	p.mu.RLock()
	cached, ok := p.pairs[key]
	p.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := p.factoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return pairInfo{}, fmt.Errorf("chain: pack getPair: %w", err)
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return pairInfo{}, fmt.Errorf("chain: getPair on %s: %w", dexID, err)
	}
	results, err := p.factoryABI.Unpack("getPair", out)
	if err != nil {
		return pairInfo{}, fmt.Errorf("chain: unpack getPair: %w", err)
	}
	pairAddr := results[0].(common.Address)
	if pairAddr == (common.Address{}) {
		return pairInfo{}, fmt.Errorf("chain: no %s pair for %s/%s", dexID, tokenA.Hex(), tokenB.Hex())
	}

	token0, err := p.getToken0(ctx, pairAddr)
	if err != nil {
		return pairInfo{}, err
	}

	info := pairInfo{address: pairAddr, token0: token0}
	p.mu.Lock()
	p.pairs[key] = info
	p.mu.Unlock()
	return info, nil
}

func (p *Provider) getReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	data, err := p.pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("chain: pack getReserves: %w", err)
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: getReserves on %s: %w", pair.Hex(), err)
	}
	results, err := p.pairABI.Unpack("getReserves", out)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: unpack getReserves: %w", err)
	}
	return results[0].(*big.Int), results[1].(*big.Int), nil
}

func (p *Provider) getToken0(ctx context.Context, pair common.Address) (common.Address, error) {
	data, err := p.pairABI.Pack("token0")
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: pack token0: %w", err)
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: token0 on %s: %w", pair.Hex(), err)
	}
	results, err := p.pairABI.Unpack("token0", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: unpack token0: %w", err)
	}
	return results[0].(common.Address), nil
}
