package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// PoolStateProvider supplies pool snapshots. Implemented by the external
// RPC/mempool collaborator; the engine only depends on this contract.
type PoolStateProvider interface {
	GetSnapshot(ctx context.Context, dexID string, tokenA, tokenB common.Address) (*types.PoolSnapshot, error)
}

// BlockMetaProvider supplies current head metadata (base fee, number,
// recent priority fees) from the RPC collaborator
type BlockMetaProvider interface {
	Head(ctx context.Context) (*types.BlockMeta, error)
}

// FlashLoanExecutor submits an execution plan to the flash-loan/bundle
// collaborator. The call may be eventually-consistent: a bundle excluded
// from a block produces no explicit failure signal, so callers must treat
// a missed deadline as failure.
type FlashLoanExecutor interface {
	Execute(ctx context.Context, plan *types.ExecutionPlan) (*types.ExecutionResult, error)
}

// SnapshotCache deduplicates pool fetches within a short TTL. Safe for
// concurrent read and insert.
type SnapshotCache interface {
	Get(key string) (*types.PoolSnapshot, bool)
	Put(key string, snap *types.PoolSnapshot)
	Purge()
}
