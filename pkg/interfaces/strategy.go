package interfaces

import (
	"context"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// Strategy is the capability set every opportunity strategy implements.
// Analyze is side-effect-free and safe for unbounded concurrency; a nil
// opportunity with a nil error means "no opportunity", never a fault.
type Strategy interface {
	Kind() types.StrategyKind
	Analyze(ctx context.Context, intent *types.SwapIntent) (*types.Opportunity, error)
	BuildPlan(ctx context.Context, opp *types.Opportunity) (*types.ExecutionPlan, error)
	Execute(ctx context.Context, plan *types.ExecutionPlan) (*types.ExecutionResult, error)
}

// RiskGate is the single authority on whether a trade may execute.
// RecordOutcome and RecordResult are the only mutation paths for risk
// state; callers never touch it directly.
type RiskGate interface {
	Validate(opp *types.Opportunity, plan *types.ExecutionPlan) error
	RecordOutcome(strategy types.StrategyKind, success bool)
	RecordResult(plan *types.ExecutionPlan, result *types.ExecutionResult)
	EmergencyShutdown()
	Reset(strategy types.StrategyKind) error
	ResetAll()
	State(strategy types.StrategyKind) types.RiskStateView
}

// CompetitionRecorder receives execution outcomes for gas-price adaptation
type CompetitionRecorder interface {
	Record(strategy types.StrategyKind, success bool)
	Level(strategy types.StrategyKind) float64
}
