package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// RelayExecutor submits execution plans to an external flash-loan relay
// over JSON. It implements interfaces.FlashLoanExecutor. The relay owns
// bundle construction and submission; the engine only hands over the
// plan and reads the outcome back.
type RelayExecutor struct {
	url    string
	apiKey string
	client *http.Client
}

// NewRelayExecutor creates an executor pointed at the relay endpoint
func NewRelayExecutor(url, apiKey string) *RelayExecutor {
	return &RelayExecutor{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Execute submits the plan and blocks until the relay reports an
// outcome or the context expires
func (e *RelayExecutor) Execute(ctx context.Context, plan *types.ExecutionPlan) (*types.ExecutionResult, error) {
	payload, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal plan: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("chain: build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain: relay submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: relay returned status %d", resp.StatusCode)
	}

	var result types.ExecutionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("chain: decode relay response: %w", err)
	}
	result.Latency = time.Since(start)
	return &result, nil
}
