package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

func TestCollectorCountsOutcomes(t *testing.T) {
	c := NewCollector()

	c.ObserveOpportunity(&types.Opportunity{Strategy: types.StrategyArbitrage, CompetitionLevel: 1.5})
	c.ObserveRejection(types.StrategySandwich, "stale_data")
	c.ObserveExecution(types.StrategyArbitrage, &types.ExecutionResult{Success: true, Latency: 100 * time.Millisecond})
	c.ObserveExecution(types.StrategyArbitrage, &types.ExecutionResult{Success: false, Latency: 2 * time.Second})
	c.ObserveBreakerTrip(types.StrategyJIT, types.BreakerConsecutiveFailures)
	c.ObserveRiskState(types.RiskStateView{Strategy: types.StrategyJIT, Armed: false})
	c.SetQueueDepth(7)

	body := scrape(t, c)
	for _, want := range []string{
		`mev_opportunities_detected_total{strategy="arbitrage"} 1`,
		`mev_opportunities_rejected_total{reason="stale_data",strategy="sandwich"} 1`,
		`mev_executions_total{result="success",strategy="arbitrage"} 1`,
		`mev_executions_total{result="failure",strategy="arbitrage"} 1`,
		`mev_competition_level{strategy="arbitrage"} 1.5`,
		`mev_breaker_trips_total{kind="consecutive_failures",strategy="jit"} 1`,
		`mev_breaker_armed{strategy="jit"} 0`,
		`mev_analysis_queue_depth 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Scrape output missing %q", want)
		}
	}
}

func TestSeparateCollectorsDoNotCollide(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.ObserveOpportunity(&types.Opportunity{Strategy: types.StrategyFrontrun})
	if strings.Contains(scrape(t, b), `mev_opportunities_detected_total{strategy="frontrun"}`) {
		t.Error("Collectors must use isolated registries")
	}
}
