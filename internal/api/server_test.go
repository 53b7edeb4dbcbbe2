package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/internal/config"
	"github.com/mev-engine/mev-opportunity-engine/pkg/gasprice"
	"github.com/mev-engine/mev-opportunity-engine/pkg/metrics"
	"github.com/mev-engine/mev-opportunity-engine/pkg/risk"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) (*Server, *risk.Gate) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			APIKey:       testAPIKey,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
		},
	}

	gate := risk.NewGate(nil, nil)
	tracker := gasprice.NewCompetitionTracker(0)
	handlers := NewHandlers(gate, tracker, nil)
	return NewServer(cfg, handlers, metrics.NewCollector()), gate
}

func doRequest(s *Server, method, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	armed, ok := body["armed"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, armed, 4)
	assert.Equal(t, true, armed["arbitrage"])
}

func TestRiskEndpoint(t *testing.T) {
	s, gate := newTestServer(t)
	gate.RecordOutcome(types.StrategySandwich, false)

	rec := doRequest(s, "GET", "/api/v1/risk", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Strategies []types.RiskStateView `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Strategies, 4)

	for _, state := range body.Strategies {
		if state.Strategy == types.StrategySandwich {
			assert.Equal(t, uint32(1), state.ConsecutiveFailures)
		}
	}
}

func TestCompetitionEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/api/v1/competition", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Levels map[string]float64 `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body.Levels["arbitrage"])
}

func TestShutdownRequiresAPIKey(t *testing.T) {
	s, gate := newTestServer(t)

	rec := doRequest(s, "POST", "/api/v1/shutdown", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, gate.State(types.StrategyArbitrage).Armed, "unauthenticated shutdown must not trip")

	rec = doRequest(s, "POST", "/api/v1/shutdown", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, "POST", "/api/v1/shutdown", testAPIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, kind := range types.AllStrategies {
		assert.False(t, gate.State(kind).Armed, "%s should be shut down", kind)
	}
}

func TestResetEndpoint(t *testing.T) {
	s, gate := newTestServer(t)
	gate.EmergencyShutdown()

	body, _ := json.Marshal(map[string]string{"strategy": "arbitrage"})
	rec := doRequest(s, "POST", "/api/v1/reset", testAPIKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gate.State(types.StrategyArbitrage).Armed)
	assert.False(t, gate.State(types.StrategySandwich).Armed)

	// empty body resets everything
	rec = doRequest(s, "POST", "/api/v1/reset", testAPIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, kind := range types.AllStrategies {
		assert.True(t, gate.State(kind).Armed)
	}

	body, _ = json.Marshal(map[string]string{"strategy": "liquidation"})
	rec = doRequest(s, "POST", "/api/v1/reset", testAPIKey, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutcomeEndpoint(t *testing.T) {
	s, gate := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{"strategy": "jit", "success": false})
	rec := doRequest(s, "POST", "/api/v1/outcome", testAPIKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint32(1), gate.State(types.StrategyJIT).ConsecutiveFailures)

	body, _ = json.Marshal(map[string]interface{}{"strategy": "bogus", "success": true})
	rec = doRequest(s, "POST", "/api/v1/outcome", testAPIKey, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpointServesScrape(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
