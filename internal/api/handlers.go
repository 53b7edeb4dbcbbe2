package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/mev-engine/mev-opportunity-engine/pkg/interfaces"
	"github.com/mev-engine/mev-opportunity-engine/pkg/processing"
	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// Handlers implements the admin API endpoints over the engine's risk
// gate, competition tracker and analysis pool
type Handlers struct {
	risk      interfaces.RiskGate
	tracker   interfaces.CompetitionRecorder
	pool      *processing.AnalysisPool
	startedAt time.Time
}

// NewHandlers creates the endpoint handlers
func NewHandlers(riskGate interfaces.RiskGate, tracker interfaces.CompetitionRecorder, pool *processing.AnalysisPool) *Handlers {
	return &Handlers{
		risk:      riskGate,
		tracker:   tracker,
		pool:      pool,
		startedAt: time.Now(),
	}
}

// GetHealth reports liveness and per-strategy armed state
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	armed := make(map[string]bool, len(types.AllStrategies))
	for _, kind := range types.AllStrategies {
		armed[string(kind)] = h.risk.State(kind).Armed
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
		"armed":     armed,
	})
}

// GetRiskState returns the full risk view for every strategy
func (h *Handlers) GetRiskState(w http.ResponseWriter, r *http.Request) {
	states := make([]types.RiskStateView, 0, len(types.AllStrategies))
	for _, kind := range types.AllStrategies {
		states = append(states, h.risk.State(kind))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"strategies": states})
}

// GetCompetition returns the current competition level per strategy
func (h *Handlers) GetCompetition(w http.ResponseWriter, r *http.Request) {
	levels := make(map[string]float64, len(types.AllStrategies))
	for _, kind := range types.AllStrategies {
		levels[string(kind)] = h.tracker.Level(kind)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"levels": levels})
}

// GetStats returns analysis pool counters
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.pool.Stats())
}

// PostShutdown trips every strategy's breaker. Only an explicit reset
// re-arms them.
func (h *Handlers) PostShutdown(w http.ResponseWriter, r *http.Request) {
	h.risk.EmergencyShutdown()
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutdown"})
}

type resetRequest struct {
	Strategy string `json:"strategy"`
}

// PostReset re-arms one strategy, or all when no strategy is named
func (h *Handlers) PostReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Strategy == "" {
		h.risk.ResetAll()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "strategy": "all"})
		return
	}
	if err := h.risk.Reset(types.StrategyKind(req.Strategy)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "strategy": req.Strategy})
}

type outcomeRequest struct {
	Strategy string `json:"strategy"`
	Success  bool   `json:"success"`
}

// PostOutcome records an externally observed execution outcome into
// risk and competition state
func (h *Handlers) PostOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := types.StrategyKind(req.Strategy)
	valid := false
	for _, known := range types.AllStrategies {
		if kind == known {
			valid = true
			break
		}
	}
	if !valid {
		writeError(w, http.StatusBadRequest, "unknown strategy")
		return
	}

	h.risk.RecordOutcome(kind, req.Success)
	h.tracker.Record(kind, req.Success)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
