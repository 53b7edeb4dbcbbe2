package metrics

import (
	"net/http"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's prometheus instruments. One instance per
// process, registered against its own registry so tests can create
// collectors freely.
type Collector struct {
	registry *prometheus.Registry

	opportunitiesDetected *prometheus.CounterVec
	opportunitiesRejected *prometheus.CounterVec
	executionsTotal       *prometheus.CounterVec
	executionLatency      *prometheus.HistogramVec
	competitionLevel      *prometheus.GaugeVec
	breakerTrips          *prometheus.CounterVec
	breakerArmed          *prometheus.GaugeVec
	analysisQueueDepth    prometheus.Gauge
}

// NewCollector creates a collector with all instruments registered
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		opportunitiesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_opportunities_detected_total",
			Help: "Opportunities detected, by strategy",
		}, []string{"strategy"}),
		opportunitiesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_opportunities_rejected_total",
			Help: "Opportunities rejected before execution, by strategy and reason",
		}, []string{"strategy", "reason"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_executions_total",
			Help: "Executions submitted, by strategy and result",
		}, []string{"strategy", "result"}),
		executionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mev_execution_duration_seconds",
			Help:    "Execution latency in seconds, by strategy",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		}, []string{"strategy"}),
		competitionLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mev_competition_level",
			Help: "Current gas competition multiplier, by strategy",
		}, []string{"strategy"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mev_breaker_trips_total",
			Help: "Circuit breaker trips, by strategy and kind",
		}, []string{"strategy", "kind"}),
		breakerArmed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mev_breaker_armed",
			Help: "1 when the strategy may trade, 0 when tripped",
		}, []string{"strategy"}),
		analysisQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mev_analysis_queue_depth",
			Help: "Jobs waiting in the analysis queue",
		}),
	}

	registry.MustRegister(
		c.opportunitiesDetected,
		c.opportunitiesRejected,
		c.executionsTotal,
		c.executionLatency,
		c.competitionLevel,
		c.breakerTrips,
		c.breakerArmed,
		c.analysisQueueDepth,
	)
	return c
}

// Handler returns the scrape endpoint for this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveOpportunity counts a detected opportunity
func (c *Collector) ObserveOpportunity(opp *types.Opportunity) {
	if opp == nil {
		return
	}
	c.opportunitiesDetected.WithLabelValues(string(opp.Strategy)).Inc()
	c.competitionLevel.WithLabelValues(string(opp.Strategy)).Set(opp.CompetitionLevel)
}

// ObserveRejection counts an opportunity dropped before execution
func (c *Collector) ObserveRejection(strategy types.StrategyKind, reason string) {
	c.opportunitiesRejected.WithLabelValues(string(strategy), reason).Inc()
}

// ObserveExecution counts a recorded execution outcome. Satisfies the
// coordinator's ResultObserver.
func (c *Collector) ObserveExecution(strategy types.StrategyKind, result *types.ExecutionResult) {
	label := "failure"
	if result.Success {
		label = "success"
	}
	c.executionsTotal.WithLabelValues(string(strategy), label).Inc()
	c.executionLatency.WithLabelValues(string(strategy)).Observe(result.Latency.Seconds())
}

// ObserveRiskState mirrors a strategy's breaker state into gauges
func (c *Collector) ObserveRiskState(view types.RiskStateView) {
	armed := 0.0
	if view.Armed {
		armed = 1.0
	}
	c.breakerArmed.WithLabelValues(string(view.Strategy)).Set(armed)
}

// ObserveBreakerTrip counts a trip event
func (c *Collector) ObserveBreakerTrip(strategy types.StrategyKind, kind types.BreakerKind) {
	c.breakerTrips.WithLabelValues(string(strategy), string(kind)).Inc()
}

// SetQueueDepth records the current analysis backlog
func (c *Collector) SetQueueDepth(depth int) {
	c.analysisQueueDepth.Set(float64(depth))
}
