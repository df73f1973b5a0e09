package metrics

import (
	"database/sql"
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "debrisflow_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestRejected *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	detectorTransitions *prometheus.CounterVec
	activeEvents        prometheus.Gauge

	riskAssessments *prometheus.CounterVec
	riskValue       *prometheus.GaugeVec

	simulationRuns     *prometheus.CounterVec
	simulationDuration prometheus.Histogram
	runsInFlight       prometheus.Gauge
	riskZonesTotal     prometheus.Counter

	changeDetections prometheus.Counter
	materialUpdates  prometheus.Counter

	alertEventsTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total observation ingest requests by result",
			},
			[]string{"result"},
		)
		ingestRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rejected_total",
				Help: "Total rejected observations by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Observation ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		detectorTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "detector_transitions_total",
				Help: "Rainfall event detector state transitions",
			},
			[]string{"transition"},
		)
		activeEvents = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "rainfall_events_active",
				Help: "Currently active rainfall events across locations",
			},
		)

		riskAssessments = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "risk_assessments_total",
				Help: "Risk assessments by resulting level",
			},
			[]string{"level"},
		)
		riskValue = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "risk_value",
				Help: "Latest composite risk value per location",
			},
			[]string{"location"},
		)

		simulationRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "simulation_runs_total",
				Help: "Simulation runs by terminal status",
			},
			[]string{"status"},
		)
		simulationDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "simulation_duration_seconds",
				Help:    "Wall-clock duration of simulation runs",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		)
		runsInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "simulation_runs_in_flight",
				Help: "Simulation runs currently pending or running",
			},
		)
		riskZonesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "risk_zones_total",
				Help: "Total risk zones materialized",
			},
		)

		changeDetections = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "change_detections_total",
				Help: "Total change detections ingested",
			},
		)
		materialUpdates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "material_availability_updates_total",
				Help: "Total source-area material availability updates",
			},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Alert lifecycle events by type",
			},
			[]string{"type"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestRejected,
			ingestLatency,
			consumerLag,
			detectorTransitions,
			activeEvents,
			riskAssessments,
			riskValue,
			simulationRuns,
			simulationDuration,
			runsInFlight,
			riskZonesTotal,
			changeDetections,
			materialUpdates,
			alertEventsTotal,
		)

		if db != nil {
			registerDBGauges(db, logger)
		}
	})
}

// IncIngestSuccess records an accepted observation.
func IncIngestSuccess() {
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(resultSuccess).Inc()
	}
}

// IncIngestError records a failed ingest request.
func IncIngestError() {
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(resultError).Inc()
	}
}

// IncIngestRejected records a rejected observation by reason.
func IncIngestRejected(reason string) {
	if ingestRejected != nil {
		ingestRejected.WithLabelValues(reason).Inc()
	}
}

// ObserveIngestLatency records ingest latency.
func ObserveIngestLatency(result string, seconds float64) {
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(seconds)
	}
}

// SetConsumerLag records consumer lag.
func SetConsumerLag(consumer string, seconds float64) {
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(seconds)
	}
}

// IncDetectorTransition records a detector state transition.
func IncDetectorTransition(transition string) {
	if detectorTransitions != nil {
		detectorTransitions.WithLabelValues(transition).Inc()
	}
}

// AddActiveEvents adjusts the active rainfall event gauge.
func AddActiveEvents(delta float64) {
	if activeEvents != nil {
		activeEvents.Add(delta)
	}
}

// IncRiskAssessment records an assessment by level.
func IncRiskAssessment(level string) {
	if riskAssessments != nil {
		riskAssessments.WithLabelValues(level).Inc()
	}
}

// SetRiskValue records the latest risk value per location.
func SetRiskValue(locationID string, value float64) {
	if riskValue != nil {
		riskValue.WithLabelValues(locationID).Set(value)
	}
}

// IncSimulationRun records a run reaching a status.
func IncSimulationRun(status string) {
	if simulationRuns != nil {
		simulationRuns.WithLabelValues(status).Inc()
	}
}

// ObserveSimulationDuration records run duration.
func ObserveSimulationDuration(seconds float64) {
	if simulationDuration != nil {
		simulationDuration.Observe(seconds)
	}
}

// AddRunsInFlight adjusts the in-flight run gauge.
func AddRunsInFlight(delta float64) {
	if runsInFlight != nil {
		runsInFlight.Add(delta)
	}
}

// IncRiskZone records a materialized risk zone.
func IncRiskZone() {
	if riskZonesTotal != nil {
		riskZonesTotal.Inc()
	}
}

// IncChangeDetection records an ingested change detection.
func IncChangeDetection() {
	if changeDetections != nil {
		changeDetections.Inc()
	}
}

// IncMaterialUpdate records a source-area material availability update.
func IncMaterialUpdate() {
	if materialUpdates != nil {
		materialUpdates.Inc()
	}
}

// IncAlertEvent records an alert lifecycle event.
func IncAlertEvent(eventType string) {
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(eventType).Inc()
	}
}

func registerDBGauges(db *sql.DB, logger *log.Logger) {
	openConns := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open database connections",
		},
		func() float64 {
			return float64(db.Stats().OpenConnections)
		},
	)
	waitDuration := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_wait_duration_seconds",
			Help: "Cumulative time waited for database connections",
		},
		func() float64 {
			return db.Stats().WaitDuration.Seconds()
		},
	)
	if err := prometheus.Register(openConns); err != nil && logger != nil {
		logger.Printf("metrics: register db gauge: %v", err)
	}
	if err := prometheus.Register(waitDuration); err != nil && logger != nil {
		logger.Printf("metrics: register db gauge: %v", err)
	}
}
