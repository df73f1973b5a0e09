package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	alertapp "debrisflow-monitor/internal/alerts/application"
	alertrepo "debrisflow-monitor/internal/alerts/infrastructure/postgres"
	alertshttp "debrisflow-monitor/internal/alerts/interfaces/http"
	alertnotify "debrisflow-monitor/internal/alerts/notify"
	apihttp "debrisflow-monitor/internal/api/http"
	"debrisflow-monitor/internal/audit"
	"debrisflow-monitor/internal/auth"
	pipelineconfig "debrisflow-monitor/internal/config"
	"debrisflow-monitor/internal/eventing"
	eventingrepo "debrisflow-monitor/internal/eventing/infrastructure/postgres"
	"debrisflow-monitor/internal/observability/metrics"
	rainapp "debrisflow-monitor/internal/rainfall/application"
	rainevents "debrisflow-monitor/internal/rainfall/application/events"
	rainrepo "debrisflow-monitor/internal/rainfall/infrastructure/postgres"
	riskapp "debrisflow-monitor/internal/risk/application"
	riskevents "debrisflow-monitor/internal/risk/application/events"
	riskrepo "debrisflow-monitor/internal/risk/infrastructure/postgres"
	simapp "debrisflow-monitor/internal/simulation/application"
	simevents "debrisflow-monitor/internal/simulation/application/events"
	"debrisflow-monitor/internal/simulation/executor"
	simrepo "debrisflow-monitor/internal/simulation/infrastructure/postgres"
	simulationhttp "debrisflow-monitor/internal/simulation/interfaces/http"
	terrainapp "debrisflow-monitor/internal/terrain/application"
	terrainrepo "debrisflow-monitor/internal/terrain/infrastructure/postgres"
	terrainhttp "debrisflow-monitor/internal/terrain/interfaces/http"
	weatherapp "debrisflow-monitor/internal/weather/application"
	weatherevents "debrisflow-monitor/internal/weather/application/events"
	weatherrepo "debrisflow-monitor/internal/weather/infrastructure/postgres"
	weatherhttp "debrisflow-monitor/internal/weather/interfaces/http"
	weatherkafka "debrisflow-monitor/internal/weather/interfaces/kafka"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	observationRepo := weatherrepo.NewObservationRepository(db)
	eventRepo := rainrepo.NewEventRepository(db)
	assessmentRepo := riskrepo.NewAssessmentRepository(db)
	zoneRepo := riskrepo.NewZoneRepository(db)
	areaRepo := terrainrepo.NewSourceAreaRepository(db)
	detectionRepo := terrainrepo.NewDetectionRepository(db)
	snapshotRepo := terrainrepo.NewSnapshotRepository(db)
	runRepo := simrepo.NewRunRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)

	baseBus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(weatherevents.ObservationAccepted{})
	registry.Register(rainevents.EventOpened{})
	registry.Register(rainevents.EventUpdated{})
	registry.Register(rainevents.EventClosed{})
	registry.Register(riskevents.RiskAssessed{})
	registry.Register(riskevents.ZoneMaterialized{})
	registry.Register(simevents.RunDispatched{})
	registry.Register(simevents.RunCompleted{})
	registry.Register(simevents.RunFailed{})
	registry.Register(simevents.RunCanceled{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	busDispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, busDispatcher, baseBus)

	weatherService, err := weatherapp.NewService(observationRepo, publisher, logger)
	if err != nil {
		logger.Fatalf("weather service error: %v", err)
	}
	if len(cfg.MonitoredLocations) > 0 {
		if err := weatherService.Rehydrate(context.Background(), cfg.MonitoredLocations); err != nil {
			logger.Printf("weather rehydrate error: %v", err)
		}
	}

	pipeline, err := pipelineconfig.Load(cfg.PipelineConfigPath)
	if err != nil {
		logger.Fatalf("pipeline config error: %v", err)
	}

	detector, err := rainapp.NewDetector(eventRepo, publisher, pipeline.DetectorConfig(), logger)
	if err != nil {
		logger.Fatalf("rainfall detector error: %v", err)
	}

	integrator, err := terrainapp.NewIntegrator(areaRepo, detectionRepo, snapshotRepo, pipeline.IntegratorConfig(), logger)
	if err != nil {
		logger.Fatalf("terrain integrator error: %v", err)
	}
	terrainService, err := terrainapp.NewService(areaRepo, auditRepo, logger)
	if err != nil {
		logger.Fatalf("terrain service error: %v", err)
	}

	thresholds := pipeline.RiskThresholds()
	evaluator, err := riskapp.NewEvaluator(thresholds, assessmentRepo, integrator, publisher, logger)
	if err != nil {
		logger.Fatalf("risk evaluator error: %v", err)
	}
	materializer, err := riskapp.NewMaterializer(thresholds, zoneRepo, assessmentRepo, publisher, logger)
	if err != nil {
		logger.Fatalf("zone materializer error: %v", err)
	}

	simCfg := pipeline.SimulationConfig()
	engine, err := executor.NewClient(cfg.EngineBaseURL, cfg.EngineToken)
	if err != nil {
		logger.Fatalf("engine client error: %v", err)
	}
	simDispatcher, err := simapp.NewDispatcher(runRepo, engine, publisher, simCfg, logger, simapp.WithSnapshotIndex(integrator))
	if err != nil {
		logger.Fatalf("simulation dispatcher error: %v", err)
	}
	supervisor, err := simapp.NewSupervisor(runRepo, engine, publisher, simCfg, logger)
	if err != nil {
		logger.Fatalf("simulation supervisor error: %v", err)
	}
	scheduler, err := simapp.NewScheduler(simDispatcher, simCfg, logger)
	if err != nil {
		logger.Fatalf("simulation scheduler error: %v", err)
	}

	alertBroker := alertshttp.NewSSEBroker()
	alertNotifiers := []alertapp.AlertNotifier{alertBroker}
	if cfg.AlertWebhookURL != "" {
		tpl, err := alertnotify.NewTemplate(cfg.AlertNotifyTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		webhookNotifier, err := alertnotify.NewNotifier(
			alertRepo,
			alertnotify.NewWebhookChannel(cfg.AlertWebhookURL),
			tpl,
			alertnotify.WithEscalation(cfg.AlertEscalationAfter),
			alertnotify.WithCooldown(cfg.AlertNotifyCooldown),
			alertnotify.WithDedupeWindow(cfg.AlertNotifyDedupeWindow),
			alertnotify.WithRequestTimeout(cfg.AlertNotifyTimeout),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		alertNotifiers = append(alertNotifiers, webhookNotifier)
	}
	alertManager, err := alertapp.NewManager(alertRepo, logger, alertapp.WithNotifier(alertnotify.NewMultiNotifier(alertNotifiers...)))
	if err != nil {
		logger.Fatalf("alert manager error: %v", err)
	}

	eventing.Subscribe(baseBus, eventing.EventTypeOf[weatherevents.ObservationAccepted](), "rainfall.detector", func(ctx context.Context, event any) error {
		evt, ok := event.(weatherevents.ObservationAccepted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return detector.HandleObservation(ctx, evt)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[rainevents.EventUpdated](), "risk.evaluator", func(ctx context.Context, event any) error {
		evt, ok := event.(rainevents.EventUpdated)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return evaluator.HandleEventUpdated(ctx, evt)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[riskevents.RiskAssessed](), "rainfall.latch", func(ctx context.Context, event any) error {
		evt, ok := event.(riskevents.RiskAssessed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return detector.ApplyAssessment(ctx, evt.LocationID, evt.EventID, evt.Exceedance)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[riskevents.RiskAssessed](), "simulation.dispatch", func(ctx context.Context, event any) error {
		evt, ok := event.(riskevents.RiskAssessed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return simDispatcher.HandleRiskAssessed(ctx, evt)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[riskevents.RiskAssessed](), "alerts.risk", func(ctx context.Context, event any) error {
		evt, ok := event.(riskevents.RiskAssessed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return alertManager.HandleRiskAssessed(ctx, evt)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[simevents.RunCompleted](), "risk.zones", func(ctx context.Context, event any) error {
		evt, ok := event.(simevents.RunCompleted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return materializer.HandleRunCompleted(ctx, evt)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[simevents.RunFailed](), "alerts.runs", func(ctx context.Context, event any) error {
		evt, ok := event.(simevents.RunFailed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return alertManager.HandleRunFailed(ctx, evt)
	}, processedStore)

	eventing.Subscribe(baseBus, eventing.EventTypeOf[rainevents.EventClosed](), "alerts.events", func(ctx context.Context, event any) error {
		evt, ok := event.(rainevents.EventClosed)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return alertManager.HandleEventClosed(ctx, evt)
	}, processedStore)

	ingestHandler, err := weatherhttp.NewIngestHandler(weatherService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	weatherQueryHandler, err := weatherhttp.NewQueryHandler(observationRepo, weatherService, logger)
	if err != nil {
		logger.Fatalf("weather query handler error: %v", err)
	}
	detectionHandler, err := terrainhttp.NewDetectionHandler(integrator, logger)
	if err != nil {
		logger.Fatalf("detection handler error: %v", err)
	}
	snapshotHandler, err := terrainhttp.NewSnapshotHandler(integrator, logger)
	if err != nil {
		logger.Fatalf("snapshot handler error: %v", err)
	}
	sourceAreaHandler, err := terrainhttp.NewSourceAreaHandler(terrainService, logger)
	if err != nil {
		logger.Fatalf("source area handler error: %v", err)
	}
	simulationHandler, err := simulationhttp.NewHandler(simDispatcher, supervisor, runRepo, auditRepo, logger)
	if err != nil {
		logger.Fatalf("simulation handler error: %v", err)
	}
	alertHandler, err := alertshttp.NewHandler(alertManager, auditRepo, logger)
	if err != nil {
		logger.Fatalf("alerts handler error: %v", err)
	}
	dashboardHandler, err := apihttp.NewDashboardHandler(assessmentRepo, eventRepo, zoneRepo, alertRepo, logger)
	if err != nil {
		logger.Fatalf("dashboard handler error: %v", err)
	}
	exportHandler, err := apihttp.NewExportHandler(assessmentRepo, eventRepo, zoneRepo, alertRepo, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	ctx := context.Background()
	if len(cfg.KafkaBrokers) > 0 {
		consumer, err := weatherkafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, weatherService, logger)
		if err != nil {
			logger.Fatalf("kafka consumer error: %v", err)
		}
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Printf("kafka consumer stopped: %v", err)
			}
		}()
	}

	go detector.Run(ctx, cfg.DetectorSweepInterval)
	go integrator.Run(ctx, cfg.TerrainDecayInterval)
	go supervisor.Run(ctx)
	go scheduler.Run(ctx)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/weather/observations", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/ingest/terrain/detections", ingestAuth.Wrap(detectionHandler))
	mux.Handle("/ingest/terrain/snapshots", ingestAuth.Wrap(snapshotHandler))
	mux.Handle("/api/v1/weather/", weatherQueryHandler)
	mux.Handle("/api/v1/source-areas", sourceAreaHandler)
	mux.Handle("/api/v1/source-areas/", sourceAreaHandler)
	mux.Handle("/api/v1/simulations", simulationHandler)
	mux.Handle("/api/v1/simulations/", simulationHandler)
	mux.Handle("/api/v1/alerts/stream", alertshttp.NewStreamHandler(alertBroker))
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/dashboard", dashboardHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL             string
	HTTPAddr                string
	EngineBaseURL           string
	EngineToken             string
	PipelineConfigPath      string
	MonitoredLocations      []string
	KafkaBrokers            []string
	KafkaTopic              string
	KafkaGroupID            string
	DetectorSweepInterval   time.Duration
	TerrainDecayInterval    time.Duration
	AlertWebhookURL         string
	AlertNotifyTemplate     string
	AlertEscalationAfter    time.Duration
	AlertNotifyCooldown     time.Duration
	AlertNotifyDedupeWindow time.Duration
	AlertNotifyTimeout      time.Duration
	JWTSecret               string
	IngestSecret            string
	IngestSkewSeconds       int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":8080"),
		EngineBaseURL:           getenvDefault("ENGINE_BASE_URL", ""),
		EngineToken:             getenvDefault("ENGINE_TOKEN", ""),
		PipelineConfigPath:      getenvDefault("PIPELINE_CONFIG", getenvDefault("SIMULATION_CONFIG", "")),
		MonitoredLocations:      splitCSV(getenvDefault("MONITORED_LOCATIONS", "")),
		KafkaBrokers:            splitCSV(getenvDefault("KAFKA_BROKERS", "")),
		KafkaTopic:              getenvDefault("KAFKA_WEATHER_TOPIC", "weather.observations"),
		KafkaGroupID:            getenvDefault("KAFKA_GROUP_ID", "debrisflow-monitor"),
		DetectorSweepInterval:   getenvDuration("DETECTOR_SWEEP_INTERVAL", time.Minute),
		TerrainDecayInterval:    getenvDuration("TERRAIN_DECAY_INTERVAL", 6*time.Hour),
		AlertWebhookURL:         getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyTemplate:     getenvDefault("ALERT_NOTIFY_TEMPLATE", ""),
		AlertEscalationAfter:    getenvDuration("ALERT_ESCALATION_AFTER", 0),
		AlertNotifyCooldown:     getenvDuration("ALERT_NOTIFY_COOLDOWN", 0),
		AlertNotifyDedupeWindow: getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", 0),
		AlertNotifyTimeout:      getenvDuration("ALERT_NOTIFY_TIMEOUT", 5*time.Second),
		JWTSecret:               getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:            getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:       getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.EngineBaseURL == "" {
		log.Fatal("ENGINE_BASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
