package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	simulation "debrisflow-monitor/internal/simulation/domain"
	simrepo "debrisflow-monitor/internal/simulation/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestRunLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "simulation_runs") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	locationID := "location-it-run"
	eventID := "rain-it-run"

	_, _ = db.ExecContext(ctx, "DELETE FROM simulation_runs WHERE location_id = $1", locationID)

	repo := simrepo.NewRunRepository(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	run := &simulation.Run{
		ID:          "run-it-1",
		LocationID:  locationID,
		EventID:     eventID,
		Trigger:     simulation.TriggerThreshold,
		Status:      simulation.StatusPending,
		Params:      simulation.DefaultParams(),
		SubmittedAt: now,
	}
	created, err := repo.CreateIfAbsent(ctx, run)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if !created {
		t.Fatal("expected first create to insert")
	}

	// A replayed trigger carries a new run id but the same dedupe key.
	replay := &simulation.Run{
		ID:          "run-it-2",
		LocationID:  locationID,
		EventID:     eventID,
		Trigger:     simulation.TriggerThreshold,
		Status:      simulation.StatusPending,
		Params:      simulation.DefaultParams(),
		SubmittedAt: now.Add(time.Second),
	}
	created, err = repo.CreateIfAbsent(ctx, replay)
	if err != nil {
		t.Fatalf("create replay: %v", err)
	}
	if created {
		t.Fatal("expected replayed trigger to collapse on the dedupe key")
	}

	if err := repo.MarkRunning(ctx, run.ID, "job-it-1", now.Add(2*time.Second)); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	inFlight, err := repo.ListInFlight(ctx)
	if err != nil {
		t.Fatalf("list in-flight: %v", err)
	}
	found := false
	for _, candidate := range inFlight {
		if candidate.ID == run.ID {
			found = true
			if candidate.Status != simulation.StatusRunning {
				t.Fatalf("expected running, got %s", candidate.Status)
			}
			if candidate.EngineJobID != "job-it-1" {
				t.Fatalf("unexpected engine job id %q", candidate.EngineJobID)
			}
		}
	}
	if !found {
		t.Fatal("running run missing from in-flight listing")
	}

	busy, err := repo.HasInFlight(ctx, locationID)
	if err != nil {
		t.Fatalf("has in-flight: %v", err)
	}
	if !busy {
		t.Fatal("expected location flagged busy while a run is in flight")
	}

	result := &simulation.Result{
		AffectedAreaM2: 15250.0,
		MaxDepthM:      1.8,
		MaxVelocityMS:  6.4,
		RiskLevel:      "high",
		BoundaryWKT:    "POLYGON ((0 0, 0 1, 1 1, 1 0, 0 0))",
	}
	transitioned, err := repo.FinishTerminal(ctx, run.ID, simulation.StatusCompleted, result, "", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if !transitioned {
		t.Fatal("expected the first finish to win the transition")
	}

	// A second finish must lose: terminal states never transition again.
	transitioned, err = repo.FinishTerminal(ctx, run.ID, simulation.StatusFailed, nil, "late timeout", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if transitioned {
		t.Fatal("expected the second finish to be a no-op")
	}

	loaded, err := repo.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if loaded == nil {
		t.Fatal("run missing after finish")
	}
	if loaded.Status != simulation.StatusCompleted {
		t.Fatalf("expected completed, got %s", loaded.Status)
	}
	if loaded.Result == nil || loaded.Result.AffectedAreaM2 != result.AffectedAreaM2 || loaded.Result.RiskLevel != "high" {
		t.Fatalf("result not preserved: %+v", loaded.Result)
	}
	if loaded.FinishedAt == nil {
		t.Fatal("finished_at not recorded")
	}
	if loaded.Params.FrictionModel != "voellmy" {
		t.Fatalf("params not preserved: %+v", loaded.Params)
	}

	busy, err = repo.HasInFlight(ctx, locationID)
	if err != nil {
		t.Fatalf("has in-flight after finish: %v", err)
	}
	if busy {
		t.Fatal("expected location free once its run finished")
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
