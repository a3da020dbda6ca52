package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"retainline/internal/config"
	"retainline/internal/db"
	"retainline/internal/domain"
	"retainline/internal/engine"
	"retainline/internal/migrate"
	"retainline/internal/repo"
	"retainline/internal/risk"
)

type testEnv struct {
	Engine engine.Engine
	Cfg    *config.Config
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("acme")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitTenant(ctx, "acme", "Acme", "tester"); err != nil {
		t.Fatalf("init tenant: %v", err)
	}
	return testEnv{Engine: eng, Cfg: cfg, Ctx: ctx}
}

// seedRiskData loads a workforce whose aggregate trips the emergency rule,
// ranks compensation as the top driver, and puts engineering above the
// hotspot threshold. Four employees: two high risk, one medium, one low.
func seedRiskData(t *testing.T, env testEnv) {
	t.Helper()
	for _, d := range []domain.Department{
		{ID: "eng", TenantID: "acme", NameEn: "Engineering", NameAr: "الهندسة"},
		{ID: "sales", TenantID: "acme", NameEn: "Sales"},
	} {
		if err := env.Engine.Repo.UpsertDepartment(env.Ctx, d); err != nil {
			t.Fatalf("upsert department %s: %v", d.ID, err)
		}
	}
	signals := []engine.SignalInput{
		{EmployeeID: "e1", DepartmentID: "eng", Driver: "compensation", Score: 90},
		{EmployeeID: "e1", DepartmentID: "eng", Driver: "workload", Score: 80},
		{EmployeeID: "e2", DepartmentID: "eng", Driver: "compensation", Score: 75},
		{EmployeeID: "e3", DepartmentID: "sales", Driver: "compensation", Score: 40},
		{EmployeeID: "e4", DepartmentID: "sales", Driver: "workload", Score: 20},
	}
	if _, err := env.Engine.IngestSignals(env.Ctx, "acme", "tester", signals); err != nil {
		t.Fatalf("ingest signals: %v", err)
	}
}

func taskTitles(t *testing.T, env testEnv) map[string]int {
	t.Helper()
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "acme", 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	out := map[string]int{}
	for _, task := range tasks {
		out[task.Title]++
	}
	return out
}

func TestGeneratePlansEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	seedRiskData(t, env)

	res, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", ActorID: "tester"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ActionsGenerated != 5 || res.TasksCreated != 5 {
		t.Fatalf("expected 5 actions / 5 tasks, got %d / %d", res.ActionsGenerated, res.TasksCreated)
	}
	if res.TasksDeduped != 0 || res.TasksFailed != 0 {
		t.Fatalf("unexpected dedupe/failure counts: %+v", res)
	}

	titles := taskTitles(t, env)
	for _, want := range []string{
		"Emergency Retention Review",
		"Compensation Review Initiative",
		"Engineering Department Intervention",
		"Monthly Retention Pulse Survey",
		"Manager Retention Training Program",
	} {
		if titles[want] != 1 {
			t.Fatalf("expected task %q once, got %d (all: %v)", want, titles[want], titles)
		}
	}

	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "acme", 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.PlanKey == nil || *task.PlanKey == "" {
			t.Fatalf("task %q missing plan key", task.Title)
		}
		if task.Module != "retention" || task.OwnerRole != "hr_manager" {
			t.Fatalf("task %q module/owner: %s/%s", task.Title, task.Module, task.OwnerRole)
		}
		if task.Title == "Emergency Retention Review" && task.MetadataJSON == nil {
			t.Fatalf("emergency task missing evidence metadata")
		}
	}
}

func TestGenerateDeduplicatesRepeatRuns(t *testing.T) {
	env := newTestEnv(t)
	seedRiskData(t, env)

	first, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", ActorID: "tester"})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", ActorID: "tester"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.ActionsGenerated != first.ActionsGenerated {
		t.Fatalf("action counts differ: %d vs %d", first.ActionsGenerated, second.ActionsGenerated)
	}
	if second.TasksCreated != 0 || second.TasksDeduped != first.TasksCreated {
		t.Fatalf("expected full dedupe on second run, got created=%d deduped=%d", second.TasksCreated, second.TasksDeduped)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "acme", 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != first.TasksCreated {
		t.Fatalf("expected %d tasks after rerun, got %d", first.TasksCreated, len(tasks))
	}
}

func TestGenerateWithoutDedupe(t *testing.T) {
	env := newTestEnv(t)
	seedRiskData(t, env)
	off := false
	env.Cfg.Generation.Dedupe = &off

	for i := 0; i < 2; i++ {
		res, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", ActorID: "tester"})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.TasksCreated != 5 || res.TasksDeduped != 0 {
			t.Fatalf("run %d: created=%d deduped=%d", i, res.TasksCreated, res.TasksDeduped)
		}
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, "acme", 0)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 10 {
		t.Fatalf("expected duplicate tasks with dedupe off, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.PlanKey != nil {
			t.Fatalf("task %q carries a plan key with dedupe off", task.Title)
		}
	}
}

type flakySink struct {
	inner    engine.TaskSink
	failWith string
}

func (s flakySink) CreateTask(ctx context.Context, task domain.Task) (string, error) {
	if task.Title == s.failWith {
		return "", fmt.Errorf("sink rejected %q", task.Title)
	}
	return s.inner.CreateTask(ctx, task)
}

type countingSink struct{ created *int }

func (s countingSink) CreateTask(context.Context, domain.Task) (string, error) {
	*s.created++
	return "ok", nil
}

func TestGenerateKeepsGoingWhenSinkFails(t *testing.T) {
	env := newTestEnv(t)
	seedRiskData(t, env)
	var created int
	env.Engine.Sink = flakySink{
		inner:    countingSink{created: &created},
		failWith: "Compensation Review Initiative",
	}

	res, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", ActorID: "tester"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ActionsGenerated != 5 {
		t.Fatalf("expected 5 attempts, got %d", res.ActionsGenerated)
	}
	if res.TasksFailed != 1 || res.TasksCreated != 4 {
		t.Fatalf("expected 1 failure / 4 created, got %d / %d", res.TasksFailed, res.TasksCreated)
	}
	if created != 4 {
		t.Fatalf("sink saw %d successful creates", created)
	}
}

func TestGenerateRequiresTenant(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{})
	if !errors.Is(err, risk.ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
	_, err = env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "ghost"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown tenant, got %v", err)
	}
}

func TestGenerateDegradedWithoutSignals(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", ActorID: "tester"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ActionsGenerated != 2 || res.TasksCreated != 2 {
		t.Fatalf("expected only standing actions, got %d / %d", res.ActionsGenerated, res.TasksCreated)
	}
	titles := taskTitles(t, env)
	if titles["Monthly Retention Pulse Survey"] != 1 || titles["Manager Retention Training Program"] != 1 {
		t.Fatalf("unexpected tasks: %v", titles)
	}
}

func TestGenerateScopedToDepartment(t *testing.T) {
	env := newTestEnv(t)
	seedRiskData(t, env)

	// sales employees are medium and low risk: no emergency, no driver
	// plan. Hotspots stay tenant-wide, so engineering still fans out.
	res, err := env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{
		TenantID: "acme", Scope: "dept", ScopeID: "sales", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ActionsGenerated != 3 {
		t.Fatalf("expected 3 actions in sales scope, got %d", res.ActionsGenerated)
	}
	titles := taskTitles(t, env)
	if titles["Emergency Retention Review"] != 0 {
		t.Fatalf("emergency fired inside low-risk scope: %v", titles)
	}
	if titles["Engineering Department Intervention"] != 1 {
		t.Fatalf("tenant-wide hotspot missing: %v", titles)
	}

	_, err = env.Engine.GeneratePlans(env.Ctx, engine.GenerateOptions{TenantID: "acme", Scope: "region"})
	if err == nil {
		t.Fatalf("expected unknown scope error")
	}
}

func TestLatestSignalWins(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.IngestSignals(env.Ctx, "acme", "tester", []engine.SignalInput{
		{EmployeeID: "e9", Driver: "compensation", Score: 95},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := env.Engine.IngestSignals(env.Ctx, "acme", "tester", []engine.SignalInput{
		{EmployeeID: "e9", Driver: "compensation", Score: 5},
	}); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	snap, err := risk.Aggregator{Source: env.Engine.Repo}.Aggregate(env.Ctx, "acme", "", "")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if snap.Overview == nil || snap.Overview.TotalEmployees != 1 {
		t.Fatalf("unexpected overview: %+v", snap.Overview)
	}
	if snap.Overview.AvgRisk != 5 {
		t.Fatalf("expected newest score to win, avg=%f", snap.Overview.AvgRisk)
	}
	if snap.Overview.HighRiskPct != 0 {
		t.Fatalf("stale high score still counted: %+v", snap.Overview)
	}
}

func TestIngestRejectsWholeBatchOnBadRow(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.IngestSignals(env.Ctx, "acme", "tester", []engine.SignalInput{
		{EmployeeID: "e1", Driver: "compensation", Score: 50},
		{EmployeeID: "e2", Driver: "horoscope", Score: 50},
	})
	if err == nil {
		t.Fatalf("expected unknown driver error")
	}
	_, err = env.Engine.IngestSignals(env.Ctx, "acme", "tester", []engine.SignalInput{
		{EmployeeID: "e1", Driver: "workload", Score: 140},
	})
	if err == nil {
		t.Fatalf("expected out of range error")
	}
	n, err := env.Engine.Repo.CountSignals(env.Ctx, "acme")
	if err != nil {
		t.Fatalf("count signals: %v", err)
	}
	if n != 0 {
		t.Fatalf("rejected batches left %d rows behind", n)
	}
}
