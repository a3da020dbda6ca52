package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"retainline/internal/config"
	"retainline/internal/domain"
	"retainline/internal/events"
	"retainline/internal/plan"
	"retainline/internal/repo"
	"retainline/internal/risk"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	// Sink receives generated tasks; defaults to the local repo sink.
	Sink TaskSink
	Now  func() time.Time
}

// TaskSink persists one task per call. Fire-and-forget from the
// pipeline's view; the task lifecycle afterwards is not ours.
type TaskSink interface {
	CreateTask(ctx context.Context, t domain.Task) (string, error)
}

func New(db *sql.DB, cfg *config.Config) Engine {
	bands := repo.DefaultBands()
	if cfg != nil {
		bands = repo.Bands{
			High:              cfg.Scoring.HighBand,
			Medium:            cfg.Scoring.MediumBand,
			DriverAffectedMin: cfg.Scoring.DriverAffectedMin,
		}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db, Bands: bands},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rules() plan.Rules {
	if e.Config == nil {
		return plan.DefaultRules()
	}
	return plan.Rules{
		EmergencyHighPct: e.Config.Rules.EmergencyHighPct,
		HotspotAvgRisk:   e.Config.Rules.HotspotAvgRisk,
		MaxActions:       e.Config.Rules.MaxActions,
	}
}

// InitTenant registers a tenant row.
func (e Engine) InitTenant(ctx context.Context, tenantID, name, actorID string) (domain.Tenant, error) {
	if tenantID == "" {
		return domain.Tenant{}, errors.New("tenant id is required")
	}
	t := domain.Tenant{
		ID:        tenantID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tenant{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO tenants(id,name,status,created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.Status, t.CreatedAt); err != nil {
		return domain.Tenant{}, fmt.Errorf("insert tenant: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "tenant.created", t.ID, "tenant", t.ID, actorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Tenant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}

// SignalInput is one incoming risk signal before validation.
type SignalInput struct {
	EmployeeID   string
	DepartmentID string
	ProjectID    string
	Grade        string
	Driver       string
	Score        float64
	RecordedAt   string
}

// IngestSignals validates and stores a batch of signals in one
// transaction. The whole batch is rejected on the first invalid row.
func (e Engine) IngestSignals(ctx context.Context, tenantID, actorID string, inputs []SignalInput) (int, error) {
	if tenantID == "" {
		return 0, errors.New("tenant id is required")
	}
	if len(inputs) == 0 {
		return 0, errors.New("at least one signal is required")
	}
	if _, err := e.Repo.GetTenant(ctx, tenantID); err != nil {
		return 0, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for i, in := range inputs {
		if in.EmployeeID == "" {
			return 0, fmt.Errorf("signal %d: employee id is required", i)
		}
		driver, err := domain.ParseDriver(in.Driver)
		if err != nil {
			return 0, fmt.Errorf("signal %d: %w", i, err)
		}
		if in.Score < 0 || in.Score > 100 {
			return 0, fmt.Errorf("signal %d: score %.1f out of range [0,100]", i, in.Score)
		}
		recorded := in.RecordedAt
		if recorded == "" {
			recorded = now
		}
		s := domain.RiskSignal{
			TenantID:     tenantID,
			EmployeeID:   in.EmployeeID,
			DepartmentID: in.DepartmentID,
			ProjectID:    in.ProjectID,
			Grade:        in.Grade,
			Driver:       string(driver),
			Score:        in.Score,
			RecordedAt:   recorded,
		}
		if err := e.Repo.InsertSignal(ctx, tx, s); err != nil {
			return 0, fmt.Errorf("insert signal %d: %w", i, err)
		}
	}
	if err := e.Events.Append(ctx, tx, "signal.ingested", tenantID, "signal", "", actorID, events.EventPayload{"count": len(inputs)}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(inputs), nil
}

// GenerateOptions parameterizes one plan-generation run.
type GenerateOptions struct {
	TenantID string
	Scope    string
	ScopeID  string
	ActorID  string
}

// GenerateResult reports what one run attempted and what actually landed.
// ActionsGenerated counts plans processed; TasksCreated counts inserts
// that succeeded, so partial completion stays visible.
type GenerateResult struct {
	TenantID         string              `json:"tenant_id"`
	Scope            string              `json:"scope"`
	ActionsGenerated int                 `json:"actions_generated"`
	TasksCreated     int                 `json:"tasks_created"`
	TasksDeduped     int                 `json:"tasks_deduped"`
	TasksFailed      int                 `json:"tasks_failed"`
	Plans            []domain.ActionPlan `json:"plans"`
}

// GeneratePlans runs the pipeline end to end: aggregate, map through the
// rule table, then emit each plan to the task sink sequentially. Emission
// is best-effort per item; a failed insert is logged and the batch
// continues. There is no batch transaction on purpose.
func (e Engine) GeneratePlans(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	if opts.TenantID == "" {
		return GenerateResult{}, risk.ErrTenantRequired
	}
	if _, err := e.Repo.GetTenant(ctx, opts.TenantID); err != nil {
		return GenerateResult{}, err
	}
	agg := risk.Aggregator{Source: e.Repo}
	snap, err := agg.Aggregate(ctx, opts.TenantID, opts.Scope, opts.ScopeID)
	if err != nil {
		return GenerateResult{}, err
	}

	plans := plan.Build(e.rules(), snap.Overview, snap.Drivers, snap.Hotspots)

	res := GenerateResult{
		TenantID: opts.TenantID,
		Scope:    string(snap.Scope),
		Plans:    plans,
	}
	sink := e.Sink
	if sink == nil {
		sink = repoSink{engine: e, actorID: opts.ActorID}
	}
	period := e.now().UTC().Format("2006-01-02")
	for _, p := range plans {
		res.ActionsGenerated++
		t := domain.Task{
			ID:          uuid.NewString(),
			TenantID:    opts.TenantID,
			Module:      e.module(),
			Title:       p.Title,
			Description: p.Description,
			Priority:    p.Priority,
			OwnerRole:   e.ownerRole(),
			CreatedAt:   e.now().UTC().Format(time.RFC3339),
		}
		if meta, err := json.Marshal(p.Evidence); err == nil && len(p.Evidence) > 0 {
			s := string(meta)
			t.MetadataJSON = &s
		}
		if e.dedupe() {
			key := planKey(opts.TenantID, string(snap.Scope), snap.ScopeID, p.Title, period)
			t.PlanKey = &key
		}
		if _, err := sink.CreateTask(ctx, t); err != nil {
			if errors.Is(err, repo.ErrDuplicatePlanKey) {
				res.TasksDeduped++
				continue
			}
			res.TasksFailed++
			log.Printf("generate: create task %q for tenant %s failed: %v", p.Title, opts.TenantID, err)
			continue
		}
		res.TasksCreated++
	}

	if err := e.appendGenerated(ctx, opts, res); err != nil {
		log.Printf("generate: append event failed: %v", err)
	}
	return res, nil
}

func (e Engine) appendGenerated(ctx context.Context, opts GenerateOptions, res GenerateResult) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "plan.generated", opts.TenantID, "plan", "", opts.ActorID, events.EventPayload{
		"scope":             res.Scope,
		"actions_generated": res.ActionsGenerated,
		"tasks_created":     res.TasksCreated,
		"tasks_deduped":     res.TasksDeduped,
		"tasks_failed":      res.TasksFailed,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) module() string {
	if e.Config != nil && e.Config.Generation.Module != "" {
		return e.Config.Generation.Module
	}
	return "retention"
}

func (e Engine) ownerRole() string {
	if e.Config != nil && e.Config.Generation.OwnerRole != "" {
		return e.Config.Generation.OwnerRole
	}
	return "hr_manager"
}

func (e Engine) dedupe() bool {
	if e.Config == nil {
		return true
	}
	return e.Config.Dedupe()
}

// planKey derives the at-most-once-per-period idempotency key.
func planKey(tenantID, scope, scopeID, title, period string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenantID+"|"+scope+"|"+scopeID+"|"+title+"|"+period)).String()
}

// repoSink writes tasks to the local database, one transaction per task,
// with a task.created event alongside.
type repoSink struct {
	engine  Engine
	actorID string
}

func (s repoSink) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	tx, err := s.engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := s.engine.Repo.InsertTask(ctx, tx, t); err != nil {
		return "", err
	}
	if err := s.engine.Events.Append(ctx, tx, "task.created", t.TenantID, "task", t.ID, s.actorID, events.EventPayload{
		"title":    t.Title,
		"priority": t.Priority,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return t.ID, nil
}
