package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"retainline/internal/engine"
	"retainline/internal/repo"
	"retainline/internal/risk"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"tenant id is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope; Code is a stable machine-readable
// kind so callers never have to parse the message.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Retainline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are client errors.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(corsMiddleware)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Retainline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGenerate(group, cfg.Engine)
	registerTenants(group, cfg.Engine)
	registerSignals(group, cfg.Engine)
	registerRisk(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

// corsMiddleware answers preflights the way the browser dashboard
// expects and marks every response as cross-origin readable.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, risk.ErrTenantRequired):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, risk.ErrDataUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "data_unavailable", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown scope"),
		strings.Contains(lowered, "unknown driver"),
		strings.Contains(lowered, "out of range"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "data_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGenerate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-plans",
		Method:      http.MethodPost,
		Path:        "/plans/generate",
		Summary:     "Generate retention action plans",
		Description: "Aggregates tenant risk, maps it through the action rule table, and persists the resulting tasks.",
	}, func(ctx context.Context, input *struct {
		Body GenerateRequest
	}) (*struct {
		Body GenerateResponse `json:"body"`
	}, error) {
		actor := actorIDOrDefault(ctx)
		res, err := e.GeneratePlans(ctx, engine.GenerateOptions{
			TenantID: input.Body.TenantID,
			Scope:    input.Body.Scope,
			ScopeID:  input.Body.ScopeID,
			ActorID:  actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateResponse `json:"body"`
		}{Body: generateResponse(res)}, nil
	})
}

func registerTenants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-tenant",
		Method:      http.MethodPost,
		Path:        "/tenants",
		Summary:     "Create tenant",
	}, func(ctx context.Context, input *struct {
		Body CreateTenantRequest
	}) (*struct {
		Body TenantResponse `json:"body"`
	}, error) {
		t, err := e.InitTenant(ctx, input.Body.ID, input.Body.Name, actorIDOrDefault(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TenantResponse `json:"body"`
		}{Body: TenantResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-department",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/departments",
		Summary:     "Create or update a department",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     UpsertDepartmentRequest
	}) (*struct {
		Body DepartmentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTenant(ctx, input.TenantID); err != nil {
			return nil, handleError(err)
		}
		d := input.Body.toDomain(input.TenantID)
		if d.ID == "" || d.NameEn == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "department id and name_en are required", nil)
		}
		if err := e.Repo.UpsertDepartment(ctx, d); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DepartmentResponse `json:"body"`
		}{Body: DepartmentResponse(d)}, nil
	})
}

func registerSignals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-signals",
		Method:      http.MethodPost,
		Path:        "/tenants/{tenant_id}/signals",
		Summary:     "Ingest risk signals",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Body     IngestSignalsRequest
	}) (*struct {
		Body IngestSignalsResponse `json:"body"`
	}, error) {
		inputs := make([]engine.SignalInput, 0, len(input.Body.Signals))
		for _, s := range input.Body.Signals {
			inputs = append(inputs, engine.SignalInput{
				EmployeeID:   s.EmployeeID,
				DepartmentID: s.DepartmentID,
				ProjectID:    s.ProjectID,
				Grade:        s.Grade,
				Driver:       s.Driver,
				Score:        s.Score,
				RecordedAt:   s.RecordedAt,
			})
		}
		n, err := e.IngestSignals(ctx, input.TenantID, actorIDOrDefault(ctx), inputs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IngestSignalsResponse `json:"body"`
		}{Body: IngestSignalsResponse{Ingested: n}}, nil
	})
}

func registerRisk(api huma.API, e engine.Engine) {
	type riskQuery struct {
		TenantID string `path:"tenant_id"`
		Scope    string `query:"scope" enum:"overall,dept,project,grade" required:"false"`
		ScopeID  string `query:"scope_id" required:"false"`
	}
	agg := risk.Aggregator{Source: e.Repo}

	huma.Register(api, huma.Operation{
		OperationID: "risk-overview",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/risk/overview",
		Summary:     "Tenant risk overview",
	}, func(ctx context.Context, input *riskQuery) (*struct {
		Body RiskSnapshotResponse `json:"body"`
	}, error) {
		snap, err := agg.Aggregate(ctx, input.TenantID, input.Scope, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RiskSnapshotResponse `json:"body"`
		}{Body: snapshotResponse(snap)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "risk-drivers",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/risk/drivers",
		Summary:     "Ranked attrition drivers",
	}, func(ctx context.Context, input *riskQuery) (*struct {
		Body DriversResponse `json:"body"`
	}, error) {
		snap, err := agg.Aggregate(ctx, input.TenantID, input.Scope, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DriversResponse `json:"body"`
		}{Body: DriversResponse{Items: nonNilSlice(snap.Drivers)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "risk-hotspots",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/risk/hotspots",
		Summary:     "Department hotspots",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
	}) (*struct {
		Body HotspotsResponse `json:"body"`
	}, error) {
		hotspots, err := e.Repo.Hotspots(ctx, input.TenantID)
		if err != nil {
			return nil, handleError(fmt.Errorf("%w: hotspots: %v", risk.ErrDataUnavailable, err))
		}
		return &struct {
			Body HotspotsResponse `json:"body"`
		}{Body: HotspotsResponse{Items: nonNilSlice(hotspots)}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/tasks",
		Summary:     "List generated tasks",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Limit    int    `query:"limit" required:"false"`
	}) (*struct {
		Body TasksResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetTenant(ctx, input.TenantID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, input.TenantID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := TasksResponse{Items: make([]TaskResponse, 0, len(tasks))}
		for _, t := range tasks {
			res.Items = append(res.Items, taskResponse(t))
		}
		return &struct {
			Body TasksResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/tenants/{tenant_id}/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		TenantID string `path:"tenant_id"`
		Limit    int    `query:"limit" required:"false"`
		After    int64  `query:"after" required:"false"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		events, err := e.Repo.ListEvents(ctx, input.TenantID, limit, input.After)
		if err != nil {
			return nil, handleError(err)
		}
		res := EventsResponse{Items: make([]EventResponse, 0, len(events))}
		for _, evt := range events {
			res.Items = append(res.Items, eventResponse(evt))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: res}, nil
	})
}
