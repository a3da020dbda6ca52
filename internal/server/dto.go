package server

import (
	"encoding/json"
	"fmt"

	"retainline/internal/domain"
	"retainline/internal/engine"
	"retainline/internal/risk"
)

// Request payloads

type GenerateRequest struct {
	TenantID string `json:"tenant_id"`
	Scope    string `json:"scope,omitempty" enum:"overall,dept,project,grade" required:"false"`
	ScopeID  string `json:"scope_id,omitempty" required:"false"`
}

type CreateTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty" required:"false"`
}

type UpsertDepartmentRequest struct {
	ID     string `json:"id"`
	NameEn string `json:"name_en"`
	NameAr string `json:"name_ar,omitempty" required:"false"`
}

func (r UpsertDepartmentRequest) toDomain(tenantID string) domain.Department {
	return domain.Department{
		ID:       r.ID,
		TenantID: tenantID,
		NameEn:   r.NameEn,
		NameAr:   r.NameAr,
	}
}

type SignalRequest struct {
	EmployeeID   string  `json:"employee_id"`
	DepartmentID string  `json:"department_id,omitempty" required:"false"`
	ProjectID    string  `json:"project_id,omitempty" required:"false"`
	Grade        string  `json:"grade,omitempty" required:"false"`
	Driver       string  `json:"driver" enum:"compensation,manager_relationship,workload,career_growth,work_life_balance,recognition"`
	Score        float64 `json:"score" minimum:"0" maximum:"100"`
	RecordedAt   string  `json:"recorded_at,omitempty" format:"date-time" required:"false"`
}

type IngestSignalsRequest struct {
	Signals []SignalRequest `json:"signals"`
}

// Response payloads

type GenerateResponse struct {
	Success          bool   `json:"success"`
	ActionsGenerated int    `json:"actions_generated"`
	TasksCreated     int    `json:"tasks_created"`
	TasksDeduped     int    `json:"tasks_deduped"`
	TasksFailed      int    `json:"tasks_failed"`
	Message          string `json:"message"`
}

type TenantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DepartmentResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	NameEn   string `json:"name_en"`
	NameAr   string `json:"name_ar,omitempty"`
}

type IngestSignalsResponse struct {
	Ingested int `json:"ingested"`
}

type RiskSnapshotResponse struct {
	TenantID string                     `json:"tenant_id"`
	Scope    string                     `json:"scope" enum:"overall,dept,project,grade"`
	ScopeID  string                     `json:"scope_id,omitempty"`
	Overview *domain.RiskOverview       `json:"overview"`
	Drivers  []domain.RiskDriver        `json:"drivers"`
	Hotspots []domain.DepartmentHotspot `json:"hotspots"`
}

type DriversResponse struct {
	Items []domain.RiskDriver `json:"items"`
}

type HotspotsResponse struct {
	Items []domain.DepartmentHotspot `json:"items"`
}

type TaskResponse struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Module      string         `json:"module"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    string         `json:"priority" enum:"high,med,low"`
	OwnerRole   string         `json:"owner_role"`
	PlanKey     *string        `json:"plan_key,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type TasksResponse struct {
	Items []TaskResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type EventsResponse struct {
	Items []EventResponse `json:"items"`
}

// Conversion helpers

func generateResponse(res engine.GenerateResult) GenerateResponse {
	return GenerateResponse{
		Success:          true,
		ActionsGenerated: res.ActionsGenerated,
		TasksCreated:     res.TasksCreated,
		TasksDeduped:     res.TasksDeduped,
		TasksFailed:      res.TasksFailed,
		Message:          fmt.Sprintf("generated %d retention actions (%d tasks created)", res.ActionsGenerated, res.TasksCreated),
	}
}

func snapshotResponse(snap risk.Snapshot) RiskSnapshotResponse {
	return RiskSnapshotResponse{
		TenantID: snap.TenantID,
		Scope:    string(snap.Scope),
		ScopeID:  snap.ScopeID,
		Overview: snap.Overview,
		Drivers:  nonNilSlice(snap.Drivers),
		Hotspots: nonNilSlice(snap.Hotspots),
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		TenantID:    t.TenantID,
		Module:      t.Module,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		OwnerRole:   t.OwnerRole,
		PlanKey:     t.PlanKey,
		Metadata:    decodeJSONMap(t.MetadataJSON),
		CreatedAt:   t.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		TenantID:   e.TenantID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
