package domain

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Department struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	NameEn   string `json:"name_en"`
	NameAr   string `json:"name_ar,omitempty"`
}

// RiskSignal is one persisted input row. Aggregation only sees the latest
// signal per (employee, driver) pair.
type RiskSignal struct {
	ID           int64   `json:"id"`
	TenantID     string  `json:"tenant_id"`
	EmployeeID   string  `json:"employee_id"`
	DepartmentID string  `json:"department_id,omitempty"`
	ProjectID    string  `json:"project_id,omitempty"`
	Grade        string  `json:"grade,omitempty"`
	Driver       string  `json:"driver"`
	Score        float64 `json:"score" minimum:"0" maximum:"100"`
	RecordedAt   string  `json:"recorded_at" format:"date-time"`
}

// RiskOverview is a computed view, never persisted. The three band
// percentages sum to ~100 modulo rounding.
type RiskOverview struct {
	AvgRisk        float64 `json:"avg_risk"`
	HighRiskPct    float64 `json:"high_risk_percentage"`
	MediumRiskPct  float64 `json:"medium_risk_percentage"`
	LowRiskPct     float64 `json:"low_risk_percentage"`
	TotalEmployees int     `json:"total_employees"`
}

// RiskDriver is one ranked contributing factor. Lists are ordered by
// ContributionPct descending; AffectedCount never exceeds the overview's
// TotalEmployees.
type RiskDriver struct {
	Driver          Driver  `json:"-"`
	Name            string  `json:"driver_name"`
	AffectedCount   int     `json:"affected_count"`
	ContributionPct float64 `json:"contribution_percentage"`
}

type DepartmentHotspot struct {
	DepartmentID  string  `json:"department_id"`
	NameEn        string  `json:"department_name_en"`
	NameAr        string  `json:"department_name_ar,omitempty"`
	EmployeeCount int     `json:"employee_count"`
	AvgRisk       float64 `json:"avg_risk"`
	PctHigh       float64 `json:"pct_high"`
}

// ActionPlan is an in-memory candidate recommendation; only its
// materialized form (a Task) is persisted.
type ActionPlan struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    string         `json:"priority" enum:"high,med,low"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

type Task struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	Module       string  `json:"module"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Priority     string  `json:"priority" enum:"high,med,low"`
	OwnerRole    string  `json:"owner_role"`
	PlanKey      *string `json:"plan_key,omitempty"`
	MetadataJSON *string `json:"metadata_json,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
