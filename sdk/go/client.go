package retainlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Retainline HTTP API client.
type Client struct {
	BaseURL     string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// Signal is one incoming risk signal.
type Signal struct {
	EmployeeID   string  `json:"employee_id"`
	DepartmentID string  `json:"department_id,omitempty"`
	ProjectID    string  `json:"project_id,omitempty"`
	Grade        string  `json:"grade,omitempty"`
	Driver       string  `json:"driver"`
	Score        float64 `json:"score"`
	RecordedAt   string  `json:"recorded_at,omitempty"`
}

// GenerateResult reports one plan-generation run.
type GenerateResult struct {
	Success          bool   `json:"success"`
	ActionsGenerated int    `json:"actions_generated"`
	TasksCreated     int    `json:"tasks_created"`
	TasksDeduped     int    `json:"tasks_deduped"`
	TasksFailed      int    `json:"tasks_failed"`
	Message          string `json:"message"`
}

// Overview is the scoped risk summary.
type Overview struct {
	AvgRisk        float64 `json:"avg_risk"`
	HighRiskPct    float64 `json:"high_risk_percentage"`
	MediumRiskPct  float64 `json:"medium_risk_percentage"`
	LowRiskPct     float64 `json:"low_risk_percentage"`
	TotalEmployees int     `json:"total_employees"`
}

// RiskSnapshot bundles the overview with drivers and hotspots.
type RiskSnapshot struct {
	TenantID string    `json:"tenant_id"`
	Scope    string    `json:"scope"`
	ScopeID  string    `json:"scope_id,omitempty"`
	Overview *Overview `json:"overview"`
	Drivers  []Driver  `json:"drivers"`
	Hotspots []Hotspot `json:"hotspots"`
}

// Driver is one ranked attrition driver.
type Driver struct {
	Name            string  `json:"driver_name"`
	AffectedCount   int     `json:"affected_count"`
	ContributionPct float64 `json:"contribution_percentage"`
}

// Hotspot is one department rollup.
type Hotspot struct {
	DepartmentID  string  `json:"department_id"`
	NameEn        string  `json:"department_name_en"`
	NameAr        string  `json:"department_name_ar,omitempty"`
	EmployeeCount int     `json:"employee_count"`
	AvgRisk       float64 `json:"avg_risk"`
	PctHigh       float64 `json:"pct_high"`
}

// Task is one generated retention task (partial).
type Task struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Module      string         `json:"module"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    string         `json:"priority"`
	OwnerRole   string         `json:"owner_role"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// Event is one audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GeneratePlans runs the pipeline for the client's tenant.
func (c *Client) GeneratePlans(ctx context.Context, scope, scopeID string) (GenerateResult, error) {
	body := map[string]any{"tenant_id": c.TenantID}
	if scope != "" {
		body["scope"] = scope
	}
	if scopeID != "" {
		body["scope_id"] = scopeID
	}
	var resp GenerateResult
	err := c.do(ctx, http.MethodPost, "v1/plans/generate", body, &resp)
	return resp, err
}

// IngestSignals submits a batch of risk signals.
func (c *Client) IngestSignals(ctx context.Context, signals []Signal) (int, error) {
	var resp struct {
		Ingested int `json:"ingested"`
	}
	err := c.do(ctx, http.MethodPost, c.tenantPath("signals"), map[string]any{"signals": signals}, &resp)
	return resp.Ingested, err
}

// RiskOverview returns the scoped risk snapshot.
func (c *Client) RiskOverview(ctx context.Context, scope, scopeID string) (RiskSnapshot, error) {
	endpoint := c.tenantPath("risk/overview")
	if q := scopeQuery(scope, scopeID); q != "" {
		endpoint += "?" + q
	}
	var resp RiskSnapshot
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RiskDrivers returns ranked attrition drivers.
func (c *Client) RiskDrivers(ctx context.Context, scope, scopeID string) ([]Driver, error) {
	endpoint := c.tenantPath("risk/drivers")
	if q := scopeQuery(scope, scopeID); q != "" {
		endpoint += "?" + q
	}
	var resp struct {
		Items []Driver `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// RiskHotspots returns per-department rollups.
func (c *Client) RiskHotspots(ctx context.Context) ([]Hotspot, error) {
	var resp struct {
		Items []Hotspot `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.tenantPath("risk/hotspots"), nil, &resp)
	return resp.Items, err
}

// Tasks lists generated tasks, most recent first.
func (c *Client) Tasks(ctx context.Context, limit int) ([]Task, error) {
	endpoint := c.tenantPath("tasks")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.tenantPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func scopeQuery(scope, scopeID string) string {
	v := url.Values{}
	if scope != "" {
		v.Set("scope", scope)
	}
	if scopeID != "" {
		v.Set("scope_id", scopeID)
	}
	return v.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	tenant := url.PathEscape(c.TenantID)
	return fmt.Sprintf("v1/tenants/%s/%s", tenant, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
