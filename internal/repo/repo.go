package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"retainline/internal/domain"
)

type Repo struct {
	DB    *sql.DB
	Bands Bands
}

// Bands holds the scoring thresholds the aggregation queries apply.
type Bands struct {
	High              float64
	Medium            float64
	DriverAffectedMin float64
}

func DefaultBands() Bands {
	return Bands{High: 70, Medium: 40, DriverAffectedMin: 60}
}

var ErrNotFound = errors.New("not found")

// ErrDuplicatePlanKey marks a task insert rejected by the idempotency index.
var ErrDuplicatePlanKey = errors.New("duplicate plan key")

func (r Repo) bands() Bands {
	if r.Bands == (Bands{}) {
		return DefaultBands()
	}
	return r.Bands
}

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,name,status,created_at) VALUES (?,?,?,?)`,
		t.ID, t.Name, t.Status, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) SingleTenant(ctx context.Context) (domain.Tenant, error) {
	tenants, err := r.ListTenants(ctx)
	if err != nil {
		return domain.Tenant{}, err
	}
	if len(tenants) == 0 {
		return domain.Tenant{}, ErrNotFound
	}
	if len(tenants) > 1 {
		return domain.Tenant{}, fmt.Errorf("multiple tenants exist; specify --tenant")
	}
	return tenants[0], nil
}

func (r Repo) UpsertDepartment(ctx context.Context, d domain.Department) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO departments(id,tenant_id,name_en,name_ar) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name_en=excluded.name_en, name_ar=excluded.name_ar`,
		d.ID, d.TenantID, d.NameEn, nullable(d.NameAr))
	return err
}

func (r Repo) ListDepartments(ctx context.Context, tenantID string) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,name_en,COALESCE(name_ar,'') FROM departments WHERE tenant_id=? ORDER BY name_en`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.TenantID, &d.NameEn, &d.NameAr); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertSignal(ctx context.Context, tx *sql.Tx, s domain.RiskSignal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO risk_signals(tenant_id,employee_id,department_id,project_id,grade,driver,score,recorded_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.TenantID, s.EmployeeID, nullable(s.DepartmentID), nullable(s.ProjectID), nullable(s.Grade), s.Driver, s.Score, s.RecordedAt)
	return err
}

func (r Repo) CountSignals(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_signals WHERE tenant_id=?`, tenantID).Scan(&n)
	return n, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,tenant_id,module,title,description,priority,owner_role,plan_key,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TenantID, t.Module, t.Title, nullable(t.Description), t.Priority, t.OwnerRole, nullableStringPtr(t.PlanKey), nullableStringPtr(t.MetadataJSON), t.CreatedAt)
	if err != nil && t.PlanKey != nil && isUniqueViolation(err) {
		return ErrDuplicatePlanKey
	}
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var desc sql.NullString
	var planKey, metadata sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,module,title,COALESCE(description,''),priority,owner_role,plan_key,metadata_json,created_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.TenantID, &t.Module, &t.Title, &desc, &t.Priority, &t.OwnerRole, &planKey, &metadata, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	if planKey.Valid {
		t.PlanKey = &planKey.String
	}
	if metadata.Valid {
		t.MetadataJSON = &metadata.String
	}
	return t, nil
}

func (r Repo) ListTasks(ctx context.Context, tenantID string, limit int) ([]domain.Task, error) {
	query := `SELECT id,tenant_id,module,title,COALESCE(description,''),priority,owner_role,plan_key,metadata_json,created_at FROM tasks WHERE tenant_id=? ORDER BY created_at DESC, id DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var planKey, metadata sql.NullString
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Module, &t.Title, &t.Description, &t.Priority, &t.OwnerRole, &planKey, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		if planKey.Valid {
			t.PlanKey = &planKey.String
		}
		if metadata.Valid {
			t.MetadataJSON = &metadata.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListEvents(ctx context.Context, tenantID string, limit int, afterID int64) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if tenantID != "" {
		clauses = append(clauses, "tenant_id=?")
		args = append(args, tenantID)
	}
	if afterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, afterID)
	}
	query := `SELECT id,ts,type,COALESCE(tenant_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.TenantID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
