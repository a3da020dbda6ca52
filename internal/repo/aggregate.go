package repo

import (
	"context"
	"database/sql"
	"sort"

	"retainline/internal/domain"
)

// The aggregation queries collapse raw signals to the latest row per
// (employee, driver) pair, then roll those up. Per-employee risk is the
// mean of the employee's latest per-driver scores.

const latestSignalsCTE = `
latest AS (
    SELECT s.id, s.employee_id, s.department_id, s.project_id, s.grade, s.driver, s.score
    FROM risk_signals s
    JOIN (
        SELECT employee_id, driver, MAX(id) AS max_id
        FROM risk_signals
        WHERE tenant_id=?
        GROUP BY employee_id, driver
    ) m ON s.id = m.max_id
)`

func scopeClause(scope domain.Scope) string {
	switch scope {
	case domain.ScopeDept:
		return " WHERE department_id=?"
	case domain.ScopeProject:
		return " WHERE project_id=?"
	case domain.ScopeGrade:
		return " WHERE grade=?"
	}
	return ""
}

func scopeArgs(tenantID string, scope domain.Scope, scopeID string) []any {
	args := []any{tenantID}
	if scope != domain.ScopeOverall && scope != "" {
		args = append(args, scopeID)
	}
	return args
}

// Overview computes the tenant-wide (or scoped) risk summary. Returns
// nil when no signals exist for the scope.
func (r Repo) Overview(ctx context.Context, tenantID string, scope domain.Scope, scopeID string) (*domain.RiskOverview, error) {
	b := r.bands()
	query := `WITH ` + latestSignalsCTE + `,
emp AS (
    SELECT employee_id, AVG(score) AS risk
    FROM latest` + scopeClause(scope) + `
    GROUP BY employee_id
)
SELECT COUNT(*),
       COALESCE(AVG(risk), 0),
       COALESCE(100.0 * SUM(CASE WHEN risk >= ? THEN 1 ELSE 0 END) / COUNT(*), 0),
       COALESCE(100.0 * SUM(CASE WHEN risk >= ? AND risk < ? THEN 1 ELSE 0 END) / COUNT(*), 0),
       COALESCE(100.0 * SUM(CASE WHEN risk < ? THEN 1 ELSE 0 END) / COUNT(*), 0)
FROM emp`
	args := scopeArgs(tenantID, scope, scopeID)
	args = append(args, b.High, b.Medium, b.High, b.Medium)
	var o domain.RiskOverview
	err := r.DB.QueryRowContext(ctx, query, args...).
		Scan(&o.TotalEmployees, &o.AvgRisk, &o.HighRiskPct, &o.MediumRiskPct, &o.LowRiskPct)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if o.TotalEmployees == 0 {
		return nil, nil
	}
	return &o, nil
}

// Drivers returns contributing factors ordered by contribution descending.
// Contribution is the driver's share of the total at-risk score weight;
// drivers affecting nobody are omitted.
func (r Repo) Drivers(ctx context.Context, tenantID string, scope domain.Scope, scopeID string) ([]domain.RiskDriver, error) {
	b := r.bands()
	query := `WITH ` + latestSignalsCTE + `
SELECT driver,
       COUNT(DISTINCT CASE WHEN score >= ? THEN employee_id END),
       COALESCE(SUM(CASE WHEN score >= ? THEN score ELSE 0 END), 0)
FROM latest` + scopeClause(scope) + `
GROUP BY driver`
	args := scopeArgs(tenantID, scope, scopeID)
	// threshold args precede the scope filter in query order
	full := []any{args[0], b.DriverAffectedMin, b.DriverAffectedMin}
	full = append(full, args[1:]...)
	rows, err := r.DB.QueryContext(ctx, query, full...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	type weighted struct {
		driver   string
		affected int
		weight   float64
	}
	var all []weighted
	var totalWeight float64
	for rows.Next() {
		var w weighted
		if err := rows.Scan(&w.driver, &w.affected, &w.weight); err != nil {
			return nil, err
		}
		if w.affected == 0 {
			continue
		}
		totalWeight += w.weight
		all = append(all, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.RiskDriver, 0, len(all))
	for _, w := range all {
		contribution := 0.0
		if totalWeight > 0 {
			contribution = 100.0 * w.weight / totalWeight
		}
		res = append(res, domain.RiskDriver{
			Driver:          domain.Driver(w.driver),
			Name:            domain.Driver(w.driver).Display(),
			AffectedCount:   w.affected,
			ContributionPct: contribution,
		})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].ContributionPct > res[j].ContributionPct })
	return res, nil
}

// Hotspots rolls up per-department risk across the whole tenant. An
// employee belongs to the department on their most recent signal.
func (r Repo) Hotspots(ctx context.Context, tenantID string) ([]domain.DepartmentHotspot, error) {
	b := r.bands()
	query := `WITH ` + latestSignalsCTE + `,
emp AS (
    SELECT l.employee_id,
           AVG(l.score) AS risk,
           (SELECT l2.department_id FROM latest l2 WHERE l2.employee_id = l.employee_id ORDER BY l2.id DESC LIMIT 1) AS department_id
    FROM latest l
    GROUP BY l.employee_id
)
SELECT d.id, d.name_en, COALESCE(d.name_ar, ''),
       COUNT(*),
       AVG(e.risk),
       100.0 * SUM(CASE WHEN e.risk >= ? THEN 1 ELSE 0 END) / COUNT(*)
FROM emp e
JOIN departments d ON d.id = e.department_id
GROUP BY d.id, d.name_en, d.name_ar
ORDER BY AVG(e.risk) DESC`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, b.High)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DepartmentHotspot
	for rows.Next() {
		var h domain.DepartmentHotspot
		if err := rows.Scan(&h.DepartmentID, &h.NameEn, &h.NameAr, &h.EmployeeCount, &h.AvgRisk, &h.PctHigh); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
