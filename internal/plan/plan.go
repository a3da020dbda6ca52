// Package plan maps an aggregated risk snapshot onto candidate action
// plans through a fixed, ordered rule table. Pure function of its inputs.
package plan

import (
	"fmt"

	"retainline/internal/domain"
)

const (
	PriorityHigh = "high"
	PriorityMed  = "med"
	PriorityLow  = "low"
)

// Rules holds the thresholds the table evaluates against.
type Rules struct {
	// EmergencyHighPct triggers the emergency review when the high-risk
	// share strictly exceeds it.
	EmergencyHighPct float64
	// HotspotAvgRisk triggers a per-department intervention when the
	// department average strictly exceeds it.
	HotspotAvgRisk float64
	// MaxActions caps the emitted list, counted in emission order.
	MaxActions int
}

func DefaultRules() Rules {
	return Rules{EmergencyHighPct: 15, HotspotAvgRisk: 70, MaxActions: 5}
}

// Build evaluates the rule table in fixed order: emergency threshold, top
// driver, hotspot fan-out, then the two standing actions. The result is
// truncated to MaxActions in emission order, not re-sorted by priority;
// the emergency rule always lands first when it fires, so a later
// high-priority rule can never displace it.
//
// Missing upstream data degrades: a nil overview skips rule 1, an empty
// driver list skips rule 2, and the standing actions always remain.
func Build(rules Rules, overview *domain.RiskOverview, drivers []domain.RiskDriver, hotspots []domain.DepartmentHotspot) []domain.ActionPlan {
	var plans []domain.ActionPlan

	if overview != nil && overview.HighRiskPct > rules.EmergencyHighPct {
		plans = append(plans, domain.ActionPlan{
			Title: "Emergency Retention Review",
			Description: fmt.Sprintf(
				"%.0f%% of employees are in the high risk band against an average risk of %.0f. Convene an immediate retention review with department leadership.",
				overview.HighRiskPct, overview.AvgRisk),
			Priority: PriorityHigh,
			Evidence: map[string]any{
				"avg_risk":             overview.AvgRisk,
				"high_risk_percentage": overview.HighRiskPct,
			},
		})
	}

	if len(drivers) > 0 {
		if p, ok := topDriverPlan(drivers[0]); ok {
			plans = append(plans, p)
		}
	}

	for _, h := range hotspots {
		if h.AvgRisk <= rules.HotspotAvgRisk {
			continue
		}
		plans = append(plans, domain.ActionPlan{
			Title: h.NameEn + " Department Intervention",
			Description: fmt.Sprintf(
				"The %s department averages %.0f risk across %d employees (%.0f%% high risk). Run a focused intervention with its management line.",
				h.NameEn, h.AvgRisk, h.EmployeeCount, h.PctHigh),
			Priority: PriorityHigh,
			Evidence: map[string]any{
				"department_id":      h.DepartmentID,
				"department_name_en": h.NameEn,
				"department_name_ar": h.NameAr,
				"avg_risk":           h.AvgRisk,
				"pct_high":           h.PctHigh,
				"employee_count":     h.EmployeeCount,
			},
		})
	}

	plans = append(plans,
		domain.ActionPlan{
			Title:       "Monthly Retention Pulse Survey",
			Description: "Run a short monthly pulse survey to track retention sentiment before it shows up in attrition numbers.",
			Priority:    PriorityMed,
			Evidence:    map[string]any{"action_type": "proactive_monitoring"},
		},
		domain.ActionPlan{
			Title:       "Manager Retention Training Program",
			Description: "Enroll people managers in an ongoing retention training program covering stay interviews and early warning signs.",
			Priority:    PriorityMed,
			Evidence:    map[string]any{"action_type": "capability_building"},
		},
	)

	max := rules.MaxActions
	if max <= 0 {
		max = DefaultRules().MaxActions
	}
	if len(plans) > max {
		plans = plans[:max]
	}
	return plans
}

// topDriverPlan inspects only the highest-contribution driver. The switch
// is exhaustive over the driver vocabulary so a new driver forces an
// explicit mapping decision here.
func topDriverPlan(d domain.RiskDriver) (domain.ActionPlan, bool) {
	switch d.Driver {
	case domain.DriverCompensation:
		return domain.ActionPlan{
			Title: "Compensation Review Initiative",
			Description: fmt.Sprintf(
				"Compensation is the top attrition driver, affecting %d employees and contributing %.1f%% of total risk. Benchmark pay bands and prioritize adjustments for the affected group.",
				d.AffectedCount, d.ContributionPct),
			Priority: PriorityHigh,
			Evidence: map[string]any{
				"driver":                  string(d.Driver),
				"affected_count":          d.AffectedCount,
				"contribution_percentage": d.ContributionPct,
			},
		}, true
	case domain.DriverManagerRelationship:
		return domain.ActionPlan{
			Title: "Manager Training Program",
			Description: fmt.Sprintf(
				"Manager relationships are the top attrition driver, affecting %d employees and contributing %.1f%% of total risk. Launch targeted coaching for the managers involved.",
				d.AffectedCount, d.ContributionPct),
			Priority: PriorityHigh,
			Evidence: map[string]any{
				"driver":                  string(d.Driver),
				"affected_count":          d.AffectedCount,
				"contribution_percentage": d.ContributionPct,
			},
		}, true
	case domain.DriverWorkload, domain.DriverCareerGrowth, domain.DriverWorkLifeBalance, domain.DriverRecognition:
		// No dedicated initiative yet; covered by the standing actions.
		return domain.ActionPlan{}, false
	}
	return domain.ActionPlan{}, false
}
