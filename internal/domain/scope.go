package domain

import "fmt"

// Scope narrows an aggregation to a slice of the tenant's workforce.
type Scope string

const (
	ScopeOverall Scope = "overall"
	ScopeDept    Scope = "dept"
	ScopeProject Scope = "project"
	ScopeGrade   Scope = "grade"
)

// ParseScope maps the wire value onto a Scope, defaulting empty to overall.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "":
		return ScopeOverall, nil
	case ScopeOverall, ScopeDept, ScopeProject, ScopeGrade:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}
