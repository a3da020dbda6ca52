// Package risk shapes raw tenant signals into the aggregate view the
// action-plan rules consume: one overview, a ranked driver list, and the
// per-department hotspots.
package risk

import (
	"context"
	"errors"
	"fmt"

	"retainline/internal/domain"
)

// ErrTenantRequired rejects aggregation requests without a tenant id.
var ErrTenantRequired = errors.New("tenant id is required")

// ErrDataUnavailable wraps any data source read failure.
var ErrDataUnavailable = errors.New("risk data unavailable")

// DataSource is the read-only aggregation capability. The statistical
// rollups behind it (averaging, banding) are the source's concern.
type DataSource interface {
	Overview(ctx context.Context, tenantID string, scope domain.Scope, scopeID string) (*domain.RiskOverview, error)
	Drivers(ctx context.Context, tenantID string, scope domain.Scope, scopeID string) ([]domain.RiskDriver, error)
	Hotspots(ctx context.Context, tenantID string) ([]domain.DepartmentHotspot, error)
}

// Snapshot is one aggregation result. Overview is nil when the scope has
// no signals; downstream stages degrade rather than fail on that.
type Snapshot struct {
	TenantID string
	Scope    domain.Scope
	ScopeID  string
	Overview *domain.RiskOverview
	Drivers  []domain.RiskDriver
	Hotspots []domain.DepartmentHotspot
}

type Aggregator struct {
	Source DataSource
}

// Aggregate reads the three result sets for a tenant. Scope defaults to
// overall; scopeID is ignored unless the scope narrows.
func (a Aggregator) Aggregate(ctx context.Context, tenantID, scope, scopeID string) (Snapshot, error) {
	if tenantID == "" {
		return Snapshot{}, ErrTenantRequired
	}
	sc, err := domain.ParseScope(scope)
	if err != nil {
		return Snapshot{}, err
	}
	if sc == domain.ScopeOverall {
		scopeID = ""
	}
	snap := Snapshot{TenantID: tenantID, Scope: sc, ScopeID: scopeID}

	snap.Overview, err = a.Source.Overview(ctx, tenantID, sc, scopeID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: overview: %v", ErrDataUnavailable, err)
	}
	snap.Drivers, err = a.Source.Drivers(ctx, tenantID, sc, scopeID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: drivers: %v", ErrDataUnavailable, err)
	}
	snap.Hotspots, err = a.Source.Hotspots(ctx, tenantID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: hotspots: %v", ErrDataUnavailable, err)
	}
	return snap, nil
}
