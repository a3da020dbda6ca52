package risk

import (
	"context"
	"errors"
	"testing"

	"retainline/internal/domain"
)

type fakeSource struct {
	overview    *domain.RiskOverview
	overviewErr error
	drivers     []domain.RiskDriver
	driversErr  error
	hotspots    []domain.DepartmentHotspot
	hotspotsErr error

	gotScope   domain.Scope
	gotScopeID string
}

func (f *fakeSource) Overview(_ context.Context, _ string, scope domain.Scope, scopeID string) (*domain.RiskOverview, error) {
	f.gotScope = scope
	f.gotScopeID = scopeID
	return f.overview, f.overviewErr
}

func (f *fakeSource) Drivers(context.Context, string, domain.Scope, string) ([]domain.RiskDriver, error) {
	return f.drivers, f.driversErr
}

func (f *fakeSource) Hotspots(context.Context, string) ([]domain.DepartmentHotspot, error) {
	return f.hotspots, f.hotspotsErr
}

func TestAggregateRequiresTenant(t *testing.T) {
	_, err := Aggregator{Source: &fakeSource{}}.Aggregate(context.Background(), "", "overall", "")
	if !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
}

func TestAggregateScopeDefaultsToOverall(t *testing.T) {
	src := &fakeSource{overview: &domain.RiskOverview{TotalEmployees: 1}}
	snap, err := Aggregator{Source: src}.Aggregate(context.Background(), "acme", "", "ignored")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if snap.Scope != domain.ScopeOverall {
		t.Fatalf("scope %q", snap.Scope)
	}
	// overall aggregation never carries a scope id
	if snap.ScopeID != "" || src.gotScopeID != "" {
		t.Fatalf("scope id leaked: %q %q", snap.ScopeID, src.gotScopeID)
	}
}

func TestAggregateRejectsUnknownScope(t *testing.T) {
	_, err := Aggregator{Source: &fakeSource{}}.Aggregate(context.Background(), "acme", "region", "")
	if err == nil {
		t.Fatalf("expected scope error")
	}
}

func TestAggregateScopedPassesThrough(t *testing.T) {
	src := &fakeSource{}
	snap, err := Aggregator{Source: src}.Aggregate(context.Background(), "acme", "dept", "eng")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if src.gotScope != domain.ScopeDept || src.gotScopeID != "eng" {
		t.Fatalf("source saw %q %q", src.gotScope, src.gotScopeID)
	}
	if snap.Overview != nil {
		t.Fatalf("expected nil overview for empty scope")
	}
}

func TestAggregateWrapsSourceFailures(t *testing.T) {
	boom := errors.New("disk on fire")
	for _, src := range []*fakeSource{
		{overviewErr: boom},
		{driversErr: boom},
		{hotspotsErr: boom},
	} {
		_, err := Aggregator{Source: src}.Aggregate(context.Background(), "acme", "overall", "")
		if !errors.Is(err, ErrDataUnavailable) {
			t.Fatalf("expected ErrDataUnavailable, got %v", err)
		}
	}
}
