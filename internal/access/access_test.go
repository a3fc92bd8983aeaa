package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/fleet"
	"github.com/runferry/portal/model"
)

type fakeGrants struct {
	owners      map[string]bool
	grants      map[string]fleet.Access
	err         error
	ownerCalls  int
	accessCalls int
}

func (f *fakeGrants) IsOwner(_ context.Context, userID, boatID string) (bool, error) {
	f.ownerCalls++
	if f.err != nil {
		return false, f.err
	}
	return f.owners[userID+"|"+boatID], nil
}

func (f *fakeGrants) GetAccess(_ context.Context, boatID string) (*fleet.Access, error) {
	f.accessCalls++
	a := f.grants[boatID]
	a.BoatID = boatID
	return &a, nil
}

type counter struct{ hits, misses int }

func (c *counter) RecordCapabilityCacheHit()  { c.hits++ }
func (c *counter) RecordCapabilityCacheMiss() { c.misses++ }

func newGrants() *fakeGrants {
	return &fakeGrants{
		owners: map[string]bool{"owner-1|RF100001": true},
		grants: map[string]fleet.Access{
			"RF100001": {DistributorID: "dist-kyiv", Permissions: fleet.Permissions{EditSettings: true}},
			"RF100002": {DistributorID: "dist-kyiv", Permissions: fleet.Permissions{ViewReservoirs: true}},
		},
	}
}

func TestResolver_owner(t *testing.T) {
	r := NewResolver(newGrants(), config.AccessConfig{})
	caps, err := r.Resolve(context.Background(), &model.RequestContext{SubjectID: "owner-1", Roles: []string{model.RoleUser}}, "RF100001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !caps.HasAll(model.CapSettingsEdit, model.CapReservoirsEdit, model.CapBoatManage) {
		t.Errorf("owner caps = %v, want everything", caps)
	}
}

func TestResolver_developer(t *testing.T) {
	g := newGrants()
	r := NewResolver(g, config.AccessConfig{})
	caps, err := r.Resolve(context.Background(), &model.RequestContext{SubjectID: "dev-1", Roles: []string{model.RoleDeveloper}}, "RF999999")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !caps.Has(model.CapBoatManage) {
		t.Errorf("developer caps = %v, want *", caps)
	}
	if g.ownerCalls != 0 {
		t.Errorf("ownerCalls = %d, want 0 for a developer", g.ownerCalls)
	}
}

func TestResolver_distributor(t *testing.T) {
	r := NewResolver(newGrants(), config.AccessConfig{})
	ctx := context.Background()
	dist := &model.RequestContext{SubjectID: "d-1", DistributorID: "dist-kyiv", Roles: []string{model.RoleDistributor}}

	caps, err := r.Resolve(ctx, dist, "RF100001")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !caps.HasAll(model.CapSettingsView, model.CapSettingsEdit) {
		t.Errorf("editSettings should imply settings:view and settings:edit, got %v", caps)
	}
	if caps.HasAny(model.CapReservoirsView, model.CapBoatManage) {
		t.Errorf("unexpected caps %v", caps)
	}

	caps, _ = r.Resolve(ctx, dist, "RF100002")
	if !caps.Has(model.CapReservoirsView) || caps.Has(model.CapSettingsView) {
		t.Errorf("viewReservoirs caps = %v", caps)
	}

	other := &model.RequestContext{SubjectID: "d-2", DistributorID: "dist-lviv", Roles: []string{model.RoleDistributor}}
	caps, _ = r.Resolve(ctx, other, "RF100001")
	if len(caps) != 0 {
		t.Errorf("other distributor caps = %v, want none", caps)
	}

	noRole := &model.RequestContext{SubjectID: "u-1", DistributorID: "dist-kyiv", Roles: []string{model.RoleUser}}
	caps, _ = r.Resolve(ctx, noRole, "RF100001")
	if len(caps) != 0 {
		t.Errorf("distributor ID without the role should grant nothing, got %v", caps)
	}
}

func TestResolver_cacheAndInvalidate(t *testing.T) {
	g := newGrants()
	rec := &counter{}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(g, config.AccessConfig{Cache: config.CacheConfig{TTL: time.Minute}},
		WithRecorder(rec),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	owner := &model.RequestContext{SubjectID: "owner-1"}
	dist := &model.RequestContext{SubjectID: "d-1", DistributorID: "dist-kyiv", Roles: []string{model.RoleDistributor}}

	r.Resolve(ctx, owner, "RF100001")
	r.Resolve(ctx, owner, "RF100001")
	if g.ownerCalls != 1 || rec.hits != 1 || rec.misses != 1 {
		t.Fatalf("ownerCalls = %d hits = %d misses = %d, want 1/1/1", g.ownerCalls, rec.hits, rec.misses)
	}

	r.Resolve(ctx, dist, "RF100001")
	r.Invalidate("owner-1", "RF100001")
	r.Resolve(ctx, dist, "RF100001")
	if g.accessCalls != 1 {
		t.Errorf("accessCalls = %d, want 1 (subject invalidation keeps other subjects)", g.accessCalls)
	}
	r.Resolve(ctx, owner, "RF100001")
	if g.ownerCalls != 3 {
		t.Errorf("ownerCalls = %d, want 3", g.ownerCalls)
	}

	r.Invalidate("", "RF100001")
	r.Resolve(ctx, dist, "RF100001")
	if g.accessCalls != 2 {
		t.Errorf("accessCalls = %d after boat invalidation, want 2", g.accessCalls)
	}

	now = now.Add(2 * time.Minute)
	r.Resolve(ctx, dist, "RF100001")
	if g.accessCalls != 3 {
		t.Errorf("accessCalls = %d after TTL, want 3", g.accessCalls)
	}
}

func TestResolver_storeError(t *testing.T) {
	g := newGrants()
	g.err = errors.New("db down")
	r := NewResolver(g, config.AccessConfig{})

	_, err := r.Resolve(context.Background(), &model.RequestContext{SubjectID: "u"}, "RF100001")
	if !model.HasCode(err, model.ErrFetchFailed) {
		t.Fatalf("err = %v, want FETCH_FAILED", err)
	}

	g.err = nil
	caps, _ := r.Resolve(context.Background(), &model.RequestContext{SubjectID: "owner-1"}, "RF100001")
	if !caps.Has("*") {
		t.Error("errors must not be cached")
	}
}

func TestRolePolicy(t *testing.T) {
	p, err := LoadRolePolicy("testdata/policies.yaml")
	if err != nil {
		t.Fatalf("LoadRolePolicy() error = %v", err)
	}
	caps := p.Capabilities(&model.RequestContext{Roles: []string{"support"}})
	if !caps.HasAll(model.CapSettingsView, model.CapReservoirsView) || caps.Has(model.CapSettingsEdit) {
		t.Errorf("support caps = %v", caps)
	}

	r := NewResolver(newGrants(), config.AccessConfig{}, WithPolicy(p))
	caps, _ = r.Resolve(context.Background(), &model.RequestContext{SubjectID: "s-1", Roles: []string{"support"}}, "RF100002")
	if !caps.Has(model.CapSettingsView) {
		t.Errorf("role policy caps missing from resolver result: %v", caps)
	}

	if _, err := LoadRolePolicy("testdata/nonexistent.yaml"); err == nil {
		t.Error("expected error for missing policy file")
	}
}

func TestFromPermissions(t *testing.T) {
	caps := FromPermissions(fleet.Permissions{ViewSettings: true, ViewReservoirs: true})
	if len(caps) != 2 || !caps.HasAll(model.CapSettingsView, model.CapReservoirsView) {
		t.Errorf("FromPermissions() = %v", caps)
	}
	if len(FromPermissions(fleet.Permissions{})) != 0 {
		t.Error("no permissions should map to no capabilities")
	}
}
