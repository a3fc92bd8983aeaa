// Package access resolves what a user may do with a boat from boat
// ownership, distributor grants, and role policy, and caches the result.
package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/fleet"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/model"
)

const defaultTTL = time.Minute

// Grants answers ownership and distributor grant questions.
// *fleet.Service satisfies it.
type Grants interface {
	IsOwner(ctx context.Context, userID, boatID string) (bool, error)
	GetAccess(ctx context.Context, boatID string) (*fleet.Access, error)
}

// Recorder receives capability cache metrics. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordCapabilityCacheHit()
	RecordCapabilityCacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) RecordCapabilityCacheHit()  {}
func (nopRecorder) RecordCapabilityCacheMiss() {}

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	grants   Grants
	policy   *RolePolicy
	ttl      time.Duration
	recorder Recorder
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRecorder sets the cache metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithPolicy replaces the default role policy.
func WithPolicy(p *RolePolicy) Option {
	return func(r *Resolver) {
		if p != nil {
			r.policy = p
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver backed by grants.
func NewResolver(grants Grants, cfg config.AccessConfig, opts ...Option) *Resolver {
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	r := &Resolver{
		grants:   grants,
		policy:   DefaultRolePolicy(),
		ttl:      ttl,
		recorder: nopRecorder{},
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cacheKey(subjectID, boatID string) string {
	return boatID + "|" + subjectID
}

// Resolve returns the capabilities of rctx on boatID. Results are cached
// for the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, rctx *model.RequestContext, boatID string) (caps model.CapabilitySet, err error) {
	key := cacheKey(rctx.SubjectID, boatID)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		r.mu.RUnlock()
		r.recorder.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.recorder.RecordCapabilityCacheMiss()

	ctx, span := observability.StartSpan(ctx, "access.resolve",
		observability.AttrBoatID.String(boatID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	caps, err = r.resolve(ctx, rctx, boatID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return caps, nil
}

func (r *Resolver) resolve(ctx context.Context, rctx *model.RequestContext, boatID string) (model.CapabilitySet, error) {
	caps := r.policy.Capabilities(rctx)
	if caps.Has("*") {
		return caps, nil
	}

	owner, err := r.grants.IsOwner(ctx, rctx.SubjectID, boatID)
	if err != nil {
		return nil, model.Wrap(err, model.ErrFetchFailed, "Failed to resolve boat access")
	}
	if owner {
		return model.CapabilitySet{"*": true}, nil
	}

	if !rctx.HasRole(model.RoleDistributor) || rctx.DistributorID == "" {
		return caps, nil
	}
	grant, err := r.grants.GetAccess(ctx, boatID)
	if err != nil {
		return nil, model.Wrap(err, model.ErrFetchFailed, "Failed to resolve boat access")
	}
	if grant.DistributorID != rctx.DistributorID {
		return caps, nil
	}
	for c := range FromPermissions(grant.Permissions) {
		caps[c] = true
	}
	return caps, nil
}

// FromPermissions maps a distributor grant to capabilities. Editing
// settings implies viewing them.
func FromPermissions(p fleet.Permissions) model.CapabilitySet {
	caps := model.CapabilitySet{}
	if p.ViewSettings || p.EditSettings {
		caps[model.CapSettingsView] = true
	}
	if p.EditSettings {
		caps[model.CapSettingsEdit] = true
	}
	if p.ViewReservoirs {
		caps[model.CapReservoirsView] = true
	}
	return caps
}

// Invalidate clears cached capabilities of subjectID on boatID. An empty
// subjectID clears every subject of the boat.
func (r *Resolver) Invalidate(subjectID, boatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subjectID != "" {
		delete(r.cache, cacheKey(subjectID, boatID))
		return
	}
	prefix := cacheKey("", boatID)
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
}

var _ model.CapabilityResolver = (*Resolver)(nil)
