package model

import (
	"context"
	"strings"
)

// Boat capabilities.
const (
	CapSettingsView   = "settings:view"
	CapSettingsEdit   = "settings:edit"
	CapReservoirsView = "reservoirs:view"
	CapReservoirsEdit = "reservoirs:edit"
	CapBoatManage     = "boat:manage"
)

// CapabilitySet is a set of capabilities granted to a user for one boat. Keys
// may include wildcards (e.g. "settings:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities.
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"          matches anything
//	"settings:*" matches "settings:edit"
//	"settings"   does NOT match "settings:edit"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(cap, pattern[:len(pattern)-1])
}

// CapabilityResolver resolves what a user may do with a boat.
type CapabilityResolver interface {
	Resolve(ctx context.Context, rctx *RequestContext, boatID string) (CapabilitySet, error)

	// Invalidate clears cached capabilities for a boat. An empty subjectID
	// clears every subject's entry for that boat.
	Invalidate(subjectID, boatID string)
}
