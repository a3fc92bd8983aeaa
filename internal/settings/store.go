package settings

import (
	"context"
	"sync"
)

// ValuesStore persists per-boat setting values.
type ValuesStore interface {
	// Get returns the stored values of a boat. A boat without values yields
	// an empty map, not an error.
	Get(ctx context.Context, boatID string) (Values, error)

	// Set stores one value, replacing any previous value.
	Set(ctx context.Context, boatID string, settingID, value int) error

	// Revert undoes a Set of expected: while the stored value still equals
	// expected it is replaced by *previous, or removed when previous is nil.
	// reverted is false when another write got there first.
	Revert(ctx context.Context, boatID string, settingID, expected int, previous *int) (reverted bool, err error)
}

// MemoryStore is an in-memory ValuesStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]Values
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]Values)}
}

// Get returns a copy of the boat's values.
func (s *MemoryStore) Get(_ context.Context, boatID string) (Values, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[boatID].Clone(), nil
}

// Set stores one value.
func (s *MemoryStore) Set(_ context.Context, boatID string, settingID, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[boatID]
	if !ok {
		v = make(Values)
		s.values[boatID] = v
	}
	v[settingID] = value
	return nil
}

// Revert undoes a Set of expected under the store lock.
func (s *MemoryStore) Revert(_ context.Context, boatID string, settingID, expected int, previous *int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[boatID]
	if cur, ok := v[settingID]; !ok || cur != expected {
		return false, nil
	}
	if previous != nil {
		v[settingID] = *previous
	} else {
		delete(v, settingID)
	}
	return true, nil
}
