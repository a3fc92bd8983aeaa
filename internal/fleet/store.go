package fleet

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/runferry/portal/model"
)

// Store persists fleet data. Lookups of missing records return a NOT_FOUND
// envelope. Implementations must be safe for concurrent use.
type Store interface {
	GetBoat(ctx context.Context, id string) (Boat, error)
	PutBoat(ctx context.Context, b Boat) error

	// Link records ownership; linking twice is not an error.
	Link(ctx context.Context, l Link) error
	Unlink(ctx context.Context, userID, boatID string) error
	LinksByUser(ctx context.Context, userID string) ([]Link, error)
	LinksByBoat(ctx context.Context, boatID string) ([]Link, error)

	// ListReservoirs returns a boat's reservoirs sorted by number.
	ListReservoirs(ctx context.Context, boatID string) ([]Reservoir, error)
	GetReservoir(ctx context.Context, id string) (Reservoir, error)
	UpdateReservoir(ctx context.Context, r Reservoir) error
	// CreateReservoir stores r under the next free number of its boat
	// together with points, renumbered from 1.
	CreateReservoir(ctx context.Context, r Reservoir, points []Point) (Reservoir, error)

	// ListPoints returns a reservoir's points sorted by number.
	ListPoints(ctx context.Context, reservoirID string) ([]Point, error)
	GetPoint(ctx context.Context, id string) (Point, error)
	// CreatePoint stores p as number max+1 and bumps the reservoir's
	// pointsCount.
	CreatePoint(ctx context.Context, p Point) (Point, error)
	UpdatePoint(ctx context.Context, p Point) error
	// DeletePoint removes a point and decrements pointsCount, never below 0.
	DeletePoint(ctx context.Context, id string) error

	// ListDeliveries returns deliveries to any of pointIDs, newest first.
	ListDeliveries(ctx context.Context, pointIDs []string) ([]Delivery, error)
	AddDelivery(ctx context.Context, d Delivery) error

	PutShare(ctx context.Context, s Share) error
	GetShare(ctx context.Context, key string) (Share, error)
	// PurgeShares deletes shares that expired before cutoff.
	PurgeShares(ctx context.Context, cutoff time.Time) (int, error)

	ListDistributors(ctx context.Context) ([]Distributor, error)
	PutDistributor(ctx context.Context, d Distributor) error
	// GetAccess returns the boat's grant, or an empty grant if none exists.
	GetAccess(ctx context.Context, boatID string) (Access, error)
	PutAccess(ctx context.Context, a Access) error
	AccessByDistributor(ctx context.Context, distributorID string) ([]Access, error)
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	boats        map[string]Boat
	links        map[string]Link // key: userID + "|" + boatID
	reservoirs   map[string]Reservoir
	points       map[string]Point
	deliveries   map[string]Delivery
	shares       map[string]Share
	distributors map[string]Distributor
	access       map[string]Access
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boats:        make(map[string]Boat),
		links:        make(map[string]Link),
		reservoirs:   make(map[string]Reservoir),
		points:       make(map[string]Point),
		deliveries:   make(map[string]Delivery),
		shares:       make(map[string]Share),
		distributors: make(map[string]Distributor),
		access:       make(map[string]Access),
	}
}

func linkKey(userID, boatID string) string { return userID + "|" + boatID }

// GetBoat returns a boat by ID.
func (s *MemoryStore) GetBoat(_ context.Context, id string) (Boat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boats[id]
	if !ok {
		return Boat{}, model.NewNotFoundError(fmt.Sprintf("boat %q not found", id))
	}
	return b, nil
}

// PutBoat inserts or replaces a boat.
func (s *MemoryStore) PutBoat(_ context.Context, b Boat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boats[b.ID] = b
	return nil
}

// Link records ownership of a boat.
func (s *MemoryStore) Link(_ context.Context, l Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(l.UserID, l.BoatID)
	if _, ok := s.links[key]; ok {
		return nil
	}
	s.links[key] = l
	return nil
}

// Unlink removes ownership of a boat.
func (s *MemoryStore) Unlink(_ context.Context, userID, boatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(userID, boatID)
	if _, ok := s.links[key]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("boat %q is not linked", boatID))
	}
	delete(s.links, key)
	return nil
}

// LinksByUser returns a user's boats, oldest link first.
func (s *MemoryStore) LinksByUser(_ context.Context, userID string) ([]Link, error) {
	return s.filterLinks(func(l Link) bool { return l.UserID == userID }), nil
}

// LinksByBoat returns a boat's owners, oldest link first.
func (s *MemoryStore) LinksByBoat(_ context.Context, boatID string) ([]Link, error) {
	return s.filterLinks(func(l Link) bool { return l.BoatID == boatID }), nil
}

func (s *MemoryStore) filterLinks(match func(Link) bool) []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Link{}
	for _, l := range s.links {
		if match(l) {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b Link) int {
		return cmp.Or(a.LinkedAt.Compare(b.LinkedAt), cmp.Compare(a.BoatID, b.BoatID))
	})
	return out
}

// ListReservoirs returns a boat's reservoirs sorted by number.
func (s *MemoryStore) ListReservoirs(_ context.Context, boatID string) ([]Reservoir, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Reservoir{}
	for _, r := range s.reservoirs {
		if r.BoatID == boatID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Reservoir) int { return cmp.Compare(a.Number, b.Number) })
	return out, nil
}

// GetReservoir returns a reservoir by ID.
func (s *MemoryStore) GetReservoir(_ context.Context, id string) (Reservoir, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservoirs[id]
	if !ok {
		return Reservoir{}, model.NewNotFoundError(fmt.Sprintf("reservoir %q not found", id))
	}
	return r, nil
}

// UpdateReservoir replaces an existing reservoir.
func (s *MemoryStore) UpdateReservoir(_ context.Context, r Reservoir) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservoirs[r.ID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("reservoir %q not found", r.ID))
	}
	s.reservoirs[r.ID] = r
	return nil
}

// CreateReservoir stores a reservoir and its points.
func (s *MemoryStore) CreateReservoir(_ context.Context, r Reservoir, points []Point) (Reservoir, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservoirs[r.ID]; ok {
		return Reservoir{}, model.NewConflictError(fmt.Sprintf("reservoir %q already exists", r.ID))
	}
	next := 0
	for _, existing := range s.reservoirs {
		if existing.BoatID == r.BoatID && existing.Number > next {
			next = existing.Number
		}
	}
	r.Number = next + 1
	r.PointsCount = len(points)
	s.reservoirs[r.ID] = r
	for i, p := range points {
		p.ReservoirID = r.ID
		p.Number = i + 1
		s.points[p.ID] = p
	}
	return r, nil
}

// ListPoints returns a reservoir's points sorted by number.
func (s *MemoryStore) ListPoints(_ context.Context, reservoirID string) ([]Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pointsOf(reservoirID), nil
}

func (s *MemoryStore) pointsOf(reservoirID string) []Point {
	out := []Point{}
	for _, p := range s.points {
		if p.ReservoirID == reservoirID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Point) int { return cmp.Compare(a.Number, b.Number) })
	return out
}

// GetPoint returns a point by ID.
func (s *MemoryStore) GetPoint(_ context.Context, id string) (Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[id]
	if !ok {
		return Point{}, model.NewNotFoundError(fmt.Sprintf("point %q not found", id))
	}
	return p, nil
}

// CreatePoint stores p as the reservoir's next point.
func (s *MemoryStore) CreatePoint(_ context.Context, p Point) (Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservoirs[p.ReservoirID]
	if !ok {
		return Point{}, model.NewNotFoundError(fmt.Sprintf("reservoir %q not found", p.ReservoirID))
	}
	last := 0
	for _, existing := range s.points {
		if existing.ReservoirID == p.ReservoirID && existing.Number > last {
			last = existing.Number
		}
	}
	p.Number = last + 1
	s.points[p.ID] = p
	r.PointsCount++
	s.reservoirs[r.ID] = r
	return p, nil
}

// UpdatePoint replaces an existing point.
func (s *MemoryStore) UpdatePoint(_ context.Context, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[p.ID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("point %q not found", p.ID))
	}
	s.points[p.ID] = p
	return nil
}

// DeletePoint removes a point.
func (s *MemoryStore) DeletePoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[id]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("point %q not found", id))
	}
	delete(s.points, id)
	if r, ok := s.reservoirs[p.ReservoirID]; ok {
		r.PointsCount = max(0, r.PointsCount-1)
		s.reservoirs[r.ID] = r
	}
	return nil
}

// ListDeliveries returns deliveries to pointIDs, newest first.
func (s *MemoryStore) ListDeliveries(_ context.Context, pointIDs []string) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Delivery{}
	for _, d := range s.deliveries {
		if slices.Contains(pointIDs, d.PointID) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Delivery) int {
		return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// AddDelivery records a delivery.
func (s *MemoryStore) AddDelivery(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[d.PointID]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("point %q not found", d.PointID))
	}
	s.deliveries[d.ID] = d
	return nil
}

// PutShare stores a share.
func (s *MemoryStore) PutShare(_ context.Context, sh Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[sh.Key]; ok {
		return model.NewConflictError("share key already in use")
	}
	s.shares[sh.Key] = sh
	return nil
}

// GetShare returns a share by key, expired or not.
func (s *MemoryStore) GetShare(_ context.Context, key string) (Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shares[key]
	if !ok {
		return Share{}, model.NewNotFoundError("Share link not found or expired")
	}
	return sh, nil
}

// PurgeShares deletes shares that expired before cutoff.
func (s *MemoryStore) PurgeShares(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, sh := range s.shares {
		if sh.ExpiresAt.Before(cutoff) {
			delete(s.shares, key)
			n++
		}
	}
	return n, nil
}

// ListDistributors returns all distributors sorted by name.
func (s *MemoryStore) ListDistributors(_ context.Context) ([]Distributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Distributor, 0, len(s.distributors))
	for _, d := range s.distributors {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Distributor) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// PutDistributor inserts or replaces a distributor.
func (s *MemoryStore) PutDistributor(_ context.Context, d Distributor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distributors[d.ID] = d
	return nil
}

// GetAccess returns a boat's distributor grant.
func (s *MemoryStore) GetAccess(_ context.Context, boatID string) (Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.access[boatID]; ok {
		return a, nil
	}
	return Access{BoatID: boatID}, nil
}

// PutAccess replaces a boat's grant. An empty DistributorID revokes it.
func (s *MemoryStore) PutAccess(_ context.Context, a Access) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.DistributorID == "" {
		delete(s.access, a.BoatID)
		return nil
	}
	s.access[a.BoatID] = a
	return nil
}

// AccessByDistributor returns the grants held by a distributor.
func (s *MemoryStore) AccessByDistributor(_ context.Context, distributorID string) ([]Access, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Access{}
	for _, a := range s.access {
		if a.DistributorID == distributorID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Access) int { return cmp.Compare(a.BoatID, b.BoatID) })
	return out, nil
}
