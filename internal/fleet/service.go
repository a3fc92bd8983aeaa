package fleet

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/model"
)

const (
	defaultShareTTL = 7 * 24 * time.Hour
	shareKeyLength  = 12
	shareKeyChars   = "0123456789abcdefghijklmnopqrstuvwxyz"
	shareKeyRetries = 3
)

// dummyHash is compared against for unknown boats.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("runferry-unknown-boat"), bcrypt.DefaultCost)

// AccessInvalidator drops cached capabilities when ownership or grants
// change. An empty subjectID covers every subject of the boat.
type AccessInvalidator interface {
	Invalidate(subjectID, boatID string)
}

// Recorder receives fleet metrics. *observability.Metrics satisfies it.
type Recorder interface {
	RecordSharesPurged(n int)
}

// InvalidatorFunc adapts a function to AccessInvalidator.
type InvalidatorFunc func(subjectID, boatID string)

// Invalidate calls f.
func (f InvalidatorFunc) Invalidate(subjectID, boatID string) { f(subjectID, boatID) }

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(string, string) {}

type nopRecorder struct{}

func (nopRecorder) RecordSharesPurged(int) {}

// Service implements the fleet operations on top of a Store.
type Service struct {
	store       Store
	shareTTL    time.Duration
	now         func() time.Time
	newID       func() string
	invalidator AccessInvalidator
	recorder    Recorder
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithInvalidator sets the capability cache invalidator.
func WithInvalidator(inv AccessInvalidator) Option {
	return func(s *Service) {
		if inv != nil {
			s.invalidator = inv
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a fleet service.
func NewService(store Store, cfg config.FleetConfig, opts ...Option) *Service {
	ttl := cfg.ShareTTL
	if ttl <= 0 {
		ttl = defaultShareTTL
	}
	s := &Service{
		store:       store,
		shareTTL:    ttl,
		now:         time.Now,
		newID:       uuid.NewString,
		invalidator: nopInvalidator{},
		recorder:    nopRecorder{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// HashPassword returns the bcrypt hash stored for a boat password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyBoat checks a boat's credentials. Unknown boats and wrong passwords
// both answer {valid: false}.
func (s *Service) VerifyBoat(ctx context.Context, rawID, password string) (*VerifyResult, error) {
	id, err := NormalizeBoatID(rawID)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, model.NewMissingFieldError("password")
	}

	boat, err := s.store.GetBoat(ctx, id)
	if model.HasCode(err, model.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return &VerifyResult{Valid: false}, nil
	}
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to verify boat")
	}
	if bcrypt.CompareHashAndPassword([]byte(boat.PasswordHash), []byte(password)) != nil {
		return &VerifyResult{Valid: false}, nil
	}
	info := boat.Info()
	return &VerifyResult{Valid: true, BoatInfo: &info}, nil
}

// LinkBoat makes the user an owner of a boat after checking its password.
func (s *Service) LinkBoat(ctx context.Context, rctx *model.RequestContext, rawID, password string) (*BoatInfo, error) {
	res, err := s.VerifyBoat(ctx, rawID, password)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, model.NewForbiddenError("Invalid boat ID or password")
	}
	link := Link{UserID: rctx.SubjectID, Email: rctx.Email, BoatID: res.BoatInfo.ID, LinkedAt: s.now().UTC()}
	if err := s.store.Link(ctx, link); err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrUpdateFailed, "Failed to link boat")
	}
	s.invalidator.Invalidate(rctx.SubjectID, link.BoatID)
	observability.RequestLogger(ctx, s.logger).Info("fleet: boat linked", zap.String("boat_id", link.BoatID))
	return res.BoatInfo, nil
}

// UnlinkBoat removes the user's ownership of a boat.
func (s *Service) UnlinkBoat(ctx context.Context, rctx *model.RequestContext, rawID string) error {
	id, err := NormalizeBoatID(rawID)
	if err != nil {
		return err
	}
	if err := s.store.Unlink(ctx, rctx.SubjectID, id); err != nil {
		return s.storeFailed(ctx, err, model.ErrDeleteFailed, "Failed to unlink boat")
	}
	s.invalidator.Invalidate(rctx.SubjectID, id)
	return nil
}

// ListLinkedBoats returns the boats the user owns.
func (s *Service) ListLinkedBoats(ctx context.Context, userID string) ([]BoatInfo, error) {
	links, err := s.store.LinksByUser(ctx, userID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch boats")
	}
	out := make([]BoatInfo, 0, len(links))
	for _, l := range links {
		b, err := s.store.GetBoat(ctx, l.BoatID)
		if model.HasCode(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch boats")
		}
		out = append(out, b.Info())
	}
	return out, nil
}

// IsOwner reports whether the user has linked the boat.
func (s *Service) IsOwner(ctx context.Context, userID, boatID string) (bool, error) {
	links, err := s.store.LinksByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, l := range links {
		if l.BoatID == boatID {
			return true, nil
		}
	}
	return false, nil
}

// ListReservoirs returns a boat's reservoirs sorted by number.
func (s *Service) ListReservoirs(ctx context.Context, boatID string) ([]Reservoir, error) {
	out, err := s.store.ListReservoirs(ctx, boatID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch reservoirs")
	}
	return out, nil
}

// RenameReservoir renames the boat's reservoir with the given number.
func (s *Service) RenameReservoir(ctx context.Context, boatID string, number int, rawName string) (*Reservoir, error) {
	name, err := CleanName("name", rawName)
	if err != nil {
		return nil, err
	}
	list, err := s.ListReservoirs(ctx, boatID)
	if err != nil {
		return nil, err
	}
	for _, r := range list {
		if r.Number != number {
			continue
		}
		r.Name = name
		if err := s.store.UpdateReservoir(ctx, r); err != nil {
			return nil, s.storeFailed(ctx, err, model.ErrUpdateFailed, "Failed to rename reservoir")
		}
		return &r, nil
	}
	return nil, model.NewNotFoundError("Reservoir not found")
}

// reservoir loads a reservoir and checks it belongs to boatID.
func (s *Service) reservoir(ctx context.Context, boatID, reservoirID string) (Reservoir, error) {
	r, err := s.store.GetReservoir(ctx, reservoirID)
	if err != nil {
		return Reservoir{}, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch reservoir")
	}
	if r.BoatID != boatID {
		return Reservoir{}, model.NewNotFoundError("Reservoir not found")
	}
	return r, nil
}

// point loads a point and checks it belongs to the boat's reservoir.
func (s *Service) point(ctx context.Context, boatID, reservoirID, pointID string) (Point, error) {
	if _, err := s.reservoir(ctx, boatID, reservoirID); err != nil {
		return Point{}, err
	}
	p, err := s.store.GetPoint(ctx, pointID)
	if err != nil {
		return Point{}, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch point")
	}
	if p.ReservoirID != reservoirID {
		return Point{}, model.NewNotFoundError("Point not found")
	}
	return p, nil
}

// ListPoints returns a reservoir's points sorted by number.
func (s *Service) ListPoints(ctx context.Context, boatID, reservoirID string) ([]Point, error) {
	if _, err := s.reservoir(ctx, boatID, reservoirID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPoints(ctx, reservoirID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch points")
	}
	return out, nil
}

// PointInput describes a new point.
type PointInput struct {
	Name        string   `json:"name"`
	Coordinates LatLng   `json:"coordinates"`
	Depth       *float64 `json:"depth,omitempty"`
}

// CreatePoint adds a point with the next number.
func (s *Service) CreatePoint(ctx context.Context, boatID, reservoirID string, in PointInput) (*Point, error) {
	name, err := CleanName("name", in.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidateCoordinates(in.Coordinates); err != nil {
		return nil, err
	}
	if _, err := s.reservoir(ctx, boatID, reservoirID); err != nil {
		return nil, err
	}
	p, err := s.store.CreatePoint(ctx, Point{
		ID:          s.newID(),
		ReservoirID: reservoirID,
		Name:        name,
		Coordinates: in.Coordinates,
		Depth:       in.Depth,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrCreateFailed, "Failed to create point")
	}
	return &p, nil
}

// PointPatch is a partial point update.
type PointPatch struct {
	Name        *string  `json:"name,omitempty"`
	Coordinates *LatLng  `json:"coordinates,omitempty"`
	Depth       *float64 `json:"depth,omitempty"`
}

// UpdatePoint applies a partial update.
func (s *Service) UpdatePoint(ctx context.Context, boatID, reservoirID, pointID string, patch PointPatch) (*Point, error) {
	p, err := s.point(ctx, boatID, reservoirID, pointID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name, err := CleanName("name", *patch.Name)
		if err != nil {
			return nil, err
		}
		p.Name = name
	}
	if patch.Coordinates != nil {
		if err := ValidateCoordinates(*patch.Coordinates); err != nil {
			return nil, err
		}
		p.Coordinates = *patch.Coordinates
	}
	if patch.Depth != nil {
		p.Depth = patch.Depth
	}
	if err := s.store.UpdatePoint(ctx, p); err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrUpdateFailed, "Failed to update point")
	}
	return &p, nil
}

// DeletePoint removes a point.
func (s *Service) DeletePoint(ctx context.Context, boatID, reservoirID, pointID string) error {
	if _, err := s.point(ctx, boatID, reservoirID, pointID); err != nil {
		return err
	}
	if err := s.store.DeletePoint(ctx, pointID); err != nil {
		return s.storeFailed(ctx, err, model.ErrDeleteFailed, "Failed to delete point")
	}
	return nil
}

// ListDeliveries returns a point's deliveries, newest first.
func (s *Service) ListDeliveries(ctx context.Context, boatID, reservoirID, pointID string) ([]Delivery, error) {
	if _, err := s.point(ctx, boatID, reservoirID, pointID); err != nil {
		return nil, err
	}
	out, err := s.store.ListDeliveries(ctx, []string{pointID})
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch deliveries")
	}
	return out, nil
}

// ListReservoirDeliveries returns the deliveries to every point of a
// reservoir, newest first.
func (s *Service) ListReservoirDeliveries(ctx context.Context, boatID, reservoirID string) ([]Delivery, error) {
	points, err := s.ListPoints(ctx, boatID, reservoirID)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return []Delivery{}, nil
	}
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	out, err := s.store.ListDeliveries(ctx, ids)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch deliveries")
	}
	return out, nil
}

// DeliveryInput describes a finished delivery run reported by a boat.
type DeliveryInput struct {
	Timestamp time.Time      `json:"timestamp"`
	Duration  int            `json:"duration"`
	Distance  float64        `json:"distance"`
	Status    DeliveryStatus `json:"status"`
}

// RecordDelivery stores a delivery run to a point.
func (s *Service) RecordDelivery(ctx context.Context, boatID, reservoirID, pointID string, in DeliveryInput) (*Delivery, error) {
	if !in.Status.Valid() {
		return nil, model.NewError(model.ErrInvalidValue, "status must be completed, aborted or failed").
			WithMeta("allowed", []DeliveryStatus{DeliveryCompleted, DeliveryAborted, DeliveryFailed})
	}
	if in.Duration < 0 || in.Distance < 0 {
		return nil, model.NewError(model.ErrInvalidValue, "duration and distance must not be negative")
	}
	if _, err := s.point(ctx, boatID, reservoirID, pointID); err != nil {
		return nil, err
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	d := Delivery{
		ID:        s.newID(),
		PointID:   pointID,
		Timestamp: ts.UTC(),
		Duration:  in.Duration,
		Distance:  in.Distance,
		Status:    in.Status,
	}
	if err := s.store.AddDelivery(ctx, d); err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrCreateFailed, "Failed to record delivery")
	}
	return &d, nil
}

// ShareReservoir freezes a reservoir into a share link.
func (s *Service) ShareReservoir(ctx context.Context, boatID, reservoirID string) (*Share, error) {
	r, err := s.reservoir(ctx, boatID, reservoirID)
	if err != nil {
		return nil, err
	}
	points, err := s.store.ListPoints(ctx, reservoirID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch points")
	}
	snapshot := SharedReservoirData{Name: r.Name, BasePoint: r.BasePoint, Points: make([]SharedPoint, len(points))}
	for i, p := range points {
		snapshot.Points[i] = SharedPoint{Name: p.Name, Coordinates: p.Coordinates, Depth: p.Depth}
	}

	for attempt := 0; ; attempt++ {
		key, err := newShareKey()
		if err != nil {
			return nil, model.NewInternalError()
		}
		sh := Share{Key: key, ReservoirID: reservoirID, Snapshot: snapshot, ExpiresAt: s.now().Add(s.shareTTL).UTC()}
		err = s.store.PutShare(ctx, sh)
		if err == nil {
			return &sh, nil
		}
		if !model.HasCode(err, model.ErrConflict) || attempt+1 >= shareKeyRetries {
			return nil, s.storeFailed(ctx, err, model.ErrCreateFailed, "Failed to generate share link")
		}
	}
}

// GetShared returns a live share. Missing and expired links are NOT_FOUND.
func (s *Service) GetShared(ctx context.Context, key string) (*Share, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil, model.NewMissingFieldError("shareKey")
	}
	sh, err := s.store.GetShare(ctx, key)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch shared reservoir")
	}
	if !s.now().Before(sh.ExpiresAt) {
		return nil, model.NewNotFoundError("Share link not found or expired")
	}
	return &sh, nil
}

// ImportShared copies a shared reservoir and its points into a boat under
// the boat's next reservoir number.
func (s *Service) ImportShared(ctx context.Context, boatID, key string) (*Reservoir, error) {
	sh, err := s.GetShared(ctx, key)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	points := make([]Point, len(sh.Snapshot.Points))
	for i, sp := range sh.Snapshot.Points {
		points[i] = Point{
			ID:          s.newID(),
			Name:        sp.Name,
			Coordinates: sp.Coordinates,
			Depth:       sp.Depth,
			CreatedAt:   now,
		}
	}
	r, err := s.store.CreateReservoir(ctx, Reservoir{
		ID:        s.newID(),
		BoatID:    boatID,
		Name:      sh.Snapshot.Name,
		BasePoint: sh.Snapshot.BasePoint,
	}, points)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrCreateFailed, "Failed to import reservoir")
	}
	return &r, nil
}

// PurgeExpiredShares deletes expired share links.
func (s *Service) PurgeExpiredShares(ctx context.Context) (int, error) {
	n, err := s.store.PurgeShares(ctx, s.now())
	if err != nil {
		return 0, s.storeFailed(ctx, err, model.ErrDeleteFailed, "Failed to purge shares")
	}
	s.recorder.RecordSharesPurged(n)
	return n, nil
}

// ListDistributors returns all distributors.
func (s *Service) ListDistributors(ctx context.Context) ([]Distributor, error) {
	out, err := s.store.ListDistributors(ctx)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch distributors")
	}
	return out, nil
}

// GetAccess returns the distributor grant of a boat.
func (s *Service) GetAccess(ctx context.Context, boatID string) (*Access, error) {
	a, err := s.store.GetAccess(ctx, boatID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch access settings")
	}
	return &a, nil
}

// UpdateAccess replaces the distributor grant of a boat. An empty
// distributor ID revokes distributor access.
func (s *Service) UpdateAccess(ctx context.Context, boatID string, a Access) (*Access, error) {
	a.BoatID = boatID
	if a.DistributorID != "" {
		list, err := s.ListDistributors(ctx)
		if err != nil {
			return nil, err
		}
		known := false
		for _, d := range list {
			if d.ID == a.DistributorID {
				known = true
				break
			}
		}
		if !known {
			return nil, model.NewNotFoundError("Distributor not found")
		}
	} else {
		a.Permissions = Permissions{}
	}
	if err := s.store.PutAccess(ctx, a); err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrUpdateFailed, "Failed to update access settings")
	}
	s.invalidator.Invalidate("", boatID)
	return &a, nil
}

// ListDistributorBoats returns the boats shared with a distributor.
func (s *Service) ListDistributorBoats(ctx context.Context, distributorID string) ([]DistributorBoat, error) {
	grants, err := s.store.AccessByDistributor(ctx, distributorID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch distributor boats")
	}
	out := make([]DistributorBoat, 0, len(grants))
	for _, g := range grants {
		db := DistributorBoat{
			ID:            distributorID + ":" + g.BoatID,
			DistributorID: distributorID,
			BoatID:        g.BoatID,
			Permissions:   g.Permissions,
		}
		if b, err := s.store.GetBoat(ctx, g.BoatID); err == nil {
			db.BoatName = b.Name
		}
		if owners, err := s.store.LinksByBoat(ctx, g.BoatID); err == nil && len(owners) > 0 {
			db.OwnerEmail = owners[0].Email
		}
		out = append(out, db)
	}
	return out, nil
}

// storeFailed passes envelopes such as NOT_FOUND through and wraps other
// store errors under code.
func (s *Service) storeFailed(ctx context.Context, err error, code, msg string) error {
	if _, ok := model.AsEnvelope(err); ok {
		return err
	}
	observability.RequestLogger(ctx, s.logger).Error("fleet: store error", zap.String("code", code), zap.Error(err))
	return model.NewError(code, msg).WithCause(err)
}

// newShareKey returns shareKeyLength random base-36 characters.
func newShareKey() (string, error) {
	buf := make([]byte, shareKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = shareKeyChars[int(b)%len(shareKeyChars)]
	}
	return string(buf), nil
}
