package settings

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/runferry/portal/internal/cache"
	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/model"
)

// SchemaSource fetches schemas from the settings backend.
type SchemaSource interface {
	FetchSchema(ctx context.Context, q SchemaQuery) ([]Group, error)
}

// Pusher writes values to the settings backend.
type Pusher interface {
	PushValue(ctx context.Context, boatID string, settingID, value int) error
}

// Recorder receives update outcomes. *observability.Metrics satisfies it.
type Recorder interface {
	RecordSettingsUpdate(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSettingsUpdate(string) {}

// Update outcomes.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Service combines schema fetching, value persistence and reconciliation.
type Service struct {
	source   SchemaSource
	pusher   Pusher
	store    ValuesStore
	schemas  *cache.TTL[[]Group]
	cfg      config.SettingsConfig
	recorder Recorder
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPusher enables pushing updates to the settings backend.
func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCacheRecorder reports schema cache hits and misses.
func WithCacheRecorder(r cache.HitRecorder) Option {
	return func(s *Service) {
		s.schemas = cache.New[[]Group]("settings_schema", s.cfg.SchemaCache, r)
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

// NewService creates a settings service.
func NewService(source SchemaSource, store ValuesStore, cfg config.SettingsConfig, opts ...Option) *Service {
	if cfg.DefaultLocalization == "" {
		cfg.DefaultLocalization = DefaultLocalization
	}
	if cfg.DefaultChipType == "" {
		cfg.DefaultChipType = "chip_type"
	}
	s := &Service{
		source:   source,
		store:    store,
		cfg:      cfg,
		schemas:  cache.New[[]Group]("settings_schema", cfg.SchemaCache, nil),
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) withDefaults(q SchemaQuery) SchemaQuery {
	if q.Localization == "" {
		q.Localization = s.cfg.DefaultLocalization
	}
	if q.ChipType == "" {
		q.ChipType = s.cfg.DefaultChipType
	}
	return q
}

// Schema returns the settings schema for a chip, from cache when possible.
func (s *Service) Schema(ctx context.Context, q SchemaQuery) (groups []Group, err error) {
	if q.ChipID == "" {
		return nil, model.NewError(model.ErrMissingChipID, "chipId is required")
	}
	q = s.withDefaults(q)

	ctx, span := observability.StartSpan(ctx, "settings.schema",
		observability.AttrChipID.String(q.ChipID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	key := q.cacheKey()
	if cached, ok := s.schemas.Get(key); ok {
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		return cached, nil
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	groups, err = s.source.FetchSchema(ctx, q)
	if err != nil {
		observability.RequestLogger(ctx, s.logger).Warn("settings: schema fetch failed",
			zap.String("chip_id", q.ChipID),
			zap.Error(err),
		)
		return nil, err
	}
	s.schemas.Put(key, groups)
	return groups, nil
}

// InvalidateSchema drops every cached schema of a chip.
func (s *Service) InvalidateSchema(chipID string) {
	s.schemas.InvalidatePrefix("schema:" + chipID + ":")
}

// Values returns the stored values of a boat.
func (s *Service) Values(ctx context.Context, boatID string) (Values, error) {
	values, err := s.store.Get(ctx, boatID)
	if err != nil {
		return nil, model.NewError(model.ErrFetchFailed, "Failed to fetch settings values").WithCause(err)
	}
	return values, nil
}

// View is the reconciled settings page of a boat. Schema and value failures
// are reported independently.
type View struct {
	Groups      []ReconciledGroup    `json:"groups"`
	Values      Values               `json:"values"`
	SchemaError *model.ErrorEnvelope `json:"schemaError,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// View fetches schema and values concurrently and reconciles them. It only
// returns an error for invalid input; fetch failures are reported in the
// View.
func (s *Service) View(ctx context.Context, boatID string, q SchemaQuery) (*View, error) {
	if q.ChipID == "" {
		return nil, model.NewError(model.ErrMissingChipID, "chipId is required")
	}

	var (
		schema    []Group
		values    Values
		schemaErr error
		valuesErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		schema, schemaErr = s.Schema(gctx, q)
		return nil
	})
	g.Go(func() error {
		values, valuesErr = s.Values(gctx, boatID)
		return nil
	})
	_ = g.Wait()

	view := &View{Groups: []ReconciledGroup{}, Values: values}
	if valuesErr != nil {
		view.Values = Values{}
		view.Warnings = append(view.Warnings, "settings values are unavailable; showing defaults")
	}
	if schemaErr != nil {
		ee, ok := model.AsEnvelope(schemaErr)
		if !ok {
			ee = model.NewError(model.ErrFetchFailed, "Failed to fetch settings schema")
		}
		view.SchemaError = ee
		return view, nil
	}
	view.Groups = Reconcile(schema, view.Values)
	return view, nil
}

// UpdateRequest changes one setting of a boat. When ChipID is set the value
// is validated against the chip's schema before anything is written.
type UpdateRequest struct {
	BoatID    string
	SettingID int
	Value     int
	Schema    SchemaQuery
}

// Update validates, stores and pushes one value. If the push fails the
// previous value is restored (or removed if there was none) unless another
// update has replaced ours in the meantime, and UPDATE_FAILED is returned.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (err error) {
	ctx, span := observability.StartSpan(ctx, "settings.update",
		observability.AttrBoatID.String(req.BoatID),
		observability.AttrSettingID.Int(req.SettingID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if req.BoatID == "" {
		s.recorder.RecordSettingsUpdate(outcomeRejected)
		return model.NewMissingFieldError("boatId")
	}
	if req.Schema.ChipID != "" {
		if err := s.validate(ctx, req); err != nil {
			s.recorder.RecordSettingsUpdate(outcomeRejected)
			return err
		}
	}

	current, err := s.store.Get(ctx, req.BoatID)
	if err != nil {
		s.recorder.RecordSettingsUpdate(outcomeFailed)
		return model.NewError(model.ErrUpdateFailed, "Failed to update setting").WithCause(err)
	}
	previous, hadPrevious := current[req.SettingID]

	if err := s.store.Set(ctx, req.BoatID, req.SettingID, req.Value); err != nil {
		s.recorder.RecordSettingsUpdate(outcomeFailed)
		return model.NewError(model.ErrUpdateFailed, "Failed to update setting").WithCause(err)
	}
	if s.pusher == nil {
		s.recorder.RecordSettingsUpdate(outcomeOK)
		return nil
	}

	pushErr := s.pusher.PushValue(ctx, req.BoatID, req.SettingID, req.Value)
	if pushErr == nil {
		s.recorder.RecordSettingsUpdate(outcomeOK)
		return nil
	}

	logger := observability.RequestLogger(ctx, s.logger).With(
		zap.String("boat_id", req.BoatID),
		zap.Int("setting_id", req.SettingID),
	)
	logger.Warn("settings: push failed, rolling back", zap.Error(pushErr))

	// The request context may already be done; the rollback must still run.
	// A concurrent update that landed after ours is left in place.
	var prev *int
	if hadPrevious {
		prev = &previous
	}
	reverted, rbErr := s.store.Revert(context.WithoutCancel(ctx), req.BoatID, req.SettingID, req.Value, prev)
	switch {
	case rbErr != nil:
		logger.Error("settings: rollback failed", zap.Error(rbErr))
	case !reverted:
		logger.Info("settings: rollback skipped, value changed concurrently")
	}

	s.recorder.RecordSettingsUpdate(outcomeFailed)
	return model.NewError(model.ErrUpdateFailed, "Failed to update setting").WithCause(pushErr)
}

func (s *Service) validate(ctx context.Context, req UpdateRequest) error {
	schema, err := s.Schema(ctx, req.Schema)
	if err != nil {
		return err
	}
	p, ok := FindParameter(schema, req.SettingID)
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("setting %d not found", req.SettingID))
	}
	if len(p.Value) > 0 && !p.Allows(req.Value) {
		return model.NewError(model.ErrInvalidValue,
			fmt.Sprintf("value %d is not allowed for setting %d", req.Value, req.SettingID),
		).WithMeta("allowed", p.Options())
	}
	return nil
}
