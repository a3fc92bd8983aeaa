package profile

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/verification"
	"github.com/runferry/portal/model"
)

// Service reads and edits user documents.
type Service struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

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

// NewService creates a profile service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the user's document, or the defaults when none is stored.
func (s *Service) Get(ctx context.Context, userID string) (*Document, error) {
	d, _, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch profile")
	}
	return &d, nil
}

// Language returns the user's UI language, falling back to the default.
func (s *Service) Language(ctx context.Context, userID string) string {
	d, _, err := s.store.Get(ctx, userID)
	if err != nil || d.Language == "" {
		return DefaultLanguage
	}
	return d.Language
}

// Update applies a partial update after validating every field in it.
func (s *Service) Update(ctx context.Context, userID string, p Patch) (*Document, error) {
	if err := s.validate(&p); err != nil {
		return nil, err
	}
	return s.update(ctx, userID, "Failed to update profile", func(d *Document) error {
		if p.Language != nil {
			d.Language = *p.Language
		}
		if p.MapType != nil {
			d.MapType = *p.MapType
		}
		if p.PhoneNumber != nil {
			d.PhoneNumber = *p.PhoneNumber
		}
		if p.Profile != nil {
			p.Profile.apply(&d.Profile)
		}
		return nil
	})
}

// validate checks and canonicalizes p in place.
func (s *Service) validate(p *Patch) error {
	var fields []model.FieldError
	if p.Language != nil {
		tag, err := language.Parse(strings.TrimSpace(*p.Language))
		if err != nil {
			fields = append(fields, model.FieldError{Field: "language", Code: model.ErrInvalidValue, Message: "must be a language code"})
		} else {
			base, _ := tag.Base()
			lang := base.String()
			p.Language = &lang
		}
	}
	if p.MapType != nil && *p.MapType != MapSatellite && *p.MapType != MapStreet {
		fields = append(fields, model.FieldError{Field: "mapType", Code: model.ErrInvalidValue, Message: "must be satellite or street"})
	}
	if p.PhoneNumber != nil && *p.PhoneNumber != "" {
		phone, err := verification.Normalize(*p.PhoneNumber)
		if err != nil {
			fields = append(fields, model.FieldError{Field: "phoneNumber", Code: model.ErrInvalidPhone, Message: "must be a Ukrainian mobile number"})
		} else {
			p.PhoneNumber = &phone
		}
	}
	if len(fields) > 0 {
		return model.NewValidationError(fields)
	}
	return nil
}

// AddServiceRequest remembers a repair request. Adding a known ID updates
// its number in place.
func (s *Service) AddServiceRequest(ctx context.Context, userID string, ref ServiceRequestRef) (*Document, error) {
	ref.ID = strings.TrimSpace(ref.ID)
	if ref.ID == "" {
		return nil, model.NewMissingFieldError("id")
	}
	return s.update(ctx, userID, "Failed to save service request", func(d *Document) error {
		i := slices.IndexFunc(d.ServiceRequests, func(r ServiceRequestRef) bool { return r.ID == ref.ID })
		if i >= 0 {
			if ref.Number != "" {
				d.ServiceRequests[i].Number = ref.Number
			}
			return nil
		}
		d.ServiceRequests = append(d.ServiceRequests, ref)
		return nil
	})
}

// RemoveServiceRequest forgets a repair request. Unknown IDs are ignored.
func (s *Service) RemoveServiceRequest(ctx context.Context, userID, id string) (*Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.NewMissingFieldError("id")
	}
	return s.update(ctx, userID, "Failed to remove service request", func(d *Document) error {
		d.ServiceRequests = slices.DeleteFunc(d.ServiceRequests, func(r ServiceRequestRef) bool { return r.ID == id })
		return nil
	})
}

func (s *Service) update(ctx context.Context, userID, failMsg string, fn func(*Document) error) (*Document, error) {
	d, err := s.store.Update(ctx, userID, func(d *Document) error {
		if err := fn(d); err != nil {
			return err
		}
		now := s.now().UTC()
		d.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return nil, s.storeFailed(ctx, err, model.ErrUpdateFailed, failMsg)
	}
	return &d, nil
}

func (s *Service) storeFailed(ctx context.Context, err error, code, msg string) error {
	if _, ok := model.AsEnvelope(err); ok {
		return err
	}
	observability.RequestLogger(ctx, s.logger).Error("profile: store error", zap.String("code", code), zap.Error(err))
	return model.NewError(code, msg).WithCause(err)
}
