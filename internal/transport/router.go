package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/fleet"
	"github.com/runferry/portal/internal/novaposhta"
	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/profile"
	"github.com/runferry/portal/internal/repair"
	"github.com/runferry/portal/internal/settings"
	"github.com/runferry/portal/internal/verification"
	"github.com/runferry/portal/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Readiness    observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
	Capabilities model.CapabilityResolver

	Verification *verification.Service
	Settings     *settings.Service
	Repair       *repair.Client
	NovaPoshta   *novaposhta.Client
	Fleet        *fleet.Service
	Profile      *profile.Service
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and the anonymous portal
// endpoints bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var codes CodeRecorder = nopCodeRecorder{}
	if deps.Metrics != nil {
		codes = deps.Metrics
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Gatherer != nil {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(deps.Gatherer))
	}

	// Anonymous portal routes.
	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		if deps.Verification != nil {
			r.Post("/api/sms/send-code", handleSendCode(deps.Verification))
			r.Post("/api/sms/verify-code", handleVerifyCode(deps.Verification))
		}

		r.Post("/api/configurator/codes", handleEncodeConfiguration(cfg.Configurator, codes))
		r.Get("/api/configurator/codes/{code}", handleDecodeConfiguration(cfg.Configurator, codes))
		r.Get("/api/configurator/codes/{code}/qr.png", handleConfigurationQR(cfg.Configurator))
		r.Get("/api/configurator/palettes", handlePalettes)

		if deps.NovaPoshta != nil {
			r.Get("/api/novaposhta/cities", handleSearchCities(deps.NovaPoshta))
			r.Get("/api/novaposhta/warehouses", handleWarehouses(deps.NovaPoshta))
			r.Get("/api/novaposhta/tracking/{ttn}", handleTracking(deps.NovaPoshta))
		}

		if deps.Repair != nil {
			r.Post("/api/service/labels", handleLabels(deps.Repair))
			r.Get("/api/service/centers", handleServiceCenters(deps.Repair))
		}
	})

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				WriteError(w, model.NewUnauthorizedError("Authentication required"))
			})
		}
	}

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(cfg.Identity.ClaimPaths))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		var langs LanguageSource
		var tracker RequestTracker
		if deps.Profile != nil {
			langs = deps.Profile
			tracker = deps.Profile
		}

		if deps.Repair != nil && deps.Verification != nil {
			rc := deps.Repair
			r.Post("/api/service/requests", handleCreateServiceRequest(rc, deps.Verification, tracker, logger))
			r.Get("/api/service/requests/{id}", handleGetServiceRequest(rc))
			r.Get("/api/service/requests/{id}/summary.pdf", handleServiceRequestPDF(rc, cfg.Repair.PDFFontPath, logger))
			r.Post("/api/service/requests/{id}/accept", handleAcceptTerms(rc))
			r.Post("/api/service/requests/{id}/select-repair", handleSelectRepairOption(rc))
			r.Post("/api/service/requests/{id}/comments", handleAddComment(rc))
			r.Post("/api/service/requests/{id}/questions", handleAddQuestion(rc))
			r.Post("/api/service/requests/{id}/call-requests", handleRequestCallback(rc))
			r.Put("/api/service/requests/{id}/client-info", handleUpdateClientInfo(rc))
			r.Get("/api/service/phones/{phone}/requests", handleRequestsByPhone(rc, deps.Verification))
			r.Get("/api/service/phones/{phone}/history", handleRequestHistory(rc, deps.Verification))
		}

		if deps.Settings != nil {
			r.Get("/api/settings/schema", handleSettingsSchema(deps.Settings, langs))
			r.Route("/api/settings/{boatId}", func(r chi.Router) {
				r.With(RequireCapability(deps.Capabilities, model.CapSettingsView)).
					Get("/values", handleSettingsValues(deps.Settings))
				r.With(RequireCapability(deps.Capabilities, model.CapSettingsView)).
					Get("/view", handleSettingsView(deps.Settings, langs))
				r.With(RequireCapability(deps.Capabilities, model.CapSettingsEdit)).
					Put("/{settingId}", handleUpdateSetting(deps.Settings, langs))
			})
		}

		if deps.Fleet != nil {
			mountFleet(r, deps.Fleet, deps.Capabilities)
		}

		if deps.Profile != nil {
			r.Get("/api/profile", handleGetProfile(deps.Profile))
			r.Patch("/api/profile", handleUpdateProfile(deps.Profile))
			r.Post("/api/profile/service-requests", handleAddProfileRequest(deps.Profile))
			r.Delete("/api/profile/service-requests/{id}", handleRemoveProfileRequest(deps.Profile))
		}
	})

	return r
}

func mountFleet(r chi.Router, svc *fleet.Service, caps model.CapabilityResolver) {
	view := RequireCapability(caps, model.CapReservoirsView)
	edit := RequireCapability(caps, model.CapReservoirsEdit)
	manage := RequireCapability(caps, model.CapBoatManage)

	r.Get("/api/boats", handleListBoats(svc))
	r.Post("/api/boats/verify", handleVerifyBoat(svc))
	r.Post("/api/boats/link", handleLinkBoat(svc))

	r.Route("/api/boats/{boatId}", func(r chi.Router) {
		r.Delete("/link", handleUnlinkBoat(svc))
		r.With(view).Get("/reservoirs", handleListReservoirs(svc))
		r.With(edit).Put("/reservoirs/by-number/{number}", handleRenameReservoir(svc))
		r.With(view).Get("/reservoirs/{reservoirId}/points", handleListPoints(svc))
		r.With(edit).Post("/reservoirs/{reservoirId}/points", handleCreatePoint(svc))
		r.With(edit).Patch("/reservoirs/{reservoirId}/points/{pointId}", handleUpdatePoint(svc))
		r.With(edit).Delete("/reservoirs/{reservoirId}/points/{pointId}", handleDeletePoint(svc))
		r.With(view).Get("/reservoirs/{reservoirId}/points/{pointId}/deliveries", handleListDeliveries(svc))
		r.With(edit).Post("/reservoirs/{reservoirId}/points/{pointId}/deliveries", handleRecordDelivery(svc))
		r.With(view).Get("/reservoirs/{reservoirId}/deliveries", handleReservoirDeliveries(svc))
		r.With(view).Get("/reservoirs/{reservoirId}/deliveries.xlsx", handleExportDeliveries(svc))
		r.With(edit).Post("/reservoirs/{reservoirId}/share", handleShareReservoir(svc))
		r.With(edit).Post("/import", handleImportShared(svc))
		r.With(manage).Get("/access", handleGetAccess(svc))
		r.With(manage).Put("/access", handleUpdateAccess(svc))
	})

	r.Get("/api/shares/{key}", handleGetShared(svc))
	r.Get("/api/distributors", handleListDistributors(svc))
	r.Get("/api/distributors/me/boats", handleDistributorBoats(svc))
}
