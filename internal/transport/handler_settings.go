package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/runferry/portal/internal/settings"
	"github.com/runferry/portal/model"
)

// LanguageSource returns a user's preferred UI language. *profile.Service
// satisfies it.
type LanguageSource interface {
	Language(ctx context.Context, userID string) string
}

// localization picks the HS localization of a request: the explicit query
// parameter, then the user's profile language, then Accept-Language.
func localization(r *http.Request, langs LanguageSource) string {
	if l := r.URL.Query().Get("localization"); l != "" {
		return settings.Localization(l)
	}
	rctx := model.RequestContextFrom(r.Context())
	if langs != nil && rctx != nil {
		return settings.Localization(langs.Language(r.Context(), rctx.SubjectID))
	}
	return settings.Localization(r.Header.Get("Accept-Language"))
}

func schemaQuery(r *http.Request, langs LanguageSource) settings.SchemaQuery {
	q := r.URL.Query()
	email := q.Get("email")
	if email == "" {
		if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
			email = rctx.Email
		}
	}
	return settings.SchemaQuery{
		ChipID:       q.Get("chipId"),
		Localization: localization(r, langs),
		Email:        email,
		ChipType:     q.Get("chipType"),
	}
}

// boatParam returns the boatId URL parameter in canonical upper case.
func boatParam(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "boatId"))
}

func handleSettingsSchema(svc *settings.Service, langs LanguageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := svc.Schema(r.Context(), schemaQuery(r, langs))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, groups)
	}
}

func handleSettingsValues(svc *settings.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := svc.Values(r.Context(), boatParam(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, values)
	}
}

func handleSettingsView(svc *settings.Service, langs LanguageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.View(r.Context(), boatParam(r), schemaQuery(r, langs))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, view)
	}
}

type updateSettingRequest struct {
	Value    *int   `json:"value"`
	ChipID   string `json:"chipId,omitempty"`
	ChipType string `json:"chipType,omitempty"`
}

func handleUpdateSetting(svc *settings.Service, langs LanguageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settingID, err := strconv.Atoi(chi.URLParam(r, "settingId"))
		if err != nil {
			WriteError(w, model.NewError(model.ErrInvalidValue, "settingId must be an integer"))
			return
		}
		var req updateSettingRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.Value == nil {
			WriteError(w, model.NewMissingFieldError("value"))
			return
		}

		q := schemaQuery(r, langs)
		if req.ChipID != "" {
			q.ChipID = req.ChipID
		}
		if req.ChipType != "" {
			q.ChipType = req.ChipType
		}
		err = svc.Update(r.Context(), settings.UpdateRequest{
			BoatID:    boatParam(r),
			SettingID: settingID,
			Value:     *req.Value,
			Schema:    q,
		})
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, map[string]int{"settingId": settingID, "value": *req.Value})
	}
}
