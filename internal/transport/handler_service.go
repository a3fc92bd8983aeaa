package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/runferry/portal/internal/observability"
	"github.com/runferry/portal/internal/profile"
	"github.com/runferry/portal/internal/repair"
	"github.com/runferry/portal/internal/verification"
	"github.com/runferry/portal/model"
)

const phoneTokenHeader = "X-Phone-Token"

// PhoneTokens checks phone verification tokens. *verification.Service
// satisfies it.
type PhoneTokens interface {
	VerifyToken(token, phone string) error
}

// RequestTracker remembers the repair requests a user created.
// *profile.Service satisfies it.
type RequestTracker interface {
	AddServiceRequest(ctx context.Context, userID string, ref profile.ServiceRequestRef) (*profile.Document, error)
}

// verifiedPhone normalizes raw and checks the X-Phone-Token header was
// issued for it.
func verifiedPhone(r *http.Request, tokens PhoneTokens, raw string) (string, error) {
	phone, err := verification.Normalize(raw)
	if err != nil {
		return "", err
	}
	if err := tokens.VerifyToken(r.Header.Get(phoneTokenHeader), phone); err != nil {
		return "", err
	}
	return phone, nil
}

type labelsRequest struct {
	Lang string   `json:"lang"`
	Keys []string `json:"keys"`
}

func handleLabels(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req labelsRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.Lang == "" {
			req.Lang = profile.DefaultLanguage
		}
		labels, err := c.Labels(r.Context(), req.Lang, req.Keys)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, labels)
	}
}

func handleServiceCenters(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		centers, err := c.ServiceCenters(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, centers)
	}
}

func handleGetServiceRequest(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := c.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, data)
	}
}

func handleServiceRequestPDF(c *repair.Client, fontPath string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		data, err := c.Get(r.Context(), id)
		if err != nil {
			WriteError(w, err)
			return
		}
		var buf bytes.Buffer
		if err := repair.SummaryPDF(&buf, data, fontPath); err != nil {
			observability.RequestLogger(r.Context(), logger).Error("repair summary render failed", zap.Error(err))
			WriteError(w, model.NewInternalError().WithCause(err))
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="service_request_%s.pdf"`, sanitizeFilename(id)))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func handleAcceptTerms(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.AcceptTerms(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, map[string]bool{"accepted": true})
	}
}

type selectOptionRequest struct {
	OptionID    string `json:"optionId"`
	ConfirmedAt string `json:"confirmedAt"`
}

func handleSelectRepairOption(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectOptionRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.OptionID == "" {
			WriteError(w, model.NewMissingFieldError("optionId"))
			return
		}
		if err := c.SelectRepairOption(r.Context(), chi.URLParam(r, "id"), req.OptionID, req.ConfirmedAt); err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, map[string]string{"selectedRepairOptionId": req.OptionID})
	}
}

type textRequest struct {
	Text        string `json:"text"`
	UserComment string `json:"userComment"`
}

func handleAddComment(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			WriteError(w, model.NewMissingFieldError("text"))
			return
		}
		reply, err := c.AddComment(r.Context(), chi.URLParam(r, "id"), req.Text)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, reply)
	}
}

func handleAddQuestion(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			WriteError(w, model.NewMissingFieldError("text"))
			return
		}
		reply, err := c.AddQuestion(r.Context(), chi.URLParam(r, "id"), req.Text)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, reply)
	}
}

func handleRequestCallback(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		reply, err := c.RequestCallback(r.Context(), chi.URLParam(r, "id"), req.UserComment)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, reply)
	}
}

func handleUpdateClientInfo(c *repair.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req repair.ClientInfoUpdate
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if err := c.UpdateClientInfo(r.Context(), chi.URLParam(r, "id"), req); err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, req)
	}
}

func handleCreateServiceRequest(c *repair.Client, tokens PhoneTokens, tracker RequestTracker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req repair.NewRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		phone, err := verifiedPhone(r, tokens, req.PhoneNumber)
		if err != nil {
			WriteError(w, err)
			return
		}
		req.PhoneNumber = phone

		created, err := c.Create(r.Context(), req)
		if err != nil {
			WriteError(w, err)
			return
		}
		if rctx := model.RequestContextFrom(r.Context()); rctx != nil && tracker != nil && created.ID != "" {
			if _, err := tracker.AddServiceRequest(r.Context(), rctx.SubjectID, profile.ServiceRequestRef{ID: created.ID}); err != nil {
				observability.RequestLogger(r.Context(), logger).Warn("could not remember service request",
					zap.String("request_id", created.ID), zap.Error(err))
			}
		}
		WriteOK(w, http.StatusCreated, created)
	}
}

func handleRequestsByPhone(c *repair.Client, tokens PhoneTokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone, err := verifiedPhone(r, tokens, chi.URLParam(r, "phone"))
		if err != nil {
			WriteError(w, err)
			return
		}
		list, err := c.ListByPhone(r.Context(), phone)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}

func handleRequestHistory(c *repair.Client, tokens PhoneTokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone, err := verifiedPhone(r, tokens, chi.URLParam(r, "phone"))
		if err != nil {
			WriteError(w, err)
			return
		}
		history, err := c.History(r.Context(), phone)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, history)
	}
}

// sanitizeFilename keeps letters, digits, dash and underscore.
func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, s)
}
