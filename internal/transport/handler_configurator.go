package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/runferry/portal/internal/config"
	"github.com/runferry/portal/internal/configurator"
	"github.com/runferry/portal/model"
)

// CodeRecorder receives configurator metrics. *observability.Metrics
// satisfies it.
type CodeRecorder interface {
	RecordConfiguratorCode(direction, outcome string)
}

type nopCodeRecorder struct{}

func (nopCodeRecorder) RecordConfiguratorCode(string, string) {}

type encodeRequest struct {
	Configuration *configurator.Configuration `json:"configuration"`
}

type encodeResponse struct {
	Code     string `json:"code"`
	ShareURL string `json:"shareUrl"`
}

type decodeResponse struct {
	Code          string                     `json:"code"`
	Configuration configurator.Configuration `json:"configuration"`
	Resolved      configurator.Resolved      `json:"resolved"`
	ShareURL      string                     `json:"shareUrl"`
}

func handleEncodeConfiguration(cfg config.ConfiguratorConfig, rec CodeRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req encodeRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.Configuration == nil {
			WriteError(w, model.NewMissingFieldError("configuration"))
			return
		}
		if err := configurator.Validate(*req.Configuration); err != nil {
			rec.RecordConfiguratorCode("encode", "invalid")
			WriteError(w, err)
			return
		}
		code, err := configurator.Encode(*req.Configuration)
		if err != nil {
			rec.RecordConfiguratorCode("encode", "invalid")
			WriteError(w, err)
			return
		}
		rec.RecordConfiguratorCode("encode", "ok")
		WriteOK(w, http.StatusOK, encodeResponse{
			Code:     code,
			ShareURL: configurator.ShareURL(cfg.PublicBaseURL, code),
		})
	}
}

func handleDecodeConfiguration(cfg config.ConfiguratorConfig, rec CodeRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "code")
		c, err := configurator.Decode(raw)
		if err != nil {
			rec.RecordConfiguratorCode("decode", "invalid")
			WriteError(w, err)
			return
		}
		rec.RecordConfiguratorCode("decode", "ok")
		code := configurator.Normalize(raw)
		WriteOK(w, http.StatusOK, decodeResponse{
			Code:          code,
			Configuration: c,
			Resolved:      configurator.Resolve(c),
			ShareURL:      configurator.ShareURL(cfg.PublicBaseURL, code),
		})
	}
}

func handleConfigurationQR(cfg config.ConfiguratorConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if _, err := configurator.Decode(code); err != nil {
			WriteError(w, err)
			return
		}
		png, err := configurator.QRPNG(cfg.PublicBaseURL, code, cfg.QRSize)
		if err != nil {
			WriteError(w, model.NewInternalError().WithCause(err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	}
}

func handlePalettes(w http.ResponseWriter, _ *http.Request) {
	WriteOK(w, http.StatusOK, configurator.Catalogue())
}
