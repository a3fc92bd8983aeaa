// Package transport contains the HTTP router, middleware chain, and all
// request handlers of the portal API.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/runferry/portal/model"
)

const maxBodyBytes = 1 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrRateLimited:        http.StatusTooManyRequests,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,

	model.ErrMissingChipID:        http.StatusBadRequest,
	model.ErrMissingPhone:         http.StatusBadRequest,
	model.ErrMissingCode:          http.StatusBadRequest,
	model.ErrMissingField:         http.StatusBadRequest,
	model.ErrInvalidPhone:         http.StatusBadRequest,
	model.ErrInvalidCode:          http.StatusBadRequest,
	model.ErrInvalidConfiguration: http.StatusBadRequest,
	model.ErrInvalidValue:         http.StatusBadRequest,
	model.ErrInvalidCoordinates:   http.StatusBadRequest,
	model.ErrInvalidBoatID:        http.StatusBadRequest,

	model.ErrInvalidResponse: http.StatusBadGateway,
	model.ErrFetchFailed:     http.StatusBadGateway,
	model.ErrCreateFailed:    http.StatusBadGateway,
	model.ErrUpdateFailed:    http.StatusBadGateway,
	model.ErrDeleteFailed:    http.StatusBadGateway,
	model.ErrSMSSendFailed:   http.StatusBadGateway,

	model.ErrCodeExpired:     http.StatusGone,
	model.ErrCodeNotFound:    http.StatusNotFound,
	model.ErrTooManyAttempts: http.StatusTooManyRequests,
}

// StatusFor returns the HTTP status of an error code.
func StatusFor(code string) int {
	if status := statusForCode[code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteOK writes data in a successful envelope.
func WriteOK(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, model.OK(data))
}

// WriteError writes err in a failed envelope with the status of its code.
// Errors that carry no envelope become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(ee.Code), model.Failed(ee))
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// decodeBody reads a JSON request body into v. An empty body is an error.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("Request body is required")
		}
		return model.NewBadRequestError("Request body is not valid JSON")
	}
	return nil
}
