package transport

import (
	"net/http"

	"github.com/runferry/portal/internal/verification"
)

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

type verifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func handleSendCode(svc *verification.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendCodeRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.SendCode(r.Context(), req.Phone)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, res)
	}
}

func handleVerifyCode(svc *verification.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyCodeRequest
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.VerifyCode(r.Context(), req.Phone, req.Code)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, res)
	}
}
