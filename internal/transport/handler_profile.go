package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/runferry/portal/internal/profile"
	"github.com/runferry/portal/model"
)

func handleGetProfile(svc *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := svc.Get(r.Context(), model.RequestContextFrom(r.Context()).SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, doc)
	}
}

func handleUpdateProfile(svc *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch profile.Patch
		if err := decodeBody(r, &patch); err != nil {
			WriteError(w, err)
			return
		}
		doc, err := svc.Update(r.Context(), model.RequestContextFrom(r.Context()).SubjectID, patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, doc)
	}
}

func handleAddProfileRequest(svc *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ref profile.ServiceRequestRef
		if err := decodeBody(r, &ref); err != nil {
			WriteError(w, err)
			return
		}
		doc, err := svc.AddServiceRequest(r.Context(), model.RequestContextFrom(r.Context()).SubjectID, ref)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, doc)
	}
}

func handleRemoveProfileRequest(svc *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := svc.RemoveServiceRequest(r.Context(), model.RequestContextFrom(r.Context()).SubjectID, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, doc)
	}
}
