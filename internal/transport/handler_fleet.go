package transport

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/runferry/portal/internal/fleet"
	"github.com/runferry/portal/model"
)

type boatCredentials struct {
	BoatID   string `json:"boatId"`
	Password string `json:"password"`
}

func (b boatCredentials) check() error {
	if b.BoatID == "" {
		return model.NewMissingFieldError("boatId")
	}
	if b.Password == "" {
		return model.NewMissingFieldError("password")
	}
	return nil
}

func handleListBoats(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		boats, err := svc.ListLinkedBoats(r.Context(), rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, boats)
	}
}

func handleVerifyBoat(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req boatCredentials
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if err := req.check(); err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.VerifyBoat(r.Context(), req.BoatID, req.Password)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, res)
	}
}

func handleLinkBoat(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req boatCredentials
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if err := req.check(); err != nil {
			WriteError(w, err)
			return
		}
		info, err := svc.LinkBoat(r.Context(), model.RequestContextFrom(r.Context()), req.BoatID, req.Password)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusCreated, info)
	}
}

func handleUnlinkBoat(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.UnlinkBoat(r.Context(), model.RequestContextFrom(r.Context()), chi.URLParam(r, "boatId")); err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, map[string]bool{"unlinked": true})
	}
}

func handleListReservoirs(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListReservoirs(r.Context(), boatParam(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}

func handleRenameReservoir(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, err := strconv.Atoi(chi.URLParam(r, "number"))
		if err != nil || number < 1 {
			WriteError(w, model.NewError(model.ErrInvalidValue, "Reservoir number must be a positive integer"))
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		res, err := svc.RenameReservoir(r.Context(), boatParam(r), number, req.Name)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, res)
	}
}

func handleListPoints(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListPoints(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}

func handleCreatePoint(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in fleet.PointInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		p, err := svc.CreatePoint(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusCreated, p)
	}
}

func handleUpdatePoint(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch fleet.PointPatch
		if err := decodeBody(r, &patch); err != nil {
			WriteError(w, err)
			return
		}
		p, err := svc.UpdatePoint(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"), chi.URLParam(r, "pointId"), patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, p)
	}
}

func handleDeletePoint(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeletePoint(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"), chi.URLParam(r, "pointId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListDeliveries(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListDeliveries(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"), chi.URLParam(r, "pointId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}

func handleRecordDelivery(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in fleet.DeliveryInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		d, err := svc.RecordDelivery(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"), chi.URLParam(r, "pointId"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusCreated, d)
	}
}

func handleReservoirDeliveries(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListReservoirDeliveries(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func handleExportDeliveries(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Buffered so a failed export still answers with a JSON envelope.
		var buf bytes.Buffer
		name, err := svc.ExportDeliveriesXLSX(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"), &buf)
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func handleShareReservoir(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sh, err := svc.ShareReservoir(r.Context(), boatParam(r), chi.URLParam(r, "reservoirId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusCreated, sh)
	}
}

func handleGetShared(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sh, err := svc.GetShared(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, sh)
	}
}

func handleImportShared(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ShareKey string `json:"shareKey"`
		}
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		if req.ShareKey == "" {
			WriteError(w, model.NewMissingFieldError("shareKey"))
			return
		}
		res, err := svc.ImportShared(r.Context(), boatParam(r), req.ShareKey)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusCreated, res)
	}
}

func handleListDistributors(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListDistributors(r.Context())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}

func handleGetAccess(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.GetAccess(r.Context(), boatParam(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, a)
	}
}

func handleUpdateAccess(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a fleet.Access
		if err := decodeBody(r, &a); err != nil {
			WriteError(w, err)
			return
		}
		out, err := svc.UpdateAccess(r.Context(), boatParam(r), a)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, out)
	}
}

func handleDistributorBoats(svc *fleet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if !rctx.HasRole(model.RoleDistributor) || rctx.DistributorID == "" {
			WriteForbidden(w, "Distributor role required")
			return
		}
		list, err := svc.ListDistributorBoats(r.Context(), rctx.DistributorID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, list)
	}
}
