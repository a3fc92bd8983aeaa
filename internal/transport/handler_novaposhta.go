package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/runferry/portal/internal/novaposhta"
)

func setCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

func handleSearchCities(np *novaposhta.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cities, cached, err := np.SearchCities(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			WriteError(w, err)
			return
		}
		setCacheHeader(w, cached)
		WriteOK(w, http.StatusOK, cities)
	}
}

func handleWarehouses(np *novaposhta.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		warehouses, cached, err := np.Warehouses(r.Context(), q.Get("cityRef"), q.Get("q"))
		if err != nil {
			WriteError(w, err)
			return
		}
		setCacheHeader(w, cached)
		WriteOK(w, http.StatusOK, warehouses)
	}
}

func handleTracking(np *novaposhta.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := np.Track(r.Context(), chi.URLParam(r, "ttn"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteOK(w, http.StatusOK, status)
	}
}
