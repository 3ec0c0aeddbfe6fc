package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sdko-org/gridgate/internal/jobs"
	"github.com/sdko-org/gridgate/internal/metrics"
)

func RegisterRoutes(r *mux.Router, h *Handler, throttle *SyncThrottle) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	syncRoutes := map[string]decodeFunc{
		"/bin/stl":       decodeBin,
		"/baseplate/stl": decodeBaseplate,
		"/plate/stl":     decodePlate,
		"/plate/3mf":     decodePlate3MF,
	}
	for path, decode := range syncRoutes {
		api.Handle(path, throttle.Middleware(h.renderSync(decode))).Methods(http.MethodPost)
	}

	api.HandleFunc("/jobs/bin", h.submitJob(jobs.TypeBin, decodeBin)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/baseplate", h.submitJob(jobs.TypeBaseplate, decodeBaseplate)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/plate", h.submitJob(jobs.TypePlate, decodePlate)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/plate-3mf", h.submitJob(jobs.TypePlateContainer, decodePlate3MF)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", h.JobStatus).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/result", h.JobResult).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}
