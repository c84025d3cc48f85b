package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chaosmonkey/internal/logging"
)

// SetupRoutes configures the admin API routes
func (h *AdminHandler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(logging.CorrelationIDMiddleware(h.logger, "chaos-admin"))
	router.Use(logging.LoggingMiddleware(h.logger))
	router.Use(h.CORSMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/experiments", h.ListExperiments).Methods(http.MethodGet)
	v1.HandleFunc("/experiments/{name}", h.GetExperiment).Methods(http.MethodGet)
	v1.HandleFunc("/experiments/{name}/trigger", h.TriggerExperiment).Methods(http.MethodPost)

	v1.HandleFunc("/runs", h.ActiveRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/abort", h.AbortRun).Methods(http.MethodPost)

	v1.HandleFunc("/results", h.Results).Methods(http.MethodGet)
	v1.HandleFunc("/results/{id}", h.GetResult).Methods(http.MethodGet)

	v1.HandleFunc("/samples", h.Samples).Methods(http.MethodGet)
	v1.HandleFunc("/processes", h.Processes).Methods(http.MethodGet)
	v1.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/", h.RootHandler).Methods(http.MethodGet)

	return router
}

// RootHandler lists the available endpoints
func (h *AdminHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"service":     "Chaos Monkey",
		"api_version": "v1",
		"endpoints": map[string]string{
			"experiments": "GET /api/v1/experiments",
			"trigger":     "POST /api/v1/experiments/{name}/trigger?force=true",
			"runs":        "GET /api/v1/runs",
			"abort":       "POST /api/v1/runs/{id}/abort",
			"results":     "GET /api/v1/results?limit=N",
			"samples":     "GET /api/v1/samples?target=name&since=RFC3339",
			"processes":   "GET /api/v1/processes",
			"health":      "GET /health",
			"metrics":     "GET /metrics",
		},
	})
}

func (h *AdminHandler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
