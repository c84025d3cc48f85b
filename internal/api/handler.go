package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/logging"
	"chaosmonkey/internal/process"
)

// ResultStore is durable run history. The in-memory recorder is used when absent.
type ResultStore interface {
	List(limit int) ([]chaos.RunSummary, error)
	Get(runID string) (chaos.RunSummary, error)
}

type ProcessLister interface {
	Info() []process.Info
}

// AdminHandler serves the operator API over a running scheduler.
type AdminHandler struct {
	scheduler *chaos.Scheduler
	store     ResultStore
	processes ProcessLister
	metrics   http.Handler
	logger    *logging.Logger
	startedAt time.Time
}

type HandlerOption func(*AdminHandler)

func WithResultStore(store ResultStore) HandlerOption {
	return func(h *AdminHandler) { h.store = store }
}

func WithProcesses(p ProcessLister) HandlerOption {
	return func(h *AdminHandler) { h.processes = p }
}

func WithMetrics(handler http.Handler) HandlerOption {
	return func(h *AdminHandler) { h.metrics = handler }
}

func NewAdminHandler(scheduler *chaos.Scheduler, logger *logging.Logger, opts ...HandlerOption) *AdminHandler {
	h := &AdminHandler{
		scheduler: scheduler,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ExperimentView is the JSON form of a registered FaultSpec.
type ExperimentView struct {
	Name        string                 `json:"name"`
	Kind        chaos.FaultKind        `json:"kind"`
	Target      string                 `json:"target,omitempty"`
	Duration    string                 `json:"duration"`
	Probability float64                `json:"probability"`
	Weight      float64                `json:"weight"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ListExperimentsResponse struct {
	Experiments []ExperimentView `json:"experiments"`
	Count       int              `json:"count"`
}

// RunView describes a run that is still in progress.
type RunView struct {
	RunID      string          `json:"run_id"`
	Experiment string          `json:"experiment"`
	Kind       chaos.FaultKind `json:"kind"`
	Target     string          `json:"target,omitempty"`
	State      chaos.RunState  `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	EndsAt     time.Time       `json:"ends_at"`
	Samples    int             `json:"samples"`
}

type ActiveRunsResponse struct {
	Runs  []RunView `json:"runs"`
	Count int       `json:"count"`
}

type TriggerResponse struct {
	RunID   string            `json:"run_id"`
	State   chaos.RunState    `json:"state"`
	Reason  string            `json:"reason,omitempty"`
	Summary *chaos.RunSummary `json:"summary,omitempty"`
}

type AbortRequest struct {
	Reason string `json:"reason"`
}

type ResultsResponse struct {
	Results []chaos.RunSummary     `json:"results"`
	Count   int                    `json:"count"`
	Counts  map[chaos.RunState]int `json:"counts"`
}

type SamplesResponse struct {
	Samples []chaos.HealthSample `json:"samples"`
	Count   int                  `json:"count"`
}

type HealthResponse struct {
	Healthy       bool                `json:"healthy"`
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	ActiveRuns    int                 `json:"active_runs"`
	Experiments   int                 `json:"experiments"`
	Latest        *chaos.HealthSample `json:"latest_sample,omitempty"`
	Timestamp     int64               `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func toExperimentView(spec chaos.FaultSpec) ExperimentView {
	return ExperimentView{
		Name:        spec.Name,
		Kind:        spec.Kind,
		Target:      spec.Target,
		Duration:    spec.Duration.String(),
		Probability: spec.Probability,
		Weight:      spec.Weight,
		Parameters:  spec.Parameters,
	}
}

// GET /api/v1/experiments
func (h *AdminHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	specs := h.scheduler.Registry().List()
	views := make([]ExperimentView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, toExperimentView(spec))
	}
	h.writeJSONResponse(w, http.StatusOK, ListExperimentsResponse{Experiments: views, Count: len(views)})
}

// GET /api/v1/experiments/{name}
func (h *AdminHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	spec, ok := h.scheduler.Registry().Get(name)
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, "experiment not found: "+name)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, toExperimentView(spec))
}

// POST /api/v1/experiments/{name}/trigger?force=true
func (h *AdminHandler) TriggerExperiment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	logger := h.logger.WithContext(r.Context())
	logger.Info("Manual trigger requested", "experiment", name, "force", force)

	run, err := h.scheduler.Trigger(r.Context(), name, force)
	switch {
	case errors.Is(err, chaos.ErrUnknownExperiment):
		h.writeErrorResponse(w, http.StatusNotFound, "experiment not found: "+name)
		return
	case errors.Is(err, chaos.ErrSchedulerStopped):
		h.writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logger.WithError(err).Error("Trigger failed", "experiment", name)
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TriggerResponse{RunID: run.ID, State: run.State(), Reason: run.Reason()}
	if resp.State == chaos.StateRejected {
		summary := run.Summary()
		resp.Summary = &summary
		h.writeJSONResponse(w, http.StatusConflict, resp)
		return
	}
	h.writeJSONResponse(w, http.StatusAccepted, resp)
}

// GET /api/v1/runs
func (h *AdminHandler) ActiveRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.scheduler.ActiveRuns()
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, RunView{
			RunID:      run.ID,
			Experiment: run.Spec.Name,
			Kind:       run.Spec.Kind,
			Target:     run.Spec.Target,
			State:      run.State(),
			StartedAt:  run.StartedAt(),
			EndsAt:     run.StartedAt().Add(run.Spec.Duration),
			Samples:    len(run.Samples()),
		})
	}
	h.writeJSONResponse(w, http.StatusOK, ActiveRunsResponse{Runs: views, Count: len(views)})
}

// POST /api/v1/runs/{id}/abort
func (h *AdminHandler) AbortRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req AbortRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := h.scheduler.Abort(id, req.Reason); err != nil {
		if errors.Is(err, chaos.ErrUnknownRun) {
			h.writeErrorResponse(w, http.StatusNotFound, "no active run: "+id)
			return
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.WithContext(r.Context()).Warn("Run abort requested", "run_id", id, "reason", req.Reason)
	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "aborting"})
}

// GET /api/v1/results?limit=N
func (h *AdminHandler) Results(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var results []chaos.RunSummary
	if h.store != nil {
		stored, err := h.store.List(limit)
		if err != nil {
			h.logger.WithError(err).Error("Failed to list stored results")
			h.writeErrorResponse(w, http.StatusInternalServerError, "failed to list results")
			return
		}
		results = stored
	} else {
		results = h.scheduler.Recorder().Results()
		// Newest first, matching the store.
		for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
			results[i], results[j] = results[j], results[i]
		}
		if limit > 0 && len(results) > limit {
			results = results[:limit]
		}
	}
	if results == nil {
		results = []chaos.RunSummary{}
	}

	h.writeJSONResponse(w, http.StatusOK, ResultsResponse{
		Results: results,
		Count:   len(results),
		Counts:  h.scheduler.Recorder().Counts(),
	})
}

// GET /api/v1/results/{id}
func (h *AdminHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if summary, ok := h.scheduler.Recorder().Get(id); ok {
		h.writeJSONResponse(w, http.StatusOK, summary)
		return
	}
	if h.store != nil {
		if summary, err := h.store.Get(id); err == nil {
			h.writeJSONResponse(w, http.StatusOK, summary)
			return
		}
	}
	h.writeErrorResponse(w, http.StatusNotFound, "result not found: "+id)
}

// GET /api/v1/samples?target=name&since=RFC3339
func (h *AdminHandler) Samples(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var samples []chaos.HealthSample

	var since time.Time
	if raw := query.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = t
	}

	if query.Has("target") {
		target := query.Get("target")
		if target == "host" {
			target = chaos.HostTarget
		}
		samples = h.scheduler.History().Since(since, &target)
	} else {
		samples = h.scheduler.History().Since(since, nil)
	}
	if samples == nil {
		samples = []chaos.HealthSample{}
	}
	h.writeJSONResponse(w, http.StatusOK, SamplesResponse{Samples: samples, Count: len(samples)})
}

// GET /api/v1/processes
func (h *AdminHandler) Processes(w http.ResponseWriter, r *http.Request) {
	if h.processes == nil {
		h.writeJSONResponse(w, http.StatusOK, []process.Info{})
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.processes.Info())
}

// GET /health
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:       true,
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		ActiveRuns:    len(h.scheduler.ActiveRuns()),
		Experiments:   h.scheduler.Registry().Len(),
		Timestamp:     time.Now().Unix(),
	}
	if latest, ok := h.scheduler.History().Latest(); ok {
		resp.Latest = &latest
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Message: http.StatusText(statusCode),
	})
}
