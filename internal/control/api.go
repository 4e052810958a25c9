package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"maxpop/internal/runner"
)

// API exposes run control and inspection over HTTP.
type API struct {
	hub     *Hub
	current func() *runner.Run
	metrics http.Handler
	logger  *zap.Logger
}

func NewAPI(hub *Hub, current func() *runner.Run, metrics http.Handler, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{hub: hub, current: current, metrics: metrics, logger: logger}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/control", func(r chi.Router) {
		r.Post("/pause", a.handleSignal(EventPause))
		r.Post("/continue", a.handleSignal(EventContinue))
		r.Post("/{event}", a.handleNamedSignal)
	})
	r.Get("/status", a.GetStatus)
	r.Get("/samples", a.GetSamples)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}
}

type signalResponse struct {
	Event   string `json:"event"`
	Applied bool   `json:"applied"`
	Paused  bool   `json:"paused"`
}

func (a *API) handleNamedSignal(w http.ResponseWriter, r *http.Request) {
	a.handleSignal(chi.URLParam(r, "event"))(w, r)
}

func (a *API) handleSignal(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sig Signal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			a.respondError(w, http.StatusBadRequest, errors.New("body must be {\"id\": <int>}"))
			return
		}

		applied, err := a.hub.Dispatch(event, sig)
		switch {
		case errors.Is(err, ErrUnknownEvent):
			a.respondError(w, http.StatusNotFound, err)
			return
		case errors.Is(err, ErrNoActiveRun):
			a.respondError(w, http.StatusConflict, err)
			return
		case err != nil:
			a.respondError(w, http.StatusInternalServerError, err)
			return
		}

		resp := signalResponse{Event: event, Applied: applied}
		if run := a.current(); run != nil {
			resp.Paused = run.Gate().Paused()
		}
		a.respondJSON(w, http.StatusOK, resp)
	}
}

// statusResponse reports whether pause and continue signals would reach the run.
type statusResponse struct {
	runner.Status
	Controllable bool `json:"controllable"`
}

func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	run := a.current()
	if run == nil {
		a.respondError(w, http.StatusNotFound, ErrNoActiveRun)
		return
	}
	a.respondJSON(w, http.StatusOK, statusResponse{Status: run.Status(), Controllable: a.hub.Attached()})
}

func (a *API) GetSamples(w http.ResponseWriter, r *http.Request) {
	run := a.current()
	if run == nil {
		a.respondError(w, http.StatusNotFound, ErrNoActiveRun)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  run.ID,
		"version": run.Version,
		"samples": run.Samples(),
	})
}

func (a *API) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error) {
	a.respondJSON(w, status, map[string]string{"error": err.Error()})
}
