package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"maxpop/internal/provision"
)

// Backend holds the queues served by the fake service.
type Backend interface {
	Push(ctx context.Context, queue string, p provision.Provision) error
	Pop(ctx context.Context, queue string, max int) ([]string, error)
	Len(ctx context.Context, queue string) (int64, error)
}

type ServerConfig struct {
	Addr     string
	Jitter   time.Duration // upper bound of the random delay added to every pop
	FailRate float64       // share of pops answered with 500
}

// Server is a stand-in for the queue service: enough of its API to drive a run locally.
type Server struct {
	cfg     ServerConfig
	backend Backend
	logger  *zap.Logger
}

func NewServer(cfg ServerConfig, backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, backend: backend, logger: logger}
}

type transaction struct {
	Payload string `json:"payload"`
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/trans", s.handlePush)
	r.Post("/queue/{id}/pop", s.handlePop)
	r.Get("/queue/{id}/size", s.handleSize)
	return r
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var p provision.Provision
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.respond(w, http.StatusBadRequest, response{Error: "invalid provision"})
		return
	}
	if len(p.Queues) == 0 {
		s.respond(w, http.StatusBadRequest, response{Error: "provision has no queues"})
		return
	}

	for _, q := range p.Queues {
		if err := s.backend.Push(r.Context(), q.ID, p); err != nil {
			s.logger.Error("push failed", zap.String("queue", q.ID), zap.Error(err))
			s.respond(w, http.StatusInternalServerError, response{Error: err.Error()})
			return
		}
	}
	s.respond(w, http.StatusCreated, response{OK: true})
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "id")
	max := 1
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respond(w, http.StatusBadRequest, response{Error: "max must be a positive integer"})
			return
		}
		max = n
	}

	if s.cfg.Jitter > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(s.cfg.Jitter)))):
		case <-r.Context().Done():
			return
		}
	}
	if s.cfg.FailRate > 0 && rand.Float64() < s.cfg.FailRate {
		s.respond(w, http.StatusInternalServerError, response{Error: "injected failure"})
		return
	}

	payloads, err := s.backend.Pop(r.Context(), queue, max)
	if err != nil {
		s.logger.Error("pop failed", zap.String("queue", queue), zap.Error(err))
		s.respond(w, http.StatusInternalServerError, response{Error: err.Error()})
		return
	}

	data := make([]transaction, len(payloads))
	for i, p := range payloads {
		data[i] = transaction{Payload: p}
	}
	s.respond(w, http.StatusOK, response{OK: true, Data: data})
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "id")
	n, err := s.backend.Len(r.Context(), queue)
	if err != nil {
		s.logger.Error("size failed", zap.String("queue", queue), zap.Error(err))
		s.respond(w, http.StatusInternalServerError, response{Error: err.Error()})
		return
	}
	s.respond(w, http.StatusOK, response{OK: true, Data: map[string]int64{"pending": n}})
}

func (s *Server) respond(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("fake queue service listening",
			zap.String("addr", s.cfg.Addr),
			zap.Duration("jitter", s.cfg.Jitter),
			zap.Float64("fail_rate", s.cfg.FailRate))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
