package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatusServer exposes read-only health and status over HTTP.
type StatusServer struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewStatusServer builds the routes for addr.
func NewStatusServer(addr string, service Service, logger *slog.Logger) *StatusServer {
	return &StatusServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           StatusRouter(service),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// StatusRouter serves /healthz and /status.
func StatusRouter(service Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := service.ServiceStatus()
		code := http.StatusOK
		for _, wk := range st.Workers {
			if wk.State == models.WorkerFailed {
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]any{"status": http.StatusText(code), "workers": len(st.Workers)})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, service.ServiceStatus())
	})
	r.Get("/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		for _, wk := range service.ServiceStatus().Workers {
			if wk.HotfolderID == id {
				writeJSON(w, http.StatusOK, wk)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, models.Failure("unknown hotfolder "+id))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Start blocks serving until Shutdown.
func (s *StatusServer) Start() error {
	s.logger.Info("Status endpoint listening.", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
