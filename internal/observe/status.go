package observe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perchkit/perch/internal/health"
)

// Snapshot produces the payload served at /status. It is called per request
// and must be safe for concurrent use.
type Snapshot func() any

// StatusServer is the local HTTP endpoint exposing /metrics, /healthz,
// /readyz, and a JSON /status snapshot of the client's runtime state.
type StatusServer struct {
	srv *http.Server
}

// NewStatusServer builds a status server listening on addr. snapshot may be
// nil, in which case /status serves an empty object.
func NewStatusServer(addr string, h *health.Handler, snapshot Snapshot) *StatusServer {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	h.Register(r)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		var payload any = struct{}{}
		if snapshot != nil {
			payload = snapshot()
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)

	return &StatusServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *StatusServer) Handler() http.Handler { return s.srv.Handler }

// Start blocks serving until Shutdown is called or the listener fails.
func (s *StatusServer) Start() error {
	slog.Info("status server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
