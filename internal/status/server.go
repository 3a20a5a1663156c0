// Package status is the optional local debug listener: liveness, a
// non-secret view of the bootstrap run, and Prometheus metrics. It exists
// for operators watching a fleet converge; nothing in the bootstrap logic
// depends on it.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Tracker holds the externally visible state of the run. Secret values never
// pass through here.
type Tracker struct {
	mu    sync.RWMutex
	phase string
	role  string
	fail  string
}

func NewTracker() *Tracker {
	return &Tracker{phase: "starting"}
}

func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()
}

func (t *Tracker) SetRole(role string) {
	t.mu.Lock()
	t.role = role
	t.mu.Unlock()
}

func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	t.phase = "failed"
	if err != nil {
		t.fail = err.Error()
	}
	t.mu.Unlock()
}

type view struct {
	Phase string `json:"phase"`
	Role  string `json:"role,omitempty"`
	Error string `json:"error,omitempty"`
}

func (t *Tracker) snapshot() view {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return view{Phase: t.phase, Role: t.role, Error: t.fail}
}

// Router builds the debug routes.
func Router(t *Tracker) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t.snapshot())
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve runs the listener until ctx is canceled, then shuts it down. A
// closed listener is a normal exit, not an error.
func Serve(ctx context.Context, addr string, t *Tracker, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(t),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info("debug listener started", zap.String("addr", addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
