package httpapi

import (
	"context"
	"net/http"
	"time"
)

// ReadyzCheck probes one dependency; a nil return means ready.
type ReadyzCheck func(ctx context.Context) error

// Healthz reports process liveness only. It must stay dependency-free so a
// wedged store never makes the orchestrator restart-loop the process.
func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// Readyz runs every check under one shared timeout and reports 503 on the
// first failure.
func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		for _, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
