package rpcx

import "net/http"

// handleHealth implements GET /healthz: a liveness probe that always
// succeeds once the process is serving requests.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReady implements GET /readyz, delegating to the configured
// readiness probe (e.g. a metastore ping); absent a probe, ready is
// equivalent to alive.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Readiness != nil {
		if err := h.cfg.Readiness(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
