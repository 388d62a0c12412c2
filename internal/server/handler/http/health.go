package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports whether a backing store is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves the liveness check.
type HealthHandler struct {
	// DB is checked on every request when set.
	DB Pinger
}

// Health handles GET /healthz. It answers 200 with {"status":"ok"}, or 503
// when the database does not answer within two seconds.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
