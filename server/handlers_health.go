package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/tsnip/annotate"
	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/telemetry"
	"github.com/onnwee/tsnip/youtubeapi"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil || h.deps.DB.PingContext(r.Context()) != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the database answers and a YouTube token
// for the commenting account is stored.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.deps.DB == nil {
				return errors.New("no database")
			}
			return h.deps.DB.PingContext(r.Context())
		}},
		{"credentials", func() error {
			var count int
			err := h.deps.DB.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider = $1", youtubeapi.Provider).Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return errors.New("missing OAuth tokens")
			}
			return nil
		}},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus summarises stream records by status and the last scan time.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	counts, err := h.deps.Store.StreamCounts(r.Context())
	if err != nil {
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"pending":     counts[clip.StatusPending],
		"ended":       counts[clip.StatusEnded],
		"member_only": counts[clip.StatusMemberOnly],
		"failed":      counts[clip.StatusFailed],
		"tracing":     telemetry.IsTracingEnabled(),
	}
	if last, err := h.deps.Store.GetKV(r.Context(), annotate.LastRunKey); err == nil && last != "" {
		if t, err := time.Parse(time.RFC3339, last); err == nil {
			resp["last_reconcile"] = t.UTC()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
