package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/onnwee/tsnip/telemetry"
)

type monitorResponse struct {
	OK         bool   `json:"ok"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Posted     int    `json:"posted"`
	MemberOnly int    `json:"member_only"`
	Scanned    int    `json:"scanned"`
	Aborted    bool   `json:"aborted"`
	Error      string `json:"error,omitempty"`
}

// HandleMonitorStreams runs one reconciliation scan and reports its summary.
// The scan is detached from the request so a caller hanging up does not leave
// an item half processed.
func (h *Handlers) HandleMonitorStreams(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "trigger"))
	if h.deps.Reconciler == nil {
		writeJSON(w, http.StatusServiceUnavailable, monitorResponse{Error: "reconciler not configured"})
		return
	}
	if !h.reconcileMu.TryLock() {
		writeJSON(w, http.StatusConflict, monitorResponse{Error: "reconciliation already running"})
		return
	}
	defer h.reconcileMu.Unlock()

	sum := h.deps.Reconciler.Run(context.WithoutCancel(r.Context()))
	resp := monitorResponse{
		OK:         sum.Err == nil,
		Processed:  sum.Processed(),
		Failed:     sum.Failed,
		Skipped:    sum.Skipped,
		Posted:     sum.Posted,
		MemberOnly: sum.MemberOnly,
		Scanned:    sum.Scanned,
		Aborted:    sum.Aborted,
	}
	status := http.StatusOK
	if sum.Err != nil {
		resp.Error = sum.Err.Error()
		status = http.StatusInternalServerError
		log.Error("reconciliation failed", slog.Any("err", sum.Err))
	}
	writeJSON(w, status, resp)
}
