package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/discovery"
	"github.com/onnwee/tsnip/integrations"
	"github.com/onnwee/tsnip/telemetry"
)

const defaultUser = "unknown"

// HandleClip records one clip event. Parameters come from the path
// (/api/clip/{chatid}/{msg}) or the query/form (chatid, msg, user, channelid,
// delay). The reply is plain text because chat bots echo the body verbatim.
func (h *Handlers) HandleClip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "ingest"))
	vars := mux.Vars(r)

	chatID := firstNonEmpty(vars["chatid"], queryOrForm(r, "chatid"))
	if chatID == "" {
		http.Error(w, "missing chatid", http.StatusBadRequest)
		return
	}
	msg := firstNonEmpty(vars["msg"], queryOrForm(r, "msg"))
	if isPlaceholder(msg) {
		msg = ""
	}
	user := clip.CleanUser(queryOrForm(r, "user"))
	if user == "" || isPlaceholder(user) {
		user = defaultUser
	}
	channelID := firstNonEmpty(queryOrForm(r, "channelid"), queryOrForm(r, "channel"))
	if isPlaceholder(channelID) {
		channelID = ""
	}
	delay := h.deps.DefaultDelay
	if raw := queryOrForm(r, "delay"); raw != "" && !isPlaceholder(raw) {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			http.Error(w, "delay must be a non-negative integer", http.StatusBadRequest)
			return
		}
		delay = n
	}

	if h.deps.Store == nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	ev, err := h.deps.Store.InsertEvent(ctx, clip.Event{
		ChatGroupID:  chatID,
		ChannelID:    channelID,
		UserName:     user,
		Message:      msg,
		DelaySeconds: delay,
		SubmittedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Error("insert clip event failed", slog.Any("err", err), slog.String("chat_id", chatID))
		http.Error(w, "failed to record clip", http.StatusInternalServerError)
		return
	}
	telemetry.IncClipsIngested()
	log.Info("clip recorded", slog.String("event_id", ev.ID), slog.String("chat_id", chatID), slog.String("channel_id", channelID), slog.Int("delay", delay))

	h.scheduleDiscovery(log, chatID, channelID)

	if h.deps.Notifier != nil && channelID != "" {
		h.deps.Notifier.Dispatch(ctx, ev)
	}

	tpl := integrations.DefaultTemplate
	if h.deps.Templates != nil {
		tpl = h.deps.Templates.Template(ctx, channelID)
	}
	reply := integrations.Render(tpl, integrations.Vars{
		Delay:    delay,
		User:     user,
		Message:  msg,
		ToolUsed: h.deps.ToolName,
	})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reply))
}

func (h *Handlers) scheduleDiscovery(log *slog.Logger, chatID, channelID string) {
	if channelID == "" || h.deps.Scheduler == nil || h.deps.Discovery == nil {
		return
	}
	accepted, err := h.deps.Scheduler.Schedule(discovery.Key(chatID, channelID), h.deps.Discovery.Task(chatID, channelID))
	switch {
	case err != nil:
		log.Warn("discovery not scheduled", slog.Any("err", err))
	case accepted:
		log.Debug("discovery scheduled", slog.String("channel_id", channelID))
	}
}
