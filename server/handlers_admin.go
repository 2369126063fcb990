package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/onnwee/tsnip/clip"
	"github.com/onnwee/tsnip/discovery"
	"github.com/onnwee/tsnip/telemetry"
)

type integrationBody struct {
	ChannelID       string `json:"channel_id"`
	NotifyWebhook   string `json:"notify_webhook"`
	CommentTemplate string `json:"comment_template"`
}

// HandleGetIntegration returns the stored integration of a channel.
func (h *Handlers) HandleGetIntegration(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	ci, err := h.deps.Store.GetChannelIntegration(r.Context(), channel)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if ci == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, integrationBody{ChannelID: ci.ChannelID, NotifyWebhook: ci.NotifyTarget, CommentTemplate: ci.CommentTemplate})
}

// HandlePutIntegration creates or replaces the integration of a channel.
func (h *Handlers) HandlePutIntegration(w http.ResponseWriter, r *http.Request) {
	channel := mux.Vars(r)["channel"]
	var body integrationBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.NotifyWebhook != "" {
		u, err := url.Parse(body.NotifyWebhook)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			http.Error(w, "notify_webhook must be an https URL", http.StatusBadRequest)
			return
		}
	}
	ci := clip.ChannelIntegration{ChannelID: channel, NotifyTarget: body.NotifyWebhook, CommentTemplate: body.CommentTemplate}
	if err := h.deps.Store.UpsertChannelIntegration(r.Context(), ci); err != nil {
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("channel integration updated", slog.String("channel_id", channel), slog.String("component", "admin"))
	writeJSON(w, http.StatusOK, integrationBody{ChannelID: channel, NotifyWebhook: ci.NotifyTarget, CommentTemplate: ci.CommentTemplate})
}

// HandleAdminDiscover queues stream discovery for ?chatid=&channelid=.
func (h *Handlers) HandleAdminDiscover(w http.ResponseWriter, r *http.Request) {
	chatID, channelID := r.URL.Query().Get("chatid"), r.URL.Query().Get("channelid")
	if chatID == "" || channelID == "" {
		http.Error(w, "chatid and channelid are required", http.StatusBadRequest)
		return
	}
	if h.deps.Scheduler == nil || h.deps.Discovery == nil {
		http.Error(w, "discovery not configured", http.StatusServiceUnavailable)
		return
	}
	accepted, err := h.deps.Scheduler.Schedule(discovery.Key(chatID, channelID), h.deps.Discovery.Task(chatID, channelID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": accepted})
}
