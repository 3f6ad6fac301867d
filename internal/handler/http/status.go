package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
)

// slotSnapshot is one slot's worth of introspection data for /status.
type slotSnapshot struct {
	Exists        bool            `json:"exists"`
	Message       json.RawMessage `json:"message,omitempty"`
	MessageText   string          `json:"message_text,omitempty"`
	PostedTime    string          `json:"posted_time,omitempty"`
	PickupWait    string          `json:"pickup_wait,omitempty"`
	PickupTime    string          `json:"pickup_time,omitempty"`
	FastPollsLeft string          `json:"fast_polls_left,omitempty"`
}

type channelSnapshot struct {
	Channel string       `json:"channel"`
	Request slotSnapshot `json:"request"`
	Reply   slotSnapshot `json:"reply"`
}

// statusResponse is the body returned by GET /status, documented as a
// snapshot of recently active channels, not a full enumeration of every
// channel the store holds (§4.4 — Redis has no cheap key-scan we're willing
// to pay for on the request path).
type statusResponse struct {
	Version  string            `json:"version"`
	Channels []channelSnapshot `json:"channels"`
}

// StatusHandler serves GET /status from the bounded recent-channels tracker,
// reading each tracked channel's current slot fields straight from the store.
type StatusHandler struct {
	store  bridge.Store
	recent *RecentChannels
	logger *slog.Logger
}

// NewStatusHandler builds a StatusHandler. recent may be nil, in which case
// /status always reports zero channels.
func NewStatusHandler(store bridge.Store, recent *RecentChannels, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{store: store, recent: recent, logger: logger}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{Version: Version}

	for _, channel := range h.recent.Snapshot() {
		resp.Channels = append(resp.Channels, channelSnapshot{
			Channel: channel,
			Request: h.slotSnapshot(ctx, channel, bridge.Request),
			Reply:   h.slotSnapshot(ctx, channel, bridge.Reply),
		})
	}

	body, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("http: status marshal failed", "err", err)
		writePlain(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *StatusHandler) slotSnapshot(ctx context.Context, channel string, op bridge.Operation) slotSnapshot {
	var snap slotSnapshot

	if msg, ok, err := h.store.GetField(ctx, channel, op, bridge.FieldMessage); err == nil && ok {
		snap.Exists = true
		if json.Valid(msg) {
			snap.Message = json.RawMessage(msg)
		} else {
			snap.MessageText = string(msg)
		}
	}
	if v, ok, err := h.store.GetField(ctx, channel, op, bridge.FieldPostedTime); err == nil && ok {
		snap.PostedTime = string(v)
	}
	if v, ok, err := h.store.GetField(ctx, channel, op, bridge.FieldPickupWait); err == nil && ok {
		snap.PickupWait = string(v)
	}
	if v, ok, err := h.store.GetField(ctx, channel, op, bridge.FieldPickupTime); err == nil && ok {
		snap.PickupTime = string(v)
	}
	if v, ok, err := h.store.GetField(ctx, channel, op, bridge.FieldFastPollsLeft); err == nil && ok {
		snap.FastPollsLeft = string(v)
	}

	return snap
}
