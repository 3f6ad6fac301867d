// Package http implements the cross-origin HTTP surface described in §4.3:
// four mailbox endpoints, a liveness endpoint, and a status endpoint,
// generalized from the teacher's single long-poll handler
// (internal/handler/lp/delivery.go) into this relay's five-endpoint contract.
package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
)

// Version is reported by /ping as "pong <version>".
const Version = "1.0.0"

// Bridger is the narrow interface the HTTP handlers depend on. It is
// satisfied by *bridge.Engine; tests can substitute a fake.
type Bridger interface {
	Enqueue(ctx context.Context, op bridge.Operation, channel string, msg []byte) error
	Dequeue(ctx context.Context, op bridge.Operation, channel string, resetFirst bool) ([]byte, error)
}

// Handler holds the dependencies shared by every mailbox endpoint.
type Handler struct {
	engine Bridger
	logger *slog.Logger
	recent *RecentChannels
}

// New builds a Handler over the given engine. recent may be nil, in which
// case touched channels are not tracked for the /status endpoint.
func New(engine Bridger, logger *slog.Logger, recent *RecentChannels) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger, recent: recent}
}

// Ping handles GET /ping.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("http: into ping")
	defer h.logger.Debug("http: out of ping")

	writePlain(w, http.StatusOK, "pong "+Version)
}

// QueueRequest handles POST /queue_request?channel=C: the kernel parks a JSON
// RPC description for the browser to execute.
func (h *Handler) QueueRequest(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("http: into queue_request")
	defer h.logger.Debug("http: out of queue_request")
	h.queue(w, r, bridge.Request, "application/json")
}

// QueueReply handles POST /queue_reply?channel=C: the browser parks the raw
// result of the local RPC for the kernel to pick up.
func (h *Handler) QueueReply(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("http: into queue_reply")
	defer h.logger.Debug("http: out of queue_reply")
	h.queue(w, r, bridge.Reply, "text/plain")
}

func (h *Handler) queue(w http.ResponseWriter, r *http.Request, op bridge.Operation, wantContentType string) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}

	if !contentTypeIs(r, wantContentType) {
		writeError(w, bridge.ErrBadContentType(wantContentType))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, bridge.ErrStoreFailure("read_body", channel, err))
		return
	}

	if err := h.engine.Enqueue(r.Context(), op, channel, body); err != nil {
		h.logger.Debug("http: queue exception", "op", op, "channel", channel, "err", err)
		writeError(w, err)
		return
	}

	h.recent.Touch(channel)
	writePlain(w, http.StatusOK, "")
}

// DequeueRequest handles GET /dequeue_request?channel=C[&reset]: the browser
// long-polls for the kernel's next RPC request.
func (h *Handler) DequeueRequest(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("http: into dequeue_request")
	defer h.logger.Debug("http: out of dequeue_request")
	h.dequeue(w, r, bridge.Request)
}

// DequeueReply handles GET /dequeue_reply?channel=C[&reset]: the kernel
// long-polls for the browser's RPC result.
func (h *Handler) DequeueReply(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("http: into dequeue_reply")
	defer h.logger.Debug("http: out of dequeue_reply")
	h.dequeue(w, r, bridge.Reply)
}

func (h *Handler) dequeue(w http.ResponseWriter, r *http.Request, op bridge.Operation) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}
	_, resetFirst := r.URL.Query()["reset"]

	message, err := h.engine.Dequeue(r.Context(), op, channel, resetFirst)
	if err != nil {
		h.logger.Debug("http: dequeue exception", "op", op, "channel", channel, "err", err)
		writeError(w, err)
		return
	}
	if message == nil {
		writePlain(w, http.StatusRequestTimeout, "")
		return
	}

	h.recent.Touch(channel)
	writeJSON(w, http.StatusOK, pad(message))
}

func channelParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	query := r.URL.Query()
	if !query.Has("channel") {
		writeError(w, bridge.ErrMissingChannel())
		return "", false
	}
	return query.Get("channel"), true
}
