package http

import (
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
)

// NewRouter builds the relay's chi router: CORS on every response, the five
// mailbox/liveness endpoints, and the status introspection endpoint.
// Generalized from the teacher's single chi-routed long-poll handler
// (internal/handler/lp/delivery.go) to this relay's full HTTP surface. admin
// may be nil, in which case /admin/test-channels is not registered.
func NewRouter(h *Handler, status *StatusHandler, admin *AdminHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/ping", h.Ping)
	r.Post("/queue_request", h.QueueRequest)
	r.Post("/queue_reply", h.QueueReply)
	r.Get("/dequeue_request", h.DequeueRequest)
	r.Get("/dequeue_reply", h.DequeueReply)
	if status != nil {
		r.Get("/status", status.ServeHTTP)
	}
	if admin != nil {
		r.Delete("/admin/test-channels", admin.DeleteTestChannels)
	}

	return r
}

// corsMiddleware sets Access-Control-Allow-Origin: * on every response,
// success or error, per §4.3. A bespoke middleware rather than a general CORS
// library: the relay's CORS contract is exactly one header, always present,
// with no preflight negotiation (the only verbs used are simple GET/POST).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// contentTypeIs reports whether the request's media type equals want
// (case-insensitive), ignoring parameters (charset, boundary, ...). It is an
// exact match, not a prefix match: a longer media type that merely starts
// with want does not match.
func contentTypeIs(r *http.Request, want string) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	parsed, _, err := mime.ParseMediaType(ct)
	if err != nil {
		parsed = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return strings.EqualFold(parsed, want)
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError renders a bridge error as a 500 (or whatever its Kind maps to)
// with the error's own message as a text/plain body, matching the original's
// _exception_message behavior of surfacing the raw exception text.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	if bErr, ok := bridge.AsError(err); ok {
		status = statusForKind(bErr.Kind)
		message = bErr.Message
	}

	writePlain(w, status, message)
}

// statusForKind maps every bridge.Kind to 500: the original's own handlers
// return a generic server error for each of its raised exceptions, relying on
// message text rather than status code to distinguish them (§7). A timed-out
// dequeue never reaches here — Dequeue returns (nil, nil) on timeout, and the
// mailbox handler maps that straight to 408 itself.
func statusForKind(kind bridge.Kind) int {
	return http.StatusInternalServerError
}
