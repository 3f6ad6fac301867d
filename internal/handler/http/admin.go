package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
)

// AdminHandler serves the test-support cleanup endpoint the original test
// suite relies on (its setUp deletes every test:* Redis key before each run).
// Gated behind BRIDGE_ADMIN_TEST_CLEANUP_ENABLED, off by default: it has no
// role in the wire contract and must never run against a production store.
type AdminHandler struct {
	store  bridge.Store
	recent *RecentChannels
	logger *slog.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(store bridge.Store, recent *RecentChannels, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{store: store, recent: recent, logger: logger}
}

// DeleteTestChannels handles DELETE /admin/test-channels: it clears both
// slots of every tracked channel whose store keys fall under the "test:*"
// convention §6 reserves for the test harness — either a channel id that
// itself starts with "test:", or the literal channel id "test" (whose slot
// keys are "test:request" / "test:reply", matching the original test suite).
func (a *AdminHandler) DeleteTestChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cleared := 0

	for _, channel := range a.recent.Snapshot() {
		if channel != "test" && !strings.HasPrefix(channel, "test:") {
			continue
		}
		a.clearSlot(ctx, channel, bridge.Request)
		a.clearSlot(ctx, channel, bridge.Reply)
		cleared++
	}

	a.logger.Info("http: admin cleared test channels", "count", cleared)
	writePlain(w, http.StatusOK, "")
}

func (a *AdminHandler) clearSlot(ctx context.Context, channel string, op bridge.Operation) {
	for _, field := range []bridge.Field{
		bridge.FieldMessage, bridge.FieldPostedTime, bridge.FieldPickupWait,
		bridge.FieldPickupTime, bridge.FieldFastPollsLeft,
	} {
		if _, err := a.store.DeleteField(ctx, channel, op, field, true); err != nil {
			a.logger.Warn("http: admin cleanup failed", "channel", channel, "op", op, "field", field, "err", err)
		}
	}
}
