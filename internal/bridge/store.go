package bridge

import (
	"context"
	"time"
)

// Store is the slot store contract from §4.1: per-channel, per-slot mailbox
// state with field-level atomic mutation and whole-key TTL. Two
// implementations exist — internal/bridge/memstore (default, in-process) and
// internal/bridge/redisstore (for multi-replica deployments) — the engine is
// written against this interface and is indifferent to which one backs it.
type Store interface {
	// GetField returns the current value of a single field, or (nil, false)
	// if the key or the field is absent.
	GetField(ctx context.Context, channel string, op Operation, field Field) ([]byte, bool, error)

	// SetFields atomically writes the given fields, creating the key if it
	// doesn't already exist.
	SetFields(ctx context.Context, channel string, op Operation, fields Fields) error

	// DeleteField deletes a single field and reports how many fields were
	// removed (0 or 1). When permissive is true, an absent field is not an
	// error: DeleteField tolerates it and returns (0, nil).
	DeleteField(ctx context.Context, channel string, op Operation, field Field, permissive bool) (int, error)

	// Expire resets the key's TTL.
	Expire(ctx context.Context, channel string, op Operation, ttl time.Duration) error

	// Exists reports whether the (channel, op) key currently exists.
	Exists(ctx context.Context, channel string, op Operation) (bool, error)
}
