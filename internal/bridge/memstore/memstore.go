// Package memstore is the default, in-process implementation of bridge.Store.
// It is the store a single relay replica needs: no external dependency, no
// network round trip per field op. Key reclamation is grounded on the
// teacher's actor-registry eviction loop (internal/domain/registry/hub.go's
// runEvictor/performEviction), repurposed here from "idle user cell"
// reclamation to "idle slot key" reclamation.
package memstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cytoscape/jupyter-bridge/internal/bridge"
)

// slot holds one mailbox's field set plus its own deadline and mutex. It
// corresponds 1:1 to a Redis hash key ("<channel>:<op>"): each of a channel's
// two slots has its own independent TTL, exactly as two separate Redis keys
// would.
type slot struct {
	mu       sync.Mutex
	fields   bridge.Fields
	deadline time.Time
}

func newSlot() *slot {
	return &slot{fields: make(bridge.Fields)}
}

func (sl *slot) expired(now time.Time) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return !sl.deadline.IsZero() && now.After(sl.deadline)
}

// Store is an in-memory, concurrency-safe implementation of bridge.Store.
// Slots are kept in a sync.Map (write-once-read-many across many distinct
// channel ids, exactly the access pattern sync.Map is built for) and
// reclaimed by a background reaper, mirroring the teacher's evictor.
type Store struct {
	slots sync.Map // string ("channel:op") -> *slot

	evictionInterval time.Duration
	logger           *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithEvictionInterval overrides how often the reaper sweeps for expired
// slots. Defaults to one minute.
func WithEvictionInterval(d time.Duration) Option {
	return func(s *Store) { s.evictionInterval = d }
}

// WithLogger attaches a logger for reaper diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store and starts its background reaper. Call Close to stop it.
func New(opts ...Option) *Store {
	s := &Store{
		evictionInterval: time.Minute,
		logger:           slog.Default(),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.runReaper()
	return s
}

// Close stops the background reaper. It does not clear existing slots.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) runReaper() {
	ticker := time.NewTicker(s.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

// reapExpired deletes slot keys that were touched (given a deadline) and have
// since passed it. A slot that was never touched has a zero deadline and is
// never reaped by age alone.
func (s *Store) reapExpired() {
	now := time.Now()
	reaped := 0

	s.slots.Range(func(k, value any) bool {
		sl := value.(*slot)
		if sl.expired(now) {
			s.slots.Delete(k)
			reaped++
		}
		return true
	})

	if reaped > 0 {
		s.logger.Debug("memstore: reaped expired slots", "count", reaped)
	}
}

func slotKey(channel string, op bridge.Operation) string {
	return channel + ":" + string(op)
}

func (s *Store) load(channel string, op bridge.Operation) *slot {
	val, _ := s.slots.LoadOrStore(slotKey(channel, op), newSlot())
	return val.(*slot)
}

func (s *Store) GetField(ctx context.Context, channel string, op bridge.Operation, field bridge.Field) ([]byte, bool, error) {
	val, ok := s.slots.Load(slotKey(channel, op))
	if !ok {
		return nil, false, nil
	}
	sl := val.(*slot)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	v, ok := sl.fields[field]
	return v, ok, nil
}

func (s *Store) SetFields(ctx context.Context, channel string, op bridge.Operation, fields bridge.Fields) error {
	sl := s.load(channel, op)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	for f, v := range fields {
		sl.fields[f] = v
	}
	return nil
}

func (s *Store) DeleteField(ctx context.Context, channel string, op bridge.Operation, field bridge.Field, permissive bool) (int, error) {
	val, ok := s.slots.Load(slotKey(channel, op))
	if !ok {
		if permissive {
			return 0, nil
		}
		return 0, bridge.ErrStoreFailure("delete_field", slotKey(channel, op), errNoSuchKey)
	}
	sl := val.(*slot)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if _, present := sl.fields[field]; !present {
		if permissive {
			return 0, nil
		}
		return 0, bridge.ErrStoreFailure("delete_field", slotKey(channel, op), errNoSuchField)
	}
	delete(sl.fields, field)
	return 1, nil
}

func (s *Store) Expire(ctx context.Context, channel string, op bridge.Operation, ttl time.Duration) error {
	sl := s.load(channel, op)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.deadline = time.Now().Add(ttl)
	return nil
}

func (s *Store) Exists(ctx context.Context, channel string, op bridge.Operation) (bool, error) {
	val, ok := s.slots.Load(slotKey(channel, op))
	if !ok {
		return false, nil
	}
	sl := val.(*slot)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.fields) > 0, nil
}

var (
	errNoSuchKey   = errNoSuch("key")
	errNoSuchField = errNoSuch("field")
)

type errNoSuch string

func (e errNoSuch) Error() string { return "no such " + string(e) }
