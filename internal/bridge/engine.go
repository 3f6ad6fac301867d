package bridge

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// Engine implements the enqueue/dequeue semantics of §4.2 on top of a Store:
// the long-poll wait loop, the adaptive fast/slow polling cadence, and the
// zombie-reader reset. The store is the only mutable shared state beyond the
// policy itself; Engine holds no per-channel state of its own.
type Engine struct {
	store  Store
	policy atomic.Int32 // CrossSlotPolicy, mutable at runtime via SetPolicy
	timing Timing
	logger *slog.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

// New builds an Engine over the given Store. Defaults: PolicyRelaxed,
// DefaultTiming(), slog.Default(), time.Now, time.Sleep.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		timing: DefaultTiming(),
		logger: slog.Default(),
		now:    time.Now,
		sleep:  time.Sleep,
	}
	e.policy.Store(int32(PolicyRelaxed))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPolicy changes the cross-slot policy on a live Engine, taking effect for
// every Enqueue call from this point on — including ones already in flight
// that haven't yet reached guardCrossSlot. Used to wire config hot-reload.
func (e *Engine) SetPolicy(p CrossSlotPolicy) {
	e.policy.Store(int32(p))
}

func (e *Engine) crossSlotPolicy() CrossSlotPolicy {
	return CrossSlotPolicy(e.policy.Load())
}

func timestamp(now time.Time) []byte {
	return []byte(now.Format(time.ANSIC))
}

// Enqueue parks msg in (channel, op)'s mailbox. Fails with ErrSlotOccupied if
// the slot already holds an undelivered message. For op == Request, also
// enforces the cross-slot rule: a new request may not be accepted while the
// reply slot still holds an undelivered reply (PolicyStrict fails outright;
// PolicyRelaxed logs a warning and drops the stale reply first).
func (e *Engine) Enqueue(ctx context.Context, op Operation, channel string, msg []byte) error {
	e.logger.Debug("bridge: into enqueue", "op", op, "channel", channel)
	defer e.logger.Debug("bridge: out of enqueue", "op", op, "channel", channel)

	if op == Request {
		if err := e.guardCrossSlot(ctx, channel, msg); err != nil {
			return err
		}
	}

	slotKey := key(channel, op)
	existing, present, err := e.store.GetField(ctx, channel, op, FieldMessage)
	if err != nil {
		return ErrStoreFailure("get_field", slotKey, err)
	}
	if present && len(existing) > 0 {
		return ErrSlotOccupied(slotKey)
	}

	if err := e.store.SetFields(ctx, channel, op, Fields{
		FieldMessage:    msg,
		FieldPostedTime: timestamp(e.now()),
		FieldPickupWait: []byte(""),
		FieldPickupTime: []byte(""),
	}); err != nil {
		return ErrStoreFailure("set_fields", slotKey, err)
	}

	if err := e.store.Expire(ctx, channel, op, ChannelTTL); err != nil {
		return ErrStoreFailure("expire", slotKey, err)
	}
	return nil
}

// guardCrossSlot implements the "new request requires empty reply slot" rule.
func (e *Engine) guardCrossSlot(ctx context.Context, channel string, msg []byte) error {
	replyKey := key(channel, Reply)
	lastReply, present, err := e.store.GetField(ctx, channel, Reply, FieldMessage)
	if err != nil {
		return ErrStoreFailure("get_field", replyKey, err)
	}
	if !present || len(lastReply) == 0 {
		return nil
	}

	if e.crossSlotPolicy() == PolicyStrict {
		return ErrProtocolViolation(replyKey, lastReply)
	}

	e.logger.Warn("bridge: reply not picked up before new request, dropping stale reply",
		"channel", channel, "reply", string(lastReply), "request", string(msg))
	if _, err := e.store.DeleteField(ctx, channel, Reply, FieldMessage, true); err != nil {
		return ErrStoreFailure("delete_field", replyKey, err)
	}
	return nil
}

// Dequeue blocks (via adaptive polling) until a message arrives in
// (channel, op)'s mailbox or the deadline elapses. Returns (nil, nil) on
// timeout — the HTTP layer renders that as 408. If resetFirst is true, any
// message already parked at entry is cleared before the wait begins, so a
// zombie long-poll's stale payload never gets delivered to the wrong reader.
func (e *Engine) Dequeue(ctx context.Context, op Operation, channel string, resetFirst bool) ([]byte, error) {
	e.logger.Debug("bridge: into dequeue", "op", op, "channel", channel, "reset_first", resetFirst)
	defer e.logger.Debug("bridge: out of dequeue", "op", op, "channel", channel)

	slotKey := key(channel, op)

	if resetFirst {
		if _, err := e.store.DeleteField(ctx, channel, op, FieldMessage, true); err != nil {
			return nil, ErrStoreFailure("delete_field", slotKey, err)
		}
	}

	if err := e.store.SetFields(ctx, channel, op, Fields{
		FieldPickupWait: timestamp(e.now()),
		FieldPickupTime: []byte(""),
	}); err != nil {
		return nil, ErrStoreFailure("set_fields", slotKey, err)
	}

	pollInterval, err := e.nextPollInterval(ctx, channel, op)
	if err != nil {
		return nil, err
	}

	if err := e.store.Expire(ctx, channel, op, ChannelTTL); err != nil {
		return nil, ErrStoreFailure("expire", slotKey, err)
	}

	msg, err := e.poll(ctx, channel, op, pollInterval)
	if err != nil {
		return nil, err
	}

	if msg == nil {
		e.logger.Debug("bridge: dequeue timed out", "op", op, "channel", channel, "poll_interval", pollInterval)
		return nil, nil
	}

	if _, err := e.store.DeleteField(ctx, channel, op, FieldMessage, false); err != nil {
		return nil, ErrStoreFailure("delete_field", slotKey, err)
	}
	if err := e.store.SetFields(ctx, channel, op, Fields{
		FieldPickupTime:    timestamp(e.now()),
		FieldFastPollsLeft: []byte(strconv.Itoa(e.timing.FastPollAllowance)),
	}); err != nil {
		return nil, ErrStoreFailure("set_fields", slotKey, err)
	}
	return msg, nil
}

// nextPollInterval implements the fast/slow adaptive cadence: the first
// FastPollAllowance dequeue calls on a slot poll at FastPoll, then it drops to
// SlowPoll until a successful pickup resets the counter. This amortizes
// backend bandwidth against UX latency: a zombie or abandoned poller quickly
// falls back to the slow interval, while a user actively waiting for a reply
// stays fast.
func (e *Engine) nextPollInterval(ctx context.Context, channel string, op Operation) (time.Duration, error) {
	slotKey := key(channel, op)

	raw, present, err := e.store.GetField(ctx, channel, op, FieldFastPollsLeft)
	if err != nil {
		return 0, ErrStoreFailure("get_field", slotKey, err)
	}

	fastPollsLeft := e.timing.FastPollAllowance
	if present && len(raw) > 0 {
		if parsed, convErr := strconv.Atoi(string(raw)); convErr == nil {
			fastPollsLeft = parsed
		}
	}

	if fastPollsLeft > 0 {
		fastPollsLeft--
		if err := e.store.SetFields(ctx, channel, op, Fields{
			FieldFastPollsLeft: []byte(strconv.Itoa(fastPollsLeft)),
		}); err != nil {
			return 0, ErrStoreFailure("set_fields", slotKey, err)
		}
		return e.timing.FastPoll, nil
	}
	return e.timing.SlowPoll, nil
}

// poll repeatedly samples the message field until it appears or the deadline
// elapses. It also returns early on ctx cancellation (client disconnect),
// which only ever makes the wait end sooner than the documented deadline.
func (e *Engine) poll(ctx context.Context, channel string, op Operation, interval time.Duration) ([]byte, error) {
	slotKey := key(channel, op)
	deadline := e.now().Add(e.timing.DequeueTimeout)

	for {
		msg, present, err := e.store.GetField(ctx, channel, op, FieldMessage)
		if err != nil {
			return nil, ErrStoreFailure("get_field", slotKey, err)
		}
		if present && len(msg) > 0 {
			return msg, nil
		}

		if !e.now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}

		e.sleep(interval)
	}
}
