package bridge

import (
	"log/slog"
	"time"
)

// CrossSlotPolicy selects how Enqueue(Request, ...) behaves when the
// companion reply slot still holds an undelivered message. The repository's
// own history shows both modes (§9); this implementation exposes both and
// defaults to PolicyRelaxed per the spec's recommendation.
type CrossSlotPolicy int

const (
	// PolicyRelaxed logs a warning and drops the stale reply before accepting
	// the new request. Recovers automatically from a kernel restarted between
	// request and reply.
	PolicyRelaxed CrossSlotPolicy = iota
	// PolicyStrict fails the new request with ErrProtocolViolation, catching
	// peer bugs at the cost of requiring the reply to be picked up first.
	PolicyStrict
)

// Timing holds the long-poll timing contract from §4.2, tunable via
// environment variables by the config loader.
type Timing struct {
	DequeueTimeout    time.Duration
	FastPoll          time.Duration
	SlowPoll          time.Duration
	FastPollAllowance int
}

// DefaultTiming returns the §4.2 defaults: 15s deadline, 0.1s fast poll, 2s
// slow poll, 10 fast polls allowed before dropping to the slow cadence.
func DefaultTiming() Timing {
	return Timing{
		DequeueTimeout:    15 * time.Second,
		FastPoll:          100 * time.Millisecond,
		SlowPoll:          2 * time.Second,
		FastPollAllowance: 10,
	}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithPolicy sets the cross-slot policy. Defaults to PolicyRelaxed.
func WithPolicy(p CrossSlotPolicy) Option {
	return func(e *Engine) { e.SetPolicy(p) }
}

// WithTiming overrides the long-poll timing contract. Defaults to DefaultTiming().
func WithTiming(t Timing) Option {
	return func(e *Engine) { e.timing = t }
}

// WithLogger attaches a logger for handler/step entry-exit tracing (§4.4).
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the wall-clock source used to stamp posted_time,
// pickup_wait, and pickup_time. Defaults to time.Now; tests substitute a
// fixed or stepped clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleeper overrides the poll-interval sleep function. Defaults to
// time.Sleep; tests substitute a fast-forwarding sleeper so the adaptive
// cadence and the 15s deadline can be exercised without real wall-clock waits.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}
