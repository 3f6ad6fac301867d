// Package config loads the relay's configuration from environment variables
// and an optional config file. A watched config file is re-decoded on every
// change and handed to Watcher subscribers; the relay applies only the
// cross-slot policy from a reload. The log level and every other setting are
// read once at startup.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StoreBackend selects the bridge.Store implementation.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
)

// Config holds every knob named in §6: the JUPYTER_* timing parameters, read
// verbatim from jupyter_bridge.py's own env var names, and the BRIDGE_*
// ambient settings.
type Config struct {
	Addr string `mapstructure:"addr"`

	StoreBackend StoreBackend `mapstructure:"store_backend"`
	RedisAddr    string       `mapstructure:"redis_addr"`

	CrossSlotPolicy string `mapstructure:"cross_slot_policy"`

	// DequeueTimeoutSecs, FastPollSecs, and SlowPollSecs are the wire
	// representation of JUPYTER_DEQUEUE_TIMEOUT_SECS /
	// JUPYTER_FAST_BRIDGE_POLL_SECS / JUPYTER_SLOW_BRIDGE_POLL_SECS — plain
	// seconds scalars, matching jupyter_bridge.py:51-54 exactly. DequeueTimeout
	// / FastPollInterval / SlowPollInterval are the time.Duration form derived
	// from them after decoding; bridge.Timing and everything else in this
	// repository consumes only the derived fields.
	DequeueTimeoutSecs float64 `mapstructure:"dequeue_timeout_secs"`
	FastPollSecs       float64 `mapstructure:"fast_poll_secs"`
	SlowPollSecs       float64 `mapstructure:"slow_poll_secs"`
	FastPollAllowance  int     `mapstructure:"fast_poll_allowance"`

	DequeueTimeout   time.Duration `mapstructure:"-"`
	FastPollInterval time.Duration `mapstructure:"-"`
	SlowPollInterval time.Duration `mapstructure:"-"`

	LogPath     string `mapstructure:"log_path"`
	LogLevel    string `mapstructure:"log_level"`
	OTelEnabled bool   `mapstructure:"otel_enabled"`

	AdminTestCleanupEnabled bool `mapstructure:"admin_test_cleanup_enabled"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("addr", "0.0.0.0:8086")

	v.SetDefault("store_backend", string(StoreBackendMemory))
	v.SetDefault("redis_addr", "localhost:6379")

	v.SetDefault("cross_slot_policy", "relaxed")

	// Matches jupyter_bridge.py's own defaults: a 15s deadline, a 0.1s fast
	// poll, a 2s slow poll, 10 fast polls allowed before dropping to slow.
	v.SetDefault("dequeue_timeout_secs", 15)
	v.SetDefault("fast_poll_secs", 0.1)
	v.SetDefault("slow_poll_secs", 2)
	v.SetDefault("fast_poll_allowance", 10)

	v.SetDefault("log_path", "jupyter-bridge.log")
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_enabled", false)

	v.SetDefault("admin_test_cleanup_enabled", false)
}

// Load reads configuration from (in ascending priority) defaults, an
// optional config file, environment variables, and any pflag values already
// bound onto v (see BindFlags). Pass nil for v to have Load build its own
// (the common case outside of `serve`'s command-line-override path).
//
// If configPath is non-empty, the file is watched with fsnotify; each
// rewrite produces a freshly decoded Config delivered to every subscriber of
// the returned Watcher.
func Load(configPath string, v *viper.Viper) (*Config, *Watcher, error) {
	if v == nil {
		v = viper.New()
	}
	defaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindJupyterEnv(v)
	bindBridgeEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}

	watcher := &Watcher{}
	if configPath != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			if reloaded, err := decode(v); err == nil {
				watcher.notify(reloaded)
			}
		})
		v.WatchConfig()
	}

	return cfg, watcher, nil
}

// Watcher delivers reloaded Config values to every subscriber, used to flip
// BRIDGE_CROSS_SLOT_POLICY (and any other hot-reloadable setting) on a live
// engine without a restart. A Watcher with no subscribers is a harmless no-op.
type Watcher struct {
	mu   sync.Mutex
	subs []func(*Config)
}

// Subscribe registers fn to be called with every config reload from this
// point on.
func (w *Watcher) Subscribe(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

func (w *Watcher) notify(cfg *Config) {
	w.mu.Lock()
	subs := make([]func(*Config), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
}

// BindFlags wires pflag definitions (for the `serve` CLI command) onto v so
// command-line overrides take precedence over environment variables. The
// caller is responsible for calling flags.Set for any flag it wants to
// override (see cmd/cmd.go's serveCmd, which bridges urfave/cli's own flags
// onto these before calling Load) — BindFlags only defines the flags and
// binds each one to its underscored config key directly (rather than via
// BindPFlags, which would key off the hyphenated flag name and silently miss
// the mapstructure field).
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("addr", "", "listen address, host:port")
	flags.String("store-backend", "", "store backend: memory or redis")
	flags.String("cross-slot-policy", "", "cross-slot policy: strict or relaxed")

	if err := v.BindPFlag("addr", flags.Lookup("addr")); err != nil {
		return err
	}
	if err := v.BindPFlag("store_backend", flags.Lookup("store-backend")); err != nil {
		return err
	}
	if err := v.BindPFlag("cross_slot_policy", flags.Lookup("cross-slot-policy")); err != nil {
		return err
	}
	return nil
}

func bindJupyterEnv(v *viper.Viper) {
	_ = v.BindEnv("dequeue_timeout_secs", "JUPYTER_DEQUEUE_TIMEOUT_SECS")
	_ = v.BindEnv("fast_poll_secs", "JUPYTER_FAST_BRIDGE_POLL_SECS")
	_ = v.BindEnv("slow_poll_secs", "JUPYTER_SLOW_BRIDGE_POLL_SECS")
	_ = v.BindEnv("fast_poll_allowance", "JUPYTER_ALLOWED_FAST_DEQUEUE_POLLS")
}

func bindBridgeEnv(v *viper.Viper) {
	_ = v.BindEnv("addr", "BRIDGE_ADDR")
	_ = v.BindEnv("store_backend", "BRIDGE_STORE_BACKEND")
	_ = v.BindEnv("redis_addr", "BRIDGE_REDIS_ADDR")
	_ = v.BindEnv("cross_slot_policy", "BRIDGE_CROSS_SLOT_POLICY")
	_ = v.BindEnv("log_path", "BRIDGE_LOG_PATH")
	_ = v.BindEnv("log_level", "BRIDGE_LOG_LEVEL")
	_ = v.BindEnv("otel_enabled", "BRIDGE_OTEL_ENABLED")
	_ = v.BindEnv("admin_test_cleanup_enabled", "BRIDGE_ADMIN_TEST_CLEANUP_ENABLED")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.DequeueTimeout = secsToDuration(cfg.DequeueTimeoutSecs)
	cfg.FastPollInterval = secsToDuration(cfg.FastPollSecs)
	cfg.SlowPollInterval = secsToDuration(cfg.SlowPollSecs)

	switch cfg.StoreBackend {
	case StoreBackendMemory, StoreBackendRedis:
	default:
		return nil, fmt.Errorf("config: unknown store_backend %q", cfg.StoreBackend)
	}
	switch cfg.CrossSlotPolicy {
	case "strict", "relaxed":
	default:
		return nil, fmt.Errorf("config: unknown cross_slot_policy %q", cfg.CrossSlotPolicy)
	}
	return &cfg, nil
}

func secsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
