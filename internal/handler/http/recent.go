package http

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultRecentChannels bounds the number of distinct channel ids the status
// endpoint remembers having seen. Chosen generously above any single
// deployment's expected live-channel count; eviction only means a long-idle
// channel drops out of /status, never that the channel itself stops working.
const defaultRecentChannels = 4096

// RecentChannels is a bounded, in-process record of channel ids the relay has
// recently touched, used to drive §4.4's /status endpoint without requiring
// the store to support key enumeration (the Redis backend has none cheap).
type RecentChannels struct {
	cache *lru.Cache[string, struct{}]
}

// NewRecentChannels builds a tracker holding up to defaultRecentChannels ids.
func NewRecentChannels() *RecentChannels {
	cache, err := lru.New[string, struct{}](defaultRecentChannels)
	if err != nil {
		// Only fails for a non-positive size, which defaultRecentChannels never is.
		panic(err)
	}
	return &RecentChannels{cache: cache}
}

// Touch records that channel was just used by a mailbox operation.
func (r *RecentChannels) Touch(channel string) {
	if r == nil {
		return
	}
	r.cache.Add(channel, struct{}{})
}

// Snapshot returns the currently tracked channel ids, most recently used first.
func (r *RecentChannels) Snapshot() []string {
	if r == nil {
		return nil
	}
	keys := r.cache.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[len(keys)-1-i] = k
	}
	return out
}
