// ABOUTME: LRU cache of fetcher probe results, keyed by normalized URL
// ABOUTME: so a repeat submission during one process lifetime skips the probe round-trip
package ingest

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const probeCacheSize = 256

// streamURLFreshness bounds how long a cached stream URL is trusted. The
// accepted hosts hand out signed, time-limited stream URLs, so a hit older
// than this still needs a fresh --stream-url call even though its title and
// duration remain valid.
const streamURLFreshness = 10 * time.Minute

// probeCacheEntry holds one cached probe result.
type probeCacheEntry struct {
	title     string
	duration  float64
	streamURL string
	fetchedAt time.Time
}

// probeCache memoizes probe results per normalized URL.
type probeCache struct {
	cache *lru.Cache[string, *probeCacheEntry]
}

func newProbeCache() *probeCache {
	c, err := lru.New[string, *probeCacheEntry](probeCacheSize)
	if err != nil {
		// only returns an error for a non-positive size, which probeCacheSize
		// never is; a cache that can't be constructed is a programming error.
		panic(err)
	}
	return &probeCache{cache: c}
}

func (pc *probeCache) get(key string) (*probeCacheEntry, bool) {
	entry, ok := pc.cache.Get(key)
	return entry, ok
}

func (pc *probeCache) streamURLFresh(entry *probeCacheEntry) bool {
	return time.Since(entry.fetchedAt) < streamURLFreshness
}

func (pc *probeCache) put(key string, entry *probeCacheEntry) {
	pc.cache.Add(key, entry)
}
