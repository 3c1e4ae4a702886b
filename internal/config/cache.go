package config

import "time"

// CacheConfig defines settings for the roster response cache middleware.
// When Enabled is false or no Redis client is configured, caching is
// disabled entirely.  TTL is deliberately short: the cache only absorbs
// bursts of roster fetches (many kiosks reconnecting at once), while
// correctness still comes from the clients' own stale-while-revalidate
// policy.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads cache settings from the environment with
// defaults suited to roster traffic.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: getenv("CACHE_ENABLED", "true") == "true",
		TTL:     parseDurDefault(getenv("CACHE_TTL", "5s"), 5*time.Second),
		Prefix:  getenv("CACHE_PREFIX", "roster-cache"),
	}
}

func parseDurDefault(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
