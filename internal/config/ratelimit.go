package config

import "time"

// RateLimitConfig drives the fixed-window limiter.  Writes (booking,
// posting trips, chat messages) are counted separately from reads and
// usually get the smaller budget.
type RateLimitConfig struct {
	Enabled     bool
	Limit       int
	WriteLimit  int
	Window      time.Duration
	KeyStrategy string
	Prefix      string
	Debug       bool
}

func LoadRateLimitConfig() RateLimitConfig {
	c := RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		Limit:       envInt("RATE_LIMIT_LIMIT", 120),
		WriteLimit:  envInt("RATE_LIMIT_WRITE_LIMIT", 30),
		Window:      envDur("RATE_LIMIT_WINDOW", time.Minute),
		KeyStrategy: envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user"),
		Prefix:      envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:       envBool("RATE_LIMIT_DEBUG", false),
	}
	if c.Limit < 1 {
		c.Limit = 1
	}
	if c.WriteLimit < 1 || c.WriteLimit > c.Limit {
		c.WriteLimit = c.Limit
	}
	if c.Window < time.Second {
		c.Window = time.Second
	}
	return c
}
