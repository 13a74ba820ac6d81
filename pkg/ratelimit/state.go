// Package ratelimit handles HTTP 429 throttling. It parses Retry-After and
// remembers active cooldowns per host, optionally sharing them through Redis
// so that other processes fetching from the same host can honor them.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyPrefix prefixes the per-host throttle state keys.
const RedisKeyPrefix = "fetch:rate_limit:"

// RetryAfter returns the wait demanded by a 429 response. Only a plain
// non-negative integer number of seconds is honored; anything else (absent,
// HTTP-date, negative, fractional) yields fallback.
func RetryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" || !isDigits(v) {
		return fallback
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ThrottleState is the last throttle observed for a host.
type ThrottleState struct {
	Host string `json:"host"`

	// Until is when the server-requested wait ends.
	Until time.Time `json:"until"`

	// LastWait is the wait applied for the most recent 429.
	LastWait time.Duration `json:"last_wait"`

	// LastUpdate is when the 429 was observed.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether the cooldown has not yet elapsed.
func (s *ThrottleState) Active() bool {
	return s.Remaining() > 0
}

// Remaining returns the time left in the cooldown, or 0 once it has passed.
func (s *ThrottleState) Remaining() time.Duration {
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}
