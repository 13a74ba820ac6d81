package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_rate_limited_total",
		Help: "Total number of 429 responses by host",
	}, []string{"host"})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetch_rate_limit_wait_seconds",
		Help:    "Wait applied after 429 responses",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Tracker records throttle cooldowns per host. With a nil Redis client the
// state is kept in memory for this process only.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.Mutex
	local map[string]ThrottleState
}

// NewTracker creates a throttle tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		local:  make(map[string]ThrottleState),
	}
}

func redisKey(host string) string {
	return RedisKeyPrefix + host
}

// RecordThrottle stores a cooldown of wait for host.
func (t *Tracker) RecordThrottle(ctx context.Context, host string, wait time.Duration) error {
	now := time.Now()
	state := ThrottleState{
		Host:       host,
		Until:      now.Add(wait),
		LastWait:   wait,
		LastUpdate: now,
	}

	rateLimitedTotal.WithLabelValues(host).Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())

	t.mu.Lock()
	t.local[host] = state
	t.mu.Unlock()

	t.logger.Warn().
		Str("host", host).
		Dur("wait", wait).
		Time("until", state.Until).
		Msg("Rate limited (429)")

	if t.redis == nil || wait <= 0 {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal throttle state: %w", err)
	}
	if err := t.redis.Set(ctx, redisKey(host), data, wait).Err(); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}
	return nil
}

// GetState returns the latest known throttle state for host, or nil when no
// cooldown is recorded.
func (t *Tracker) GetState(ctx context.Context, host string) (*ThrottleState, error) {
	t.mu.Lock()
	local, ok := t.local[host]
	t.mu.Unlock()

	if t.redis != nil {
		data, err := t.redis.Get(ctx, redisKey(host)).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return nil, fmt.Errorf("get throttle state: %w", err)
		default:
			var shared ThrottleState
			if err := json.Unmarshal(data, &shared); err != nil {
				return nil, fmt.Errorf("parse throttle state: %w", err)
			}
			if !ok || shared.Until.After(local.Until) {
				return &shared, nil
			}
		}
	}

	if !ok {
		return nil, nil
	}
	return &local, nil
}

// Cooldown returns how long requests to host should still wait. Lookup
// failures are logged and treated as no cooldown.
func (t *Tracker) Cooldown(ctx context.Context, host string) time.Duration {
	state, err := t.GetState(ctx, host)
	if err != nil {
		t.logger.Warn().Err(err).Str("host", host).Msg("Failed to read throttle state")
		return 0
	}
	if state == nil {
		return 0
	}
	return state.Remaining()
}
