package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/api-fetcher/pkg/flatten"
)

// FormatRedis is the descriptor key of the redis sink.
const FormatRedis = "redis"

// RedisSink appends each record as a JSON document to a redis list named
// "<prefix>:<batch>".
type RedisSink struct {
	client *redis.Client
	prefix string
	now    Clock
	logger zerolog.Logger
}

// NewRedisSink creates a redis list sink.
func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{
		client: client,
		prefix: prefix,
		now:    time.Now,
		logger: log.With().Str("component", "redis-sink").Logger(),
	}
}

// Key returns the list key for a batch.
func (s *RedisSink) Key(batch string) string {
	return s.prefix + ":" + batch
}

// Accept pushes all records in one pipeline.
func (s *RedisSink) Accept(ctx context.Context, baseName string, records []flatten.Record) (Descriptors, error) {
	out := Descriptors{}
	if len(records) == 0 {
		return out, nil
	}

	values := make([]any, 0, len(records))
	for i, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return out, fmt.Errorf("marshal record %d: %w", i, err)
		}
		values = append(values, b)
	}

	key := s.Key(BatchName(baseName, s.now()))
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.RPush(ctx, key, values...)
	if _, err := pipe.Exec(ctx); err != nil {
		return out, fmt.Errorf("push records to redis: %w", err)
	}

	recordsWrittenTotal.WithLabelValues(FormatRedis).Add(float64(len(records)))
	s.logger.Info().Str("key", key).Int("records", len(records)).Msg("Saved output")
	out[FormatRedis] = key
	return out, nil
}
