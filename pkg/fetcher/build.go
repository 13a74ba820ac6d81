package fetcher

import (
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/api-fetcher/pkg/alert"
	"github.com/Sternrassler/api-fetcher/pkg/auth"
	"github.com/Sternrassler/api-fetcher/pkg/client"
	"github.com/Sternrassler/api-fetcher/pkg/config"
	"github.com/Sternrassler/api-fetcher/pkg/ratelimit"
	"github.com/Sternrassler/api-fetcher/pkg/sink"
)

// NewClient creates the transport for cfg: auth headers from an auth
// resolver, retry policy, timeout and 429 fallback sleep from the config.
// tracker may be nil.
func NewClient(cfg *config.FetchConfig, tracker *ratelimit.Tracker, logger zerolog.Logger) *client.Client {
	resolver := auth.NewResolver(cfg, auth.WithLogger(logger.With().Str("component", "auth").Logger()))

	opts := []client.Option{
		client.WithHeaderProvider(resolver),
		client.WithRetryPolicy(client.PolicyFromConfig(cfg.Retry)),
		client.WithRateLimitSleep(cfg.RateLimitSleep.Duration()),
		client.WithLogger(logger.With().Str("component", "fetch-client").Logger()),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.RequestTimeout.Duration()))
	}
	if tracker != nil {
		opts = append(opts, client.WithTracker(tracker))
	}
	return client.New(opts...)
}

// Stack is a fetcher together with the shared resources it was built on.
type Stack struct {
	Fetcher *Fetcher

	// Redis is nil unless redis.addr is configured.
	Redis   *redis.Client
	Tracker *ratelimit.Tracker

	db *sql.DB
}

// Build wires a fetcher from cfg: throttle tracker (redis-backed when
// configured), transport, the enabled sinks and the alert notifier. An
// unusable email_alerts block is logged and alerting is switched off.
func Build(cfg *config.FetchConfig, logger zerolog.Logger) (*Stack, error) {
	st := &Stack{}

	if cfg.Redis.Enabled() {
		st.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	st.Tracker = ratelimit.NewTracker(st.Redis, logger.With().Str("component", "ratelimit").Logger())

	var sinks []sink.Sink
	files := sink.NewFileSink(cfg.Output, sink.WithFileLogger(logger.With().Str("component", "file-sink").Logger()))
	if files.Enabled() {
		sinks = append(sinks, files)
	}
	if st.Redis != nil && cfg.Redis.ListKey != "" {
		sinks = append(sinks, sink.NewRedisSink(st.Redis, cfg.Redis.ListKey))
	}
	if cfg.Postgres.Enabled() {
		db, err := sink.OpenPostgres(cfg.Postgres.URL)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.db = db
		sinks = append(sinks, sink.NewPostgresSink(db, cfg.Postgres.Table))
	}

	notifier, err := alert.New(cfg.EmailAlerts)
	if err != nil {
		logger.Warn().Err(err).Msg("Email alerts disabled, check email_alerts settings")
		notifier = alert.Nop{}
	}

	st.Fetcher = New(cfg,
		WithTransport(NewClient(cfg, st.Tracker, logger)),
		WithSink(sink.NewMulti(sinks...).WithLogger(logger.With().Str("component", "sink").Logger())),
		WithNotifier(notifier),
		WithLogger(logger.With().Str("component", "fetcher").Logger()),
	)

	logger.Debug().
		Bool("redis", st.Redis != nil).
		Bool("postgres", st.db != nil).
		Int("sinks", len(sinks)).
		Bool("alerts", cfg.EmailAlerts.Enabled).
		Msg("Fetcher wired")
	return st, nil
}

// Close releases the redis client and database pool.
func (s *Stack) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
