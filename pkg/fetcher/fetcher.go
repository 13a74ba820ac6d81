// Package fetcher runs complete fetch calls: it drains the page sequence,
// flattens every page and hands the result to the configured sink only when
// the whole call succeeded.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/api-fetcher/pkg/alert"
	"github.com/Sternrassler/api-fetcher/pkg/config"
	"github.com/Sternrassler/api-fetcher/pkg/flatten"
	"github.com/Sternrassler/api-fetcher/pkg/pagination"
	"github.com/Sternrassler/api-fetcher/pkg/sink"
)

const (
	// AlertSubject is the subject of failure notifications.
	AlertSubject = "API Fetcher Failure"

	// DefaultBaseName is the output base name when none is given.
	DefaultBaseName = "api_data"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_runs_total",
		Help: "Fetch calls by result (success, failure, cancelled)",
	}, []string{"result"})

	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetch_records_total",
		Help: "Flattened records produced by successful fetch calls",
	})
)

// Fetcher runs fetch calls for one configuration.
type Fetcher struct {
	cfg       *config.FetchConfig
	transport pagination.PageFetcher
	maxPages  int
	sink      sink.Sink
	notifier  alert.Notifier
	logger    zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTransport sets the transport pages are fetched through.
func WithTransport(t pagination.PageFetcher) Option {
	return func(f *Fetcher) {
		f.transport = t
	}
}

// WithSink sets where successful results are persisted.
func WithSink(s sink.Sink) Option {
	return func(f *Fetcher) {
		f.sink = s
	}
}

// WithNotifier sets the failure alert hook.
func WithNotifier(n alert.Notifier) Option {
	return func(f *Fetcher) {
		f.notifier = n
	}
}

// WithLogger sets the fetcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a fetcher for cfg. Without WithTransport it uses a client
// built by NewClient; without WithSink it writes the files enabled in cfg.
func New(cfg *config.FetchConfig, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:      cfg,
		maxPages: cfg.Pagination.MaxPages,
		notifier: alert.Nop{},
		logger:   log.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = NewClient(cfg, nil, log.Logger)
	}
	if f.sink == nil {
		f.sink = sink.NewMulti(sink.NewFileSink(cfg.Output))
	}
	return f
}

// Target returns the request the first page is fetched with.
func (f *Fetcher) Target() pagination.Target {
	return pagination.Target{
		URL:    f.cfg.URL,
		Params: f.cfg.QueryParams(),
	}
}

// Pages returns the raw page sequence of one fetch call. It neither alerts
// nor persists.
func (f *Fetcher) Pages(ctx context.Context) iter.Seq2[pagination.Page, error] {
	driver := pagination.NewDriver(f.transport,
		pagination.WithMaxPages(f.maxPages),
		pagination.WithLogger(f.logger),
	)
	return driver.Pages(ctx, f.Target(), f.cfg.Pagination.Spec())
}

// FetchAll drains the page sequence and returns the flattened records. Any
// failure discards what was collected, triggers the alert hook and is
// returned. Cancellation of ctx is returned without alerting.
func (f *Fetcher) FetchAll(ctx context.Context) ([]flatten.Record, error) {
	if err := f.cfg.Validate(); err != nil {
		runsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	f.logger.Info().
		Str("url", f.cfg.URL).
		Str("pagination", f.cfg.Pagination.Type).
		Msg("Starting fetch")

	var records []flatten.Record
	pages := 0
	for page, err := range f.Pages(ctx) {
		if err != nil {
			return nil, f.fail(ctx, err)
		}
		pages++
		records = append(records, flatten.Page(page)...)
	}

	runsTotal.WithLabelValues("success").Inc()
	recordsTotal.Add(float64(len(records)))
	f.logger.Info().
		Int("pages", pages).
		Int("records", len(records)).
		Msg("Fetch complete")
	return records, nil
}

// FetchAndSave runs FetchAll and hands the records to the sink. Nothing is
// persisted when the fetch fails. A sink failure is alerted like a fetch
// failure.
func (f *Fetcher) FetchAndSave(ctx context.Context, baseName string) (sink.Descriptors, error) {
	records, err := f.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return f.save(ctx, baseName, records)
}

// SaveSample persists SampleResponse instead of calling the API.
func (f *Fetcher) SaveSample(ctx context.Context, baseName string) (sink.Descriptors, error) {
	page, err := pagination.ParsePage([]byte(SampleResponse))
	if err != nil {
		return nil, fmt.Errorf("parse sample data: %w", err)
	}
	f.logger.Info().Msg("Dry run, using sample data")
	return f.save(ctx, baseName, flatten.Page(page))
}

func (f *Fetcher) save(ctx context.Context, baseName string, records []flatten.Record) (sink.Descriptors, error) {
	if baseName == "" {
		baseName = DefaultBaseName
	}
	desc, err := f.sink.Accept(ctx, baseName, records)
	if err != nil {
		return desc, f.fail(ctx, fmt.Errorf("save records: %w", err))
	}
	for format, location := range desc {
		f.logger.Info().Str("format", format).Str("path", location).Msg("Saved output")
	}
	return desc, nil
}

// fail alerts about err unless ctx was cancelled, then returns err. Alert
// delivery problems are logged only.
func (f *Fetcher) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		runsTotal.WithLabelValues("cancelled").Inc()
		f.logger.Warn().Err(err).Msg("Fetch interrupted")
		return err
	}

	runsTotal.WithLabelValues("failure").Inc()
	f.logger.Error().Err(err).Str("url", f.cfg.URL).Msg("Fetch failed")

	body := fmt.Sprintf("Fetch failed: %v", err)
	if alertErr := f.notifier.Notify(context.WithoutCancel(ctx), AlertSubject, body); alertErr != nil {
		f.logger.Error().Err(alertErr).Msg("Failed to send failure alert")
	}
	return err
}
