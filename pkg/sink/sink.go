// Package sink persists flattened records. Every sink receives the complete
// record set of one successful fetch and reports where it put it.
package sink

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/api-fetcher/pkg/flatten"
)

// TimestampLayout is the suffix format of batch names: base_20240131_235959.
const TimestampLayout = "20060102_150405"

var recordsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetch_sink_records_total",
	Help: "Records written by sink",
}, []string{"sink"})

// Descriptors maps an output format to the location it was written to.
type Descriptors map[string]string

// Sink accepts the records of one fetch.
type Sink interface {
	Accept(ctx context.Context, baseName string, records []flatten.Record) (Descriptors, error)
}

// Clock returns the current time.
type Clock func() time.Time

// BatchName is baseName suffixed with the local timestamp of now.
func BatchName(baseName string, now time.Time) string {
	return baseName + "_" + now.Format(TimestampLayout)
}

// Multi hands the same records to several sinks in order.
type Multi struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{
		sinks:  sinks,
		logger: log.With().Str("component", "sink").Logger(),
	}
}

// WithLogger replaces the logger used for fan-out warnings.
func (m *Multi) WithLogger(l zerolog.Logger) *Multi {
	m.logger = l
	return m
}

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Accept writes records to every sink. An empty record set writes nothing.
// The first failing sink stops the fan-out; descriptors of sinks that already
// succeeded are returned alongside the error.
func (m *Multi) Accept(ctx context.Context, baseName string, records []flatten.Record) (Descriptors, error) {
	out := Descriptors{}
	if len(records) == 0 {
		m.logger.Warn().Msg("No data to save")
		return out, nil
	}
	for _, s := range m.sinks {
		d, err := s.Accept(ctx, baseName, records)
		maps.Copy(out, d)
		if err != nil {
			return out, fmt.Errorf("sink %T: %w", s, err)
		}
	}
	return out, nil
}
