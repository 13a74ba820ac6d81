package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/api-fetcher/pkg/config"
	"github.com/Sternrassler/api-fetcher/pkg/flatten"
)

// Output format names used as descriptor keys.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatExcel = "excel"
)

// ExcelSheet is the worksheet records are written to.
const ExcelSheet = "Sheet1"

// FileSink writes records to timestamped files in a folder. All formats of
// one batch share the same timestamp.
type FileSink struct {
	folder    string
	saveJSON  bool
	saveCSV   bool
	saveExcel bool
	now       Clock
	logger    zerolog.Logger
}

// FileOption configures a FileSink.
type FileOption func(*FileSink)

// WithClock replaces the timestamp source.
func WithClock(c Clock) FileOption {
	return func(s *FileSink) {
		s.now = c
	}
}

// WithFileLogger sets the sink logger.
func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(s *FileSink) {
		s.logger = logger
	}
}

// NewFileSink creates a file sink from the output settings.
func NewFileSink(out config.OutputConfig, opts ...FileOption) *FileSink {
	s := &FileSink{
		folder:    out.OutputFolder,
		saveJSON:  out.SaveJSON,
		saveCSV:   out.SaveCSV,
		saveExcel: out.SaveExcel,
		now:       time.Now,
		logger:    log.With().Str("component", "file-sink").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether at least one format is switched on.
func (s *FileSink) Enabled() bool {
	return s.saveJSON || s.saveCSV || s.saveExcel
}

// Accept writes one file per enabled format.
func (s *FileSink) Accept(_ context.Context, baseName string, records []flatten.Record) (Descriptors, error) {
	out := Descriptors{}
	if len(records) == 0 {
		return out, nil
	}
	if err := os.MkdirAll(s.folder, 0o755); err != nil {
		return out, fmt.Errorf("create output folder: %w", err)
	}

	stem := filepath.Join(s.folder, BatchName(baseName, s.now()))
	cols := flatten.Columns(records)

	writers := []struct {
		enabled bool
		format  string
		ext     string
		write   func(path string, cols []string, records []flatten.Record) error
	}{
		{s.saveJSON, FormatJSON, ".json", writeJSON},
		{s.saveCSV, FormatCSV, ".csv", writeCSV},
		{s.saveExcel, FormatExcel, ".xlsx", writeExcel},
	}
	for _, w := range writers {
		if !w.enabled {
			continue
		}
		path := stem + w.ext
		if err := w.write(path, cols, records); err != nil {
			return out, fmt.Errorf("write %s: %w", w.format, err)
		}
		out[w.format] = path
		recordsWrittenTotal.WithLabelValues(w.format).Add(float64(len(records)))
		s.logger.Info().Str("format", w.format).Str("path", path).Int("records", len(records)).Msg("Saved output")
	}
	return out, nil
}

// writeJSON writes an array of objects. Every object carries every column,
// in column order, with null for missing values.
func writeJSON(path string, cols []string, records []flatten.Record) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, c := range cols {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(c)
			if err != nil {
				return err
			}
			val, err := json.Marshal(r[c])
			if err != nil {
				return fmt.Errorf("column %q: %w", c, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func writeCSV(path string, cols []string, records []flatten.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	w := csv.NewWriter(bw)

	if err := w.Write(cols); err != nil {
		f.Close()
		return err
	}
	row := make([]string, len(cols))
	for _, r := range records {
		for i, c := range cols {
			row[i] = cellText(r[c])
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeExcel(path string, cols []string, records []flatten.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(ExcelSheet, "A1", &header); err != nil {
		return err
	}

	for i, r := range records {
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = cellValue(r[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ExcelSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// cellText renders a value for CSV. Missing values are empty; containers are
// written as JSON.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// cellValue converts a value to something excelize stores natively.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64, int:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return cellText(t)
	}
}
