package sink

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/api-fetcher/pkg/flatten"
)

type fakeSink struct {
	desc   Descriptors
	err    error
	called int
	got    []flatten.Record
}

func (f *fakeSink) Accept(_ context.Context, _ string, records []flatten.Record) (Descriptors, error) {
	f.called++
	f.got = records
	return f.desc, f.err
}

func TestMulti_Accept(t *testing.T) {
	a := &fakeSink{desc: Descriptors{"json": "/tmp/a.json"}}
	b := &fakeSink{desc: Descriptors{"redis": "records:x"}}
	m := NewMulti(a, b)
	m.logger = zerolog.Nop()

	records := []flatten.Record{{"id": 1}}
	got, err := m.Accept(context.Background(), "x", records)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	want := Descriptors{"json": "/tmp/a.json", "redis": "records:x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Accept() = %v, want %v", got, want)
	}
	if a.called != 1 || b.called != 1 || len(b.got) != 1 {
		t.Errorf("sinks called %d/%d times", a.called, b.called)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d", m.Len())
	}
}

func TestMulti_EmptyIsNoop(t *testing.T) {
	a := &fakeSink{}
	var buf bytes.Buffer
	m := NewMulti(a).WithLogger(zerolog.New(&buf))

	got, err := m.Accept(context.Background(), "x", nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Accept(nil) = %v, %v", got, err)
	}
	if a.called != 0 {
		t.Error("sinks must not be called without records")
	}
	if !strings.Contains(buf.String(), "No data to save") {
		t.Errorf("injected logger got %q, want the empty-records warning", buf.String())
	}
}

func TestMulti_StopsOnError(t *testing.T) {
	boom := errors.New("disk full")
	a := &fakeSink{desc: Descriptors{"json": "a.json"}}
	b := &fakeSink{err: boom}
	c := &fakeSink{}
	m := NewMulti(a, b, c)
	m.logger = zerolog.Nop()

	got, err := m.Accept(context.Background(), "x", []flatten.Record{{"id": 1}})
	if !errors.Is(err, boom) {
		t.Fatalf("Accept() error = %v, want %v", err, boom)
	}
	if got["json"] != "a.json" {
		t.Errorf("descriptors = %v, want earlier sinks kept", got)
	}
	if c.called != 0 {
		t.Error("sinks after the failing one must not run")
	}
}
