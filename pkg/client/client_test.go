package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/api-fetcher/pkg/ratelimit"
)

type headerFunc func(ctx context.Context) http.Header

func (f headerFunc) Headers(ctx context.Context) http.Header {
	return f(ctx)
}

func newTestClient(waits *[]time.Duration, opts ...Option) *Client {
	base := []Option{
		WithSleep(recordSleep(waits)),
		WithLogger(zerolog.Nop()),
	}
	return New(append(base, opts...)...)
}

func TestExecute_Success(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[1,2]}`))
	}))
	defer server.Close()

	var waits []time.Duration
	c := newTestClient(&waits)

	params := url.Values{"status": {"open"}, "page": {"2"}}
	body, err := c.Execute(context.Background(), http.MethodGet, server.URL+"/items?page=1", params, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(body) != `{"data":[1,2]}` {
		t.Errorf("body = %s", body)
	}
	if gotQuery.Get("status") != "open" {
		t.Errorf("status = %q, want open", gotQuery.Get("status"))
	}
	if got := gotQuery["page"]; len(got) != 1 || got[0] != "1" {
		t.Errorf("page = %v, want value from URL [1]", got)
	}
	if len(waits) != 0 {
		t.Errorf("unexpected waits %v", waits)
	}
}

func TestExecute_MergesHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	provider := headerFunc(func(context.Context) http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer abc123")
		h.Set("X-Base", "base")
		return h
	})

	var waits []time.Duration
	c := newTestClient(&waits, WithHeaderProvider(provider))

	caller := http.Header{}
	caller.Set("Authorization", "caller")
	caller.Set("X-Trace", "t-1")

	if _, err := c.Execute(context.Background(), http.MethodGet, server.URL, nil, caller); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Get("Authorization") != "Bearer abc123" {
		t.Errorf("Authorization = %q, want provider value", got.Get("Authorization"))
	}
	if got.Get("X-Trace") != "t-1" || got.Get("X-Base") != "base" {
		t.Errorf("headers not merged: %v", got)
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if caller.Get("Authorization") != "caller" {
		t.Error("caller headers must not be modified")
	}
}

func TestExecute_RateLimitedThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tracker := ratelimit.NewTracker(nil, zerolog.Nop())
	var waits []time.Duration
	c := newTestClient(&waits, WithTracker(tracker), WithRateLimitSleep(5*time.Second))

	body, err := c.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	// Retry-After wait, then the first backoff step.
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != time.Second {
		t.Errorf("waits = %v, want [1s 1s]", waits)
	}

	host := server.Listener.Addr().String()
	state, err := tracker.GetState(context.Background(), host)
	if err != nil || state == nil {
		t.Fatalf("GetState() = %v, %v", state, err)
	}
	if state.LastWait != time.Second {
		t.Errorf("LastWait = %v, want 1s", state.LastWait)
	}
}

func TestExecute_RateLimitFallbackSleep(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	var waits []time.Duration
	c := newTestClient(&waits, WithRateLimitSleep(1500*time.Millisecond))

	if _, err := c.Execute(context.Background(), http.MethodGet, server.URL, nil, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(waits) != 2 || waits[0] != 1500*time.Millisecond {
		t.Errorf("waits = %v, want fallback 1.5s first", waits)
	}
}

func TestExecute_RetryExhausted(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantClass ErrorClass
	}{
		{name: "server error", status: http.StatusInternalServerError, wantClass: ErrorClassServer},
		{name: "client error", status: http.StatusNotFound, wantClass: ErrorClassClient},
		{name: "always throttled", status: http.StatusTooManyRequests, wantClass: ErrorClassRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			var waits []time.Duration
			c := newTestClient(&waits)

			_, err := c.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)
			if !errors.Is(err, ErrRetryExhausted) {
				t.Fatalf("Execute() error = %v, want ErrRetryExhausted", err)
			}
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error %v does not wrap FetchError", err)
			}
			if fe.StatusCode != tt.status || fe.ErrorClass != tt.wantClass {
				t.Errorf("FetchError = %+v", fe)
			}
			if calls.Load() != 3 {
				t.Errorf("calls = %d, want 3", calls.Load())
			}
		})
	}
}

func TestExecute_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	var waits []time.Duration
	c := newTestClient(&waits)

	_, err := c.Execute(context.Background(), http.MethodGet, addr, nil, nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Execute() error = %v, want ErrRetryExhausted", err)
	}
	if classOf(err) != ErrorClassNetwork {
		t.Errorf("class = %q, want network", classOf(err))
	}
	if len(waits) != 2 {
		t.Errorf("waits = %v, want 2 backoff waits", waits)
	}
}

func TestExecute_RetriesAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	var waits []time.Duration
	c := newTestClient(&waits, WithTimeout(100*time.Millisecond))

	body, err := c.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(body) != `[{"id":1}]` {
		t.Errorf("body = %s", body)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Errorf("waits = %v, want [1s]", waits)
	}
}

func TestExecute_AttemptTimeoutExhausted(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	var waits []time.Duration
	c := newTestClient(&waits, WithTimeout(50*time.Millisecond))

	_, err := c.Execute(context.Background(), http.MethodGet, server.URL, nil, nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Execute() error = %v, want ErrRetryExhausted", err)
	}
	if classOf(err) != ErrorClassNetwork {
		t.Errorf("class = %q, want network", classOf(err))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var waits []time.Duration
	c := newTestClient(&waits)

	_, err := c.Execute(ctx, http.MethodGet, server.URL, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if len(waits) != 0 {
		t.Errorf("cancelled request must not back off, waits = %v", waits)
	}
}

func TestExecute_InvalidURL(t *testing.T) {
	var waits []time.Duration
	c := newTestClient(&waits)

	if _, err := c.Execute(context.Background(), http.MethodGet, "://bad", nil, nil); err == nil {
		t.Error("expected error for invalid URL")
	}
}
