package testutil

import (
	"io"
	"net/http"
	"testing"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestMockAPI_Script(t *testing.T) {
	m := NewMockAPI()
	defer m.Close()

	m.Script("/items", RateLimited("1"), OK(`[1]`))

	tests := []struct {
		status int
		body   string
	}{
		{http.StatusTooManyRequests, `{"error": "Rate limit exceeded"}`},
		{http.StatusOK, `[1]`},
		{http.StatusOK, `[1]`},
	}
	for i, tt := range tests {
		status, body := get(t, m.URL()+"/items?page=1")
		if status != tt.status || body != tt.body {
			t.Errorf("request %d = %d %s, want %d %s", i+1, status, body, tt.status, tt.body)
		}
	}

	if m.RequestCount() != 3 {
		t.Errorf("RequestCount() = %d, want 3", m.RequestCount())
	}
	if got := m.Requests()[0].Query.Get("page"); got != "1" {
		t.Errorf("recorded page = %q, want 1", got)
	}
}

func TestMockAPI_UnknownPath(t *testing.T) {
	m := NewMockAPI()
	defer m.Close()

	if status, _ := get(t, m.URL()+"/missing"); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}
