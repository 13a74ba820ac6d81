package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/api-fetcher/pkg/pagination"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.AuthType != AuthNone {
		t.Errorf("AuthType = %q, want %q", cfg.AuthType, AuthNone)
	}
	if cfg.APIKeyHeader != "Authorization" {
		t.Errorf("APIKeyHeader = %q, want Authorization", cfg.APIKeyHeader)
	}
	if cfg.RateLimitSleep.Duration() != time.Second {
		t.Errorf("RateLimitSleep = %v, want 1s", cfg.RateLimitSleep.Duration())
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialBackoff.Duration() != time.Second || cfg.Retry.MaxBackoff.Duration() != 10*time.Second {
		t.Errorf("Retry backoff = %v..%v, want 1s..10s", cfg.Retry.InitialBackoff.Duration(), cfg.Retry.MaxBackoff.Duration())
	}
	if !cfg.Output.SaveJSON || !cfg.Output.SaveCSV || !cfg.Output.SaveExcel {
		t.Error("all file outputs should be enabled by default")
	}
	if _, ok := cfg.Pagination.Spec().(pagination.None); !ok {
		t.Errorf("default pagination = %T, want pagination.None", cfg.Pagination.Spec())
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "fetch.json", `{
  "url": "https://api.example.com/items",
  "params": {"status": "open", "tags": ["a", "b"], "skip": null},
  "headers": {"accept": "application/json"},
  "auth_type": "api_key",
  "api_key": "Bearer abc123",
  "pagination": {"type": "offset", "limit": 50},
  "rate_limit_sleep": 0.5,
  "save_excel": false
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.URL != "https://api.example.com/items" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.AuthType != AuthAPIKey || cfg.APIKey != "Bearer abc123" {
		t.Errorf("auth = %q/%q", cfg.AuthType, cfg.APIKey)
	}
	if cfg.APIKeyHeader != "Authorization" {
		t.Errorf("APIKeyHeader = %q, want default", cfg.APIKeyHeader)
	}
	if cfg.RateLimitSleep.Duration() != 500*time.Millisecond {
		t.Errorf("RateLimitSleep = %v, want 500ms", cfg.RateLimitSleep.Duration())
	}
	if cfg.Output.SaveExcel {
		t.Error("SaveExcel should be false")
	}
	if !cfg.Output.SaveJSON || cfg.Output.OutputFolder != "output" {
		t.Error("unset output keys should keep defaults")
	}

	params := cfg.QueryParams()
	if params.Get("status") != "open" {
		t.Errorf("status param = %q", params.Get("status"))
	}
	if got := params["tags"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("tags param = %v, want [a b]", got)
	}
	if _, ok := params["skip"]; ok {
		t.Error("null params should be dropped")
	}

	if got := cfg.BaseHeaders().Get("Accept"); got != "application/json" {
		t.Errorf("Accept header = %q", got)
	}

	spec, ok := cfg.Pagination.Spec().(pagination.Offset)
	if !ok {
		t.Fatalf("Spec() = %T, want pagination.Offset", cfg.Pagination.Spec())
	}
	if spec.Limit != 50 || spec.OffsetParam != "offset" || spec.LimitParam != "limit" || spec.DataPath != "data" {
		t.Errorf("offset spec = %+v", spec)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "fetch.yaml", `
url: https://api.example.com/events
auth_type: oauth2
oauth:
  client_id: id
  client_secret: secret
  token_url: https://auth.example.com/token
  scope: read write
pagination:
  type: cursor
  start_cursor: 42
retry:
  max_attempts: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.OAuth.Complete() {
		t.Error("OAuth should be complete")
	}
	if scopes := cfg.OAuth.Scopes(); len(scopes) != 2 || scopes[1] != "write" {
		t.Errorf("Scopes() = %v", scopes)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.MaxBackoff.Duration() != 10*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}

	spec, ok := cfg.Pagination.Spec().(pagination.Cursor)
	if !ok {
		t.Fatalf("Spec() = %T, want pagination.Cursor", cfg.Pagination.Spec())
	}
	if spec.StartCursor != "42" || spec.CursorParam != "cursor" || spec.NextCursorKey != "next_cursor" {
		t.Errorf("cursor spec = %+v", spec)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "broken.yaml", "url: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.URL != "" {
		t.Errorf("URL = %q, want empty", cfg.URL)
	}
}

func TestPaginationConfig_Spec(t *testing.T) {
	tests := []struct {
		name string
		cfg  PaginationConfig
		want pagination.Spec
	}{
		{
			name: "none",
			cfg:  PaginationConfig{Type: "none"},
			want: pagination.None{},
		},
		{
			name: "empty type is none",
			cfg:  PaginationConfig{},
			want: pagination.None{},
		},
		{
			name: "page with blank keys",
			cfg:  PaginationConfig{Type: "page", StartPage: 0},
			want: pagination.PageNumber{StartPage: 0, PageParam: "page", DataPath: "data"},
		},
		{
			name: "next link",
			cfg:  PaginationConfig{Type: "next_link", NextKey: "nextUrl"},
			want: pagination.NextLink{NextKey: "nextUrl"},
		},
		{
			name: "unknown",
			cfg:  PaginationConfig{Type: "graphql"},
			want: pagination.Unknown{Type: "graphql"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Spec(); got != tt.want {
				t.Errorf("Spec() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *FetchConfig {
		cfg := Default()
		cfg.URL = "https://api.example.com/items"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*FetchConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*FetchConfig) {}},
		{name: "missing url", mutate: func(c *FetchConfig) { c.URL = "" }, wantErr: true},
		{name: "unknown auth", mutate: func(c *FetchConfig) { c.AuthType = "basic" }, wantErr: true},
		{name: "negative sleep", mutate: func(c *FetchConfig) { c.RateLimitSleep = -1 }, wantErr: true},
		{name: "no attempts", mutate: func(c *FetchConfig) { c.Retry.MaxAttempts = 0 }, wantErr: true},
		{
			name: "offset without limit",
			mutate: func(c *FetchConfig) {
				c.Pagination.Type = "offset"
				c.Pagination.Limit = 0
			},
			wantErr: true,
		},
		{name: "negative max pages", mutate: func(c *FetchConfig) { c.Pagination.MaxPages = -1 }, wantErr: true},
		{name: "unknown pagination is not an error", mutate: func(c *FetchConfig) { c.Pagination.Type = "weird" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestWithAPIKeyFallback(t *testing.T) {
	cfg := Default()
	withKey := cfg.WithAPIKeyFallback("from-env")
	if withKey.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", withKey.APIKey)
	}
	if cfg.APIKey != "" {
		t.Error("original config must not be modified")
	}

	cfg.APIKey = "from-file"
	if got := cfg.WithAPIKeyFallback("from-env").APIKey; got != "from-file" {
		t.Errorf("APIKey = %q, want from-file", got)
	}
}
