// Package auth computes the headers attached to every outgoing request from
// the fetch configuration: none, a static API key, or an OAuth2
// client-credentials bearer token.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Sternrassler/api-fetcher/pkg/config"
)

var tokenExchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetch_oauth_tokens_total",
	Help: "OAuth2 token lookups by result",
}, []string{"result"})

// Resolver produces per-request headers.
type Resolver struct {
	authType config.AuthType
	base     http.Header

	apiKey       string
	apiKeyHeader string

	oauth      config.OAuthConfig
	creds      *clientcredentials.Config
	httpClient *http.Client

	// cached is set only when token caching is enabled.
	mu     sync.Mutex
	cached oauth2.TokenSource

	logger zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = hc
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver for cfg.
func NewResolver(cfg *config.FetchConfig, opts ...Option) *Resolver {
	header := cfg.APIKeyHeader
	if header == "" {
		header = "Authorization"
	}
	r := &Resolver{
		authType:     cfg.AuthType,
		base:         cfg.BaseHeaders(),
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		oauth:        cfg.OAuth,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.AuthType == config.AuthOAuth2 && cfg.OAuth.Complete() {
		r.creds = &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes(),
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}
	return r
}

// Headers returns the base headers plus authentication. It never fails:
// auth problems are logged and the request goes out without credentials.
func (r *Resolver) Headers(ctx context.Context) http.Header {
	h := r.base.Clone()

	switch r.authType {
	case config.AuthAPIKey:
		if r.apiKey != "" {
			h.Set(r.apiKeyHeader, r.apiKey)
		}
	case config.AuthOAuth2:
		if r.creds == nil {
			r.logger.Warn().Msg("OAuth2 config incomplete, sending request without token")
			return h
		}
		token, err := r.token(ctx)
		if err != nil {
			tokenExchangesTotal.WithLabelValues("error").Inc()
			r.logger.Error().Err(err).Str("token_url", r.oauth.TokenURL).Msg("Failed to get OAuth2 token")
			return h
		}
		h.Set("Authorization", "Bearer "+token.AccessToken)
	}
	return h
}

func (r *Resolver) token(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	if !r.oauth.CacheToken {
		tok, err := r.creds.Token(ctx)
		if err == nil {
			tokenExchangesTotal.WithLabelValues("ok").Inc()
		}
		return tok, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == nil {
		// TokenSource binds ctx for later refreshes, so it must outlive this call.
		r.cached = r.creds.TokenSource(context.WithoutCancel(ctx))
	}
	tok, err := r.cached.Token()
	if err == nil {
		tokenExchangesTotal.WithLabelValues("ok").Inc()
	}
	return tok, err
}
