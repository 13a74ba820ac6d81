package pagination

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fetch_pages_total",
	Help: "Total pages produced by the pagination driver by strategy",
}, []string{"strategy"})

// PageFetcher is the transport the driver pulls pages through. Retrying is
// entirely its concern; the driver never re-issues a failed request.
type PageFetcher interface {
	Execute(ctx context.Context, method, rawURL string, params url.Values, headers http.Header) ([]byte, error)
}

// Target is the request every page starts from.
type Target struct {
	URL    string
	Params url.Values
}

// Driver produces the page sequence for one fetch call.
type Driver struct {
	fetcher  PageFetcher
	maxPages int
	logger   zerolog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithMaxPages stops iteration after n pages. Zero means no limit.
func WithMaxPages(n int) Option {
	return func(d *Driver) {
		d.maxPages = n
	}
}

// WithLogger sets the driver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates a driver pulling pages through fetcher.
func NewDriver(fetcher PageFetcher, opts ...Option) *Driver {
	d := &Driver{
		fetcher: fetcher,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// state is the per-call cursor. It lives only inside one Pages iteration.
type state struct {
	url    string
	params url.Values
	pages  int
}

// Pages returns the lazy page sequence for target under spec. Each element
// costs exactly one request, issued only when the consumer pulls it. The
// sequence ends after the terminal page, after the first error, or when the
// consumer stops.
func (d *Driver) Pages(ctx context.Context, target Target, spec Spec) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		st := &state{
			url:    target.URL,
			params: cloneValues(target.Params),
		}
		if spec == nil {
			spec = None{}
		}

		switch s := spec.(type) {
		case None:
			d.logger.Info().Str("url", st.url).Msg("Fetching single page")
			d.single(ctx, st, yield)
		case PageNumber:
			d.byPage(ctx, st, s, yield)
		case Offset:
			d.byOffset(ctx, st, s, yield)
		case NextLink:
			d.byNextLink(ctx, st, s, yield)
		case Cursor:
			d.byCursor(ctx, st, s, yield)
		default:
			d.logger.Warn().
				Str("type", string(spec.Strategy())).
				Msg("Unknown pagination type, fetching single page")
			d.single(ctx, st, yield)
		}
	}
}

// fetch issues one request for the current state. The bool result tells the
// caller whether to keep going.
func (d *Driver) fetch(ctx context.Context, st *state, strategy Strategy, yield func(Page, error) bool) (Page, bool) {
	body, err := d.fetcher.Execute(ctx, http.MethodGet, st.url, st.params, nil)
	if err != nil {
		yield(Page{}, err)
		return Page{}, false
	}

	page, err := ParsePage(body)
	if err != nil {
		yield(Page{}, fmt.Errorf("%s: %w", st.url, err))
		return Page{}, false
	}

	st.pages++
	pagesFetchedTotal.WithLabelValues(string(strategy)).Inc()

	if !yield(page, nil) {
		return page, false
	}
	return page, true
}

// capped reports whether the configured page ceiling has been reached.
func (d *Driver) capped(st *state) bool {
	if d.maxPages <= 0 || st.pages < d.maxPages {
		return false
	}
	d.logger.Warn().
		Int("max_pages", d.maxPages).
		Str("url", st.url).
		Msg("Page limit reached, stopping pagination")
	return true
}

func (d *Driver) single(ctx context.Context, st *state, yield func(Page, error) bool) {
	d.fetch(ctx, st, StrategyNone, yield)
}

func (d *Driver) byPage(ctx context.Context, st *state, s PageNumber, yield func(Page, error) bool) {
	for page := s.StartPage; ; page++ {
		st.params.Set(s.PageParam, strconv.Itoa(page))
		d.logger.Info().Int("page", page).Msg("Fetching page")

		p, ok := d.fetch(ctx, st, StrategyPage, yield)
		if !ok {
			return
		}
		if !pageHasData(p, s.DataPath) || d.capped(st) {
			return
		}
	}
}

// pageHasData decides whether page-number pagination continues after p.
func pageHasData(p Page, dataPath string) bool {
	switch p.Kind {
	case KindObject:
		v, _ := p.Lookup(dataPath)
		return Truthy(v)
	case KindList:
		return len(p.List) > 0
	default:
		return Truthy(p.Scalar)
	}
}

func (d *Driver) byOffset(ctx context.Context, st *state, s Offset, yield func(Page, error) bool) {
	for offset := s.StartOffset; ; offset += s.Limit {
		st.params.Set(s.OffsetParam, strconv.Itoa(offset))
		st.params.Set(s.LimitParam, strconv.Itoa(s.Limit))
		d.logger.Info().Int("offset", offset).Int("limit", s.Limit).Msg("Fetching offset")

		p, ok := d.fetch(ctx, st, StrategyOffset, yield)
		if !ok {
			return
		}
		if n := len(p.Items(s.DataPath)); n == 0 || n < s.Limit || d.capped(st) {
			return
		}
	}
}

func (d *Driver) byNextLink(ctx context.Context, st *state, s NextLink, yield func(Page, error) bool) {
	for {
		d.logger.Info().Str("url", st.url).Msg("Fetching")

		p, ok := d.fetch(ctx, st, StrategyNextLink, yield)
		if !ok {
			return
		}

		next := nextLink(p, s.NextKey)
		if next == "" || d.capped(st) {
			return
		}
		resolved, err := resolveURL(st.url, next)
		if err != nil {
			d.logger.Warn().Err(err).Str("next", next).Msg("Unusable next link, stopping pagination")
			return
		}
		st.url = resolved
	}
}

// nextLink finds the next URL in _links.next first, then under nextKey.
func nextLink(p Page, nextKey string) string {
	if p.Kind != KindObject {
		return ""
	}
	if links, ok := p.Object["_links"].(map[string]any); ok {
		if next := linkValue(links["next"]); next != "" {
			return next
		}
	}
	return linkValue(p.Object[nextKey])
}

// linkValue accepts a bare URL string or a HAL link object.
func linkValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		href, _ := t["href"].(string)
		return href
	default:
		return ""
	}
}

func resolveURL(current, next string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func (d *Driver) byCursor(ctx context.Context, st *state, s Cursor, yield func(Page, error) bool) {
	cursor := s.StartCursor
	for {
		if cursor != "" {
			st.params.Set(s.CursorParam, cursor)
		}
		d.logger.Info().Str("cursor", cursor).Msg("Fetching cursor")

		p, ok := d.fetch(ctx, st, StrategyCursor, yield)
		if !ok {
			return
		}

		cursor = ""
		if v, found := p.Lookup(s.NextCursorKey); found && Truthy(v) {
			cursor = fmt.Sprint(v)
		}
		if cursor == "" || d.capped(st) {
			return
		}
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
