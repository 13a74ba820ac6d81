package config

import "github.com/Sternrassler/api-fetcher/pkg/pagination"

// PaginationConfig is the pagination block as written in config files. Every
// strategy reads only its own keys.
type PaginationConfig struct {
	Type string `yaml:"type"`

	StartPage int    `yaml:"start_page"`
	PageParam string `yaml:"page_param"`
	DataPath  string `yaml:"data_path"`

	StartOffset int    `yaml:"start_offset"`
	Limit       int    `yaml:"limit"`
	OffsetParam string `yaml:"offset_param"`
	LimitParam  string `yaml:"limit_param"`

	NextKey string `yaml:"next_key"`

	StartCursor   string `yaml:"start_cursor"`
	CursorParam   string `yaml:"cursor_param"`
	NextCursorKey string `yaml:"next_cursor_key"`

	// MaxPages caps the number of pages per fetch. Zero means unlimited.
	MaxPages int `yaml:"max_pages"`
}

// DefaultPagination returns a single-request configuration with every
// strategy key at its default.
func DefaultPagination() PaginationConfig {
	return PaginationConfig{
		Type:          string(pagination.StrategyNone),
		StartPage:     1,
		PageParam:     "page",
		DataPath:      "data",
		StartOffset:   0,
		Limit:         100,
		OffsetParam:   "offset",
		LimitParam:    "limit",
		NextKey:       "next",
		CursorParam:   "cursor",
		NextCursorKey: "next_cursor",
	}
}

// Spec builds the typed pagination variant. Blank keys fall back to their
// defaults; an unrecognized type yields pagination.Unknown.
func (p PaginationConfig) Spec() pagination.Spec {
	d := DefaultPagination()
	or := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}

	switch pagination.Strategy(p.Type) {
	case "", pagination.StrategyNone:
		return pagination.None{}
	case pagination.StrategyPage:
		return pagination.PageNumber{
			StartPage: p.StartPage,
			PageParam: or(p.PageParam, d.PageParam),
			DataPath:  or(p.DataPath, d.DataPath),
		}
	case pagination.StrategyOffset:
		return pagination.Offset{
			StartOffset: p.StartOffset,
			Limit:       p.Limit,
			OffsetParam: or(p.OffsetParam, d.OffsetParam),
			LimitParam:  or(p.LimitParam, d.LimitParam),
			DataPath:    or(p.DataPath, d.DataPath),
		}
	case pagination.StrategyNextLink:
		return pagination.NextLink{
			NextKey: or(p.NextKey, d.NextKey),
		}
	case pagination.StrategyCursor:
		return pagination.Cursor{
			StartCursor:   p.StartCursor,
			CursorParam:   or(p.CursorParam, d.CursorParam),
			NextCursorKey: or(p.NextCursorKey, d.NextCursorKey),
		}
	default:
		return pagination.Unknown{Type: p.Type}
	}
}
