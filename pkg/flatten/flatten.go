// Package flatten normalizes decoded pages into flat records suitable for
// tabular output. Nested objects become dotted column names; arrays are kept
// as single values.
package flatten

import (
	"sort"

	"github.com/Sternrassler/api-fetcher/pkg/pagination"
)

// Separator joins nested object keys into a column name.
const Separator = "."

// Record is one flat row keyed by column name.
type Record map[string]any

// Page converts one page into records:
//   - a list page yields one record per element
//   - an object page with a "data" key yields the records of that value
//   - any other object page is a single record
//   - scalar pages yield nothing
//
// Records without columns are dropped.
func Page(p pagination.Page) []Record {
	switch p.Kind {
	case pagination.KindList:
		return list(p.List)
	case pagination.KindObject:
		if data, ok := p.Object["data"]; ok {
			return value(data)
		}
		return nonEmpty(Object(p.Object))
	default:
		return nil
	}
}

// Pages flattens pages in order.
func Pages(pages []pagination.Page) []Record {
	var out []Record
	for _, p := range pages {
		out = append(out, Page(p)...)
	}
	return out
}

func value(v any) []Record {
	switch t := v.(type) {
	case []any:
		return list(t)
	case map[string]any:
		return nonEmpty(Object(t))
	case nil:
		return nil
	default:
		return []Record{{"value": t}}
	}
}

func list(items []any) []Record {
	out := make([]Record, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			if r := Object(t); len(r) > 0 {
				out = append(out, r)
			}
		default:
			out = append(out, Record{"value": t})
		}
	}
	return out
}

func nonEmpty(r Record) []Record {
	if len(r) == 0 {
		return nil
	}
	return []Record{r}
}

// Object flattens a single JSON object.
func Object(obj map[string]any) Record {
	r := make(Record, len(obj))
	flattenInto(r, "", obj)
	return r
}

func flattenInto(r Record, prefix string, obj map[string]any) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(r, key, nested)
			continue
		}
		r[key] = v
	}
}

// Columns returns the sorted union of column names across records.
func Columns(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
