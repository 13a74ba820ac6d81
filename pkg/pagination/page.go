package pagination

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// ErrDecode is returned when a successful response body is not valid JSON.
var ErrDecode = errors.New("decode response body")

// Kind is the shape of a decoded response body.
type Kind int

const (
	// KindScalar is any JSON value that is neither an array nor an object.
	KindScalar Kind = iota
	// KindList is a JSON array.
	KindList
	// KindObject is a JSON object.
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "scalar"
	}
}

// Page is one decoded response body.
type Page struct {
	Kind   Kind
	List   []any
	Object map[string]any
	Scalar any

	// Raw is the undecoded body exactly as received.
	Raw []byte
}

// ParsePage decodes a response body into a typed Page. Numbers are kept as
// json.Number so large integer ids survive unchanged.
func ParsePage(body []byte) (Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	p := NewPage(v)
	p.Raw = body
	return p, nil
}

// NewPage wraps an already decoded JSON value.
func NewPage(v any) Page {
	switch t := v.(type) {
	case []any:
		return Page{Kind: KindList, List: t}
	case map[string]any:
		return Page{Kind: KindObject, Object: t}
	default:
		return Page{Kind: KindScalar, Scalar: t}
	}
}

// Value returns the decoded JSON value.
func (p Page) Value() any {
	switch p.Kind {
	case KindList:
		return p.List
	case KindObject:
		return p.Object
	default:
		return p.Scalar
	}
}

// Lookup returns the value stored under key in an object page. A key that is
// not present literally is tried as a dotted path ("result.items").
func (p Page) Lookup(key string) (any, bool) {
	if p.Kind != KindObject {
		return nil, false
	}
	if v, ok := p.Object[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	c := gabs.Wrap(p.Object).Path(key)
	if c == nil || !c.Exists() {
		return nil, false
	}
	return c.Data(), true
}

// Items returns the record list of the page: the page itself when it is a
// list, the list under dataPath when it is an object. Anything else is empty.
func (p Page) Items(dataPath string) []any {
	switch p.Kind {
	case KindList:
		return p.List
	case KindObject:
		v, _ := p.Lookup(dataPath)
		items, _ := v.([]any)
		return items
	default:
		return nil
	}
}

// Truthy reports whether a decoded JSON value counts as present: null, false,
// zero, the empty string and empty containers do not.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
