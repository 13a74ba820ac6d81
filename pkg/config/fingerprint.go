package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Fingerprint returns a deterministic key identifying the fetch target.
// Format: fetch:host/path:param1=val1:param2=val2
//
// Example:
//
//	fetch:api.example.com/v1/items:status=open
func (c *FetchConfig) Fingerprint() string {
	parts := []string{"fetch"}

	target := c.URL
	query := url.Values{}
	if u, err := url.Parse(c.URL); err == nil {
		target = u.Host + u.Path
		query = u.Query()
	}
	if target = strings.Trim(target, "/"); target != "" {
		parts = append(parts, target)
	}

	for k, vals := range c.QueryParams() {
		query[k] = append(query[k], vals...)
	}
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(query[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// Host returns the host of the target URL, or "" when it does not parse.
func (c *FetchConfig) Host() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Host
}
