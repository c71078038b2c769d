package protocol

import (
	"net/url"
	"strings"
)

// NormalizeTarget implements spec.md §4.2's target path extraction: the
// target field of an HttpRequest may arrive as an absolute URL, an
// origin-form path, or a bare path, and is normalized to origin-form
// (path + '?' + query, fragment dropped). Normalization is idempotent.
func NormalizeTarget(raw string) string {
	if raw == "" {
		return "/"
	}

	if strings.HasPrefix(raw, "/") {
		return dropFragment(raw)
	}

	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		path := u.Path
		if path == "" {
			path = "/"
		}
		if u.RawQuery != "" {
			return path + "?" + u.RawQuery
		}
		return path
	}

	return "/" + strings.TrimPrefix(dropFragment(raw), "/")
}

func dropFragment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}
