// Package urlpath classifies and normalizes the resource URLs declared by a
// page. Every function is pure string manipulation: nothing here touches the
// file system or holds state, so callers may use it from any goroutine.
//
// The functions are deliberately forgiving. Declarations come from arbitrary
// templates and stylesheets, so malformed or over-escaping input (a "../"
// that climbs above the root) is preserved rather than rejected.
package urlpath

import "strings"

var externalPrefixes = []string{"http:", "https:", "//"}

// Split breaks url into its domain, path and query parts.
//
// The query starts at the first '?' and keeps the '?'. A domain is only
// recognised when the remainder contains "//"; it then runs up to the next
// '/' after the "//". A scheme-less host such as "www.example.com/x" is
// therefore treated as a plain path.
func Split(url string) (domain, path, query string) {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		query = url[i:]
		url = url[:i]
	}

	p := strings.Index(url, "//")
	if p < 0 {
		return "", url, query
	}

	s := strings.IndexByte(url[p+2:], '/')
	if s < 0 {
		return url, "", query
	}

	return url[:p+2+s], url[p+2+s:], query
}

// IsExternal reports whether url points at another origin: it starts with
// "http:", "https:" or "//". The scheme comparison ignores case.
func IsExternal(url string) bool {
	for _, prefix := range externalPrefixes {
		if hasPrefixFold(url, prefix) {
			return true
		}
	}
	return false
}

// StripPrefix removes prefix from the start of url when present (ignoring
// case), then trims any leading slashes. A non-matching prefix only costs the
// leading slashes.
func StripPrefix(url, prefix string) string {
	if prefix != "" && hasPrefixFold(url, prefix) {
		url = url[len(prefix):]
	}
	return strings.TrimLeft(url, "/")
}

// Normalize collapses "." and ".." segments of url.
//
// Backslashes become forward slashes first. Domain and query are split off
// with Split and reattached untouched. A ".." removes the segment before it
// unless that segment is empty or itself "..", so leading escapes such as
// "../a" survive. Paths shorter than two characters are returned as is.
func Normalize(url string) string {
	if url == "" {
		return url
	}

	url = strings.ReplaceAll(url, `\`, "/")
	domain, path, query := Split(url)
	if len(path) < 2 {
		return url
	}

	parts := strings.Split(path, "/")
	for i := 0; i < len(parts); {
		switch {
		case parts[i] == ".":
			parts = append(parts[:i], parts[i+1:]...)
		case parts[i] == ".." && i > 0 && parts[i-1] != ".." && parts[i-1] != "":
			parts = append(parts[:i-1], parts[i+1:]...)
			i--
		default:
			i++
		}
	}

	return domain + strings.Join(parts, "/") + query
}

// Dir returns everything before the last '/' of url. Unlike path.Dir it does
// not clean the result, which matters for "..", so normalization stays the
// job of Normalize.
func Dir(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if trimmed == "" {
		if url == "" {
			return "."
		}
		return "/"
	}

	i := strings.LastIndexByte(trimmed, '/')
	switch {
	case i < 0:
		return "."
	case i == 0:
		return "/"
	}

	if dir := strings.TrimRight(trimmed[:i], "/"); dir != "" {
		return dir
	}
	return "/"
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
