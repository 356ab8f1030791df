//go:build property
// +build property

package urlpath

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var segments = []string{"a", "b", "c", ".", "..", ""}

func joinSegments(idx []int, leadingSlash bool) string {
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = segments[n]
	}
	url := strings.Join(parts, "/")
	if leadingSlash {
		url = "/" + url
	}
	return url
}

func TestNormalizeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// Property: normalizing twice is the same as normalizing once
	properties.Property("normalize is idempotent", prop.ForAll(
		func(idx []int, leadingSlash bool) bool {
			url := joinSegments(idx, leadingSlash)
			once := Normalize(url)
			return Normalize(once) == once
		},
		gen.SliceOf(gen.IntRange(0, len(segments)-1)),
		gen.Bool(),
	))

	// Property: no "." segment survives in a path long enough to be processed.
	// Text after "//" is a domain and is left alone.
	properties.Property("dot segments are removed", prop.ForAll(
		func(idx []int) bool {
			url := joinSegments(idx, true)
			if len(url) < 2 || strings.Contains(url, "//") {
				return true
			}
			for _, part := range strings.Split(Normalize(url), "/") {
				if part == "." {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(segments)-1)),
	))

	// Property: the query string is never modified
	properties.Property("query is preserved", prop.ForAll(
		func(idx []int, query string) bool {
			url := joinSegments(idx, true) + "?" + query
			return strings.HasSuffix(Normalize(url), "?"+query)
		},
		gen.SliceOf(gen.IntRange(0, len(segments)-1)),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestIsExternalProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	prefixes := []string{"http:", "https:", "//"}

	properties.Property("scheme prefixes are external in any case", prop.ForAll(
		func(n int, upper bool, rest string) bool {
			prefix := prefixes[n]
			if upper {
				prefix = strings.ToUpper(prefix)
			}
			return IsExternal(prefix + rest)
		},
		gen.IntRange(0, len(prefixes)-1),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.Property("relative paths are local", prop.ForAll(
		func(path string) bool {
			return !IsExternal(path) && !IsExternal("/"+path)
		},
		gen.RegexMatch(`^[a-z0-9_.]+(/[a-z0-9_.]+)*$`),
	))

	properties.TestingRun(t)
}
