// Package cssrewrite rewrites the url() references of a stylesheet so they
// keep pointing at the same files after the stylesheet is relocated, for
// example when it is concatenated into a bundle served from another
// directory.
//
// Only the plain url(...) token shape is understood: the reference ends at
// the first ')' and nested parentheses are not supported. No other CSS
// syntax is parsed.
package cssrewrite

import (
	"iter"
	"regexp"
	"strings"

	"github.com/conneroisu/assetmin/internal/urlpath"
)

var urlToken = regexp.MustCompile(`(?i)\burl\(([^)]+)\)`)

// Token is one url(...) occurrence inside a stylesheet.
type Token struct {
	// Start and End delimit the whole token, "url(" through ")".
	Start int
	End   int
	// Ref is the reference with surrounding quotes and whitespace removed.
	Ref string
}

// Tokens yields every url(...) token of css from left to right. The scan is
// lazy and linear: each match resumes after the previous one.
func Tokens(css string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		offset := 0
		for offset < len(css) {
			loc := urlToken.FindStringSubmatchIndex(css[offset:])
			if loc == nil {
				return
			}

			tok := Token{
				Start: offset + loc[0],
				End:   offset + loc[1],
				Ref:   strings.Trim(css[offset+loc[2]:offset+loc[3]], " \t\r\n'\""),
			}
			if !yield(tok) {
				return
			}
			offset = tok.End
		}
	}
}

// Rewriter makes relative url() references absolute from the application
// root.
type Rewriter struct {
	// BaseURL is the URL prefix the application is served under, e.g. "/app".
	// It may be empty.
	BaseURL string
}

// NewRewriter returns a Rewriter for an application served under baseURL.
func NewRewriter(baseURL string) *Rewriter {
	return &Rewriter{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Prefix returns the app-root-absolute directory, with a trailing slash, that
// relative references of the stylesheet at cssURL resolve against.
func (r *Rewriter) Prefix(cssURL string) string {
	dir := urlpath.StripPrefix(urlpath.Dir(cssURL), r.BaseURL)
	if dir == "" {
		return r.BaseURL + "/"
	}
	return r.BaseURL + "/" + dir + "/"
}

// Rewrite returns a copy of css in which every relative url() reference is
// resolved against the directory of cssURL. References that are already
// absolute ("/..."), external, data URIs or fragment-only are kept. Every
// emitted token is written without quotes.
func (r *Rewriter) Rewrite(css, cssURL string) string {
	prefix := r.Prefix(cssURL)

	var b strings.Builder
	b.Grow(len(css))

	last := 0
	for tok := range Tokens(css) {
		b.WriteString(css[last:tok.Start])
		b.WriteString("url(")
		b.WriteString(r.resolve(prefix, tok.Ref))
		b.WriteString(")")
		last = tok.End
	}
	b.WriteString(css[last:])

	return b.String()
}

func (r *Rewriter) resolve(prefix, ref string) string {
	if !IsRelative(ref) {
		return ref
	}
	return urlpath.Normalize(prefix + ref)
}

// IsRelative reports whether ref depends on the location of the stylesheet
// that contains it.
func IsRelative(ref string) bool {
	switch {
	case ref == "":
		return false
	case strings.HasPrefix(ref, "/"), strings.HasPrefix(ref, "#"):
		return false
	case urlpath.IsExternal(ref):
		return false
	case len(ref) >= 5 && strings.EqualFold(ref[:5], "data:"):
		return false
	}
	return true
}
