// Package resource holds the data model shared by the bundling packages:
// the kinds of resources, ordered resource groups and the per-page set of
// groups handed over by the host render pipeline.
package resource

import (
	"iter"
	"slices"
	"strings"
)

// Kind is the type of resource a group contains.
type Kind int

const (
	KindCSS Kind = iota
	KindJS
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindJS:
		return "js"
	default:
		return "unknown"
	}
}

// Ext returns the file extension, with the dot, used for bundles of this kind.
func (k Kind) Ext() string {
	return "." + k.String()
}

// ParseKind maps "css"/"js" (and a file extension) to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "css":
		return KindCSS, true
	case "js", "javascript":
		return KindJS, true
	}
	return KindCSS, false
}

// Position is where a script group is injected into the page.
type Position int

const (
	PosHead Position = iota
	PosBegin
	PosEnd
	PosLoad
	PosReady
)

var positionNames = []string{"head", "begin", "end", "load", "ready"}

// String returns the string representation of the position
func (p Position) String() string {
	if p < 0 || int(p) >= len(positionNames) {
		return "unknown"
	}
	return positionNames[p]
}

// ParsePosition maps a position name to a Position.
func ParsePosition(s string) (Position, bool) {
	i := slices.Index(positionNames, strings.ToLower(s))
	if i < 0 {
		return PosHead, false
	}
	return Position(i), true
}

// Entry is one declared resource: its URL and associated value. The value is
// the media type for stylesheets and the URL itself for scripts.
type Entry struct {
	URL   string `yaml:"url" json:"url"`
	Value string `yaml:"value" json:"value"`
}

// Group is an ordered mapping from resource URL to value. Insertion order is
// kept; setting an existing URL again replaces its value in place, so the
// last write wins while the first position is retained.
// The zero value is an empty group ready to use.
type Group struct {
	entries []Entry
	index   map[string]int
}

// NewGroup creates a group from entries, applying Set to each in turn.
func NewGroup(entries ...Entry) *Group {
	g := &Group{}
	for _, e := range entries {
		g.Set(e.URL, e.Value)
	}
	return g
}

// Set stores value under url.
func (g *Group) Set(url, value string) {
	if g.index == nil {
		g.index = make(map[string]int)
	}
	if i, ok := g.index[url]; ok {
		g.entries[i].Value = value
		return
	}
	g.index[url] = len(g.entries)
	g.entries = append(g.entries, Entry{URL: url, Value: value})
}

// Get returns the value stored under url.
func (g *Group) Get(url string) (string, bool) {
	if g == nil || g.index == nil {
		return "", false
	}
	i, ok := g.index[url]
	if !ok {
		return "", false
	}
	return g.entries[i].Value, true
}

// Len returns the number of entries.
func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.entries)
}

// Entries returns a copy of the entries in order.
func (g *Group) Entries() []Entry {
	if g == nil {
		return nil
	}
	return slices.Clone(g.entries)
}

// URLs returns the entry URLs in order.
func (g *Group) URLs() []string {
	if g == nil {
		return nil
	}
	urls := make([]string, len(g.entries))
	for i, e := range g.entries {
		urls[i] = e.URL
	}
	return urls
}

// All iterates over url/value pairs in order.
func (g *Group) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if g == nil {
			return
		}
		for _, e := range g.entries {
			if !yield(e.URL, e.Value) {
				return
			}
		}
	}
}

// Clone returns an independent copy of the group.
func (g *Group) Clone() *Group {
	if g == nil {
		return &Group{}
	}
	return NewGroup(g.entries...)
}

// Equal reports whether both groups hold the same entries in the same order.
func (g *Group) Equal(other *Group) bool {
	return slices.Equal(g.Entries(), other.Entries())
}

// Page is the full set of resource declarations of one rendered page.
type Page struct {
	CSS     *Group
	Scripts map[Position]*Group
}

// NewPage creates an empty page.
func NewPage() *Page {
	return &Page{CSS: &Group{}, Scripts: make(map[Position]*Group)}
}

// Script returns the script group for pos, creating it when missing.
func (p *Page) Script(pos Position) *Group {
	if p.Scripts == nil {
		p.Scripts = make(map[Position]*Group)
	}
	g, ok := p.Scripts[pos]
	if !ok {
		g = &Group{}
		p.Scripts[pos] = g
	}
	return g
}

// Positions returns the script positions present on the page in render order.
func (p *Page) Positions() []Position {
	positions := make([]Position, 0, len(p.Scripts))
	for pos := range p.Scripts {
		positions = append(positions, pos)
	}
	slices.Sort(positions)
	return positions
}
