// Package page moves resource declarations between HTML documents and
// resource.Page values.
//
// Stylesheets come from <link rel="stylesheet" href> tags and keep their
// media attribute as the entry value. Scripts come from <script src> tags:
// those in <head> belong to the head position, those leading the <body>
// content to begin and the rest to end. A data-position attribute names the
// position explicitly. Module scripts and tags marked data-nominify are left
// in place.
package page

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/assetmin/internal/resource"
)

// Processor rewrites the resource groups of a page.
type Processor interface {
	ProcessPage(ctx context.Context, page *resource.Page) (*resource.Page, error)
}

// Document is a parsed HTML document together with the resources it declares.
type Document struct {
	root *html.Node
	head *html.Node
	body *html.Node
	page *resource.Page

	// extracted tags, removed by Apply
	nodes  []*html.Node
	anchor *html.Node
}

// Parse reads an HTML document and extracts its resource declarations.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &Document{root: root, page: resource.NewPage()}
	doc.head = find(root, atom.Head)
	doc.body = find(root, atom.Body)
	doc.extract()
	return doc, nil
}

// Page returns the resources declared by the document.
func (d *Document) Page() *resource.Page {
	return d.page
}

func (d *Document) extract() {
	var seenContent bool

	var traverse func(n *html.Node, inHead, inBody bool)
	traverse = func(n *html.Node, inHead, inBody bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				if c.Type == html.TextNode && inBody && strings.TrimSpace(c.Data) != "" {
					seenContent = true
				}
				continue
			}

			switch {
			case isStylesheet(c):
				d.page.CSS.Set(attr(c, "href"), attr(c, "media"))
				d.take(c, inHead)
				continue
			case isScript(c):
				pos := resource.PosEnd
				switch {
				case inHead:
					pos = resource.PosHead
				case !seenContent:
					pos = resource.PosBegin
				}
				if p, ok := resource.ParsePosition(attr(c, "data-position")); ok {
					pos = p
				}
				src := attr(c, "src")
				d.page.Script(pos).Set(src, src)
				d.take(c, inHead)
				continue
			}

			if inBody {
				seenContent = true
			}
			traverse(c, inHead || c == d.head, inBody || c == d.body)
		}
	}
	traverse(d.root, false, false)
}

func (d *Document) take(n *html.Node, inHead bool) {
	if inHead && d.anchor == nil {
		d.anchor = n
	}
	d.nodes = append(d.nodes, n)
}

// Apply replaces the extracted tags with the resources of page. Stylesheets
// and head scripts take the place of the first extracted head tag, begin
// scripts open the body and the remaining positions close it. Applying
// again replaces the tags inserted by the previous call.
func (d *Document) Apply(page *resource.Page) {
	head, body := d.head, d.body
	if head == nil {
		head = d.root
	}
	if body == nil {
		body = d.root
	}

	var inserted []*html.Node
	var headNodes []*html.Node
	for url, media := range page.CSS.All() {
		headNodes = append(headNodes, stylesheet(url, media))
	}
	for url := range page.Scripts[resource.PosHead].All() {
		headNodes = append(headNodes, script(url))
	}
	for _, n := range headNodes {
		if d.anchor != nil {
			d.anchor.Parent.InsertBefore(n, d.anchor)
		} else {
			head.AppendChild(n)
		}
	}
	inserted = append(inserted, headNodes...)

	first := body.FirstChild
	for url := range page.Scripts[resource.PosBegin].All() {
		n := script(url)
		body.InsertBefore(n, first)
		inserted = append(inserted, n)
	}

	for _, pos := range page.Positions() {
		if pos == resource.PosHead || pos == resource.PosBegin {
			continue
		}
		for url := range page.Scripts[pos].All() {
			n := script(url)
			body.AppendChild(n)
			inserted = append(inserted, n)
		}
	}

	for _, n := range d.nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	d.nodes = inserted
	d.anchor = nil
	if len(headNodes) > 0 {
		d.anchor = headNodes[0]
	}
	d.page = page
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Rewrite parses the document read from r, runs its resources through p and
// writes the rewritten document to w.
func Rewrite(ctx context.Context, p Processor, r io.Reader, w io.Writer) (*resource.Page, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}

	out, err := p.ProcessPage(ctx, doc.Page())
	if err != nil {
		return nil, err
	}

	doc.Apply(out)
	if err := doc.Render(w); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

func isStylesheet(n *html.Node) bool {
	if n.DataAtom != atom.Link || attr(n, "href") == "" || hasAttr(n, "data-nominify") {
		return false
	}
	for _, rel := range strings.Fields(attr(n, "rel")) {
		if strings.EqualFold(rel, "stylesheet") {
			return true
		}
	}
	return false
}

func isScript(n *html.Node) bool {
	if n.DataAtom != atom.Script || attr(n, "src") == "" || hasAttr(n, "data-nominify") {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(attr(n, "type"))) {
	case "", "text/javascript", "application/javascript":
		return true
	}
	return false
}

func stylesheet(url, media string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Link,
		Data:     "link",
		Attr: []html.Attribute{
			{Key: "rel", Val: "stylesheet"},
			{Key: "href", Val: url},
		},
	}
	if media != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "media", Val: media})
	}
	return n
}

func script(url string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr:     []html.Attribute{{Key: "src", Val: url}},
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}
