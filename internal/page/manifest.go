package page

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/assetmin/internal/resource"
)

// Manifest is the YAML form of a resource.Page, used to declare the
// resources of pages that are not HTML files.
//
//	css:
//	  - url: /app/css/site.css
//	    value: screen
//	scripts:
//	  end:
//	    - url: /app/js/app.js
type Manifest struct {
	CSS     []resource.Entry            `yaml:"css,omitempty" json:"css,omitempty"`
	Scripts map[string][]resource.Entry `yaml:"scripts,omitempty" json:"scripts,omitempty"`
}

// NewManifest converts page into its manifest form.
func NewManifest(page *resource.Page) *Manifest {
	m := &Manifest{CSS: page.CSS.Entries()}
	for _, pos := range page.Positions() {
		if m.Scripts == nil {
			m.Scripts = make(map[string][]resource.Entry)
		}
		m.Scripts[pos.String()] = page.Scripts[pos].Entries()
	}
	return m
}

// Page converts the manifest into a resource.Page. Script entries without a
// value take their URL as value.
func (m *Manifest) Page() (*resource.Page, error) {
	page := resource.NewPage()
	for _, e := range m.CSS {
		page.CSS.Set(e.URL, e.Value)
	}
	for name, entries := range m.Scripts {
		pos, ok := resource.ParsePosition(name)
		if !ok {
			return nil, fmt.Errorf("manifest: unknown script position %q", name)
		}
		group := page.Script(pos)
		for _, e := range entries {
			value := e.Value
			if value == "" {
				value = e.URL
			}
			group.Set(e.URL, value)
		}
	}
	return page, nil
}

// ReadManifest decodes a manifest from r.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads the manifest file at path.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadManifest(f)
}

// Write encodes the manifest as YAML.
func (m *Manifest) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}
