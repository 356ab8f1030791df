package page

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetmin/internal/resource"
)

func TestManifest_Page(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(`
css:
  - url: /app/css/a.css
    value: screen
  - url: /app/css/b.css
scripts:
  head:
    - url: /app/js/head.js
  END:
    - url: /app/js/a.js
    - url: /app/js/b.js
`))
	require.NoError(t, err)

	page, err := m.Page()
	require.NoError(t, err)

	assert.Equal(t, []resource.Entry{
		{URL: "/app/css/a.css", Value: "screen"},
		{URL: "/app/css/b.css", Value: ""},
	}, page.CSS.Entries())
	assert.Equal(t, []resource.Position{resource.PosHead, resource.PosEnd}, page.Positions())

	value, ok := page.Scripts[resource.PosEnd].Get("/app/js/b.js")
	assert.True(t, ok)
	assert.Equal(t, "/app/js/b.js", value)
}

func TestManifest_UnknownPosition(t *testing.T) {
	m := &Manifest{Scripts: map[string][]resource.Entry{"footer": {{URL: "a.js"}}}}
	_, err := m.Page()
	assert.ErrorContains(t, err, `unknown script position "footer"`)
}

func TestManifest_Empty(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(""))
	require.NoError(t, err)

	page, err := m.Page()
	require.NoError(t, err)
	assert.Equal(t, 0, page.CSS.Len())
}

func TestManifest_WriteLoad(t *testing.T) {
	page := resource.NewPage()
	page.CSS.Set("a.css", "print")
	page.Script(resource.PosBegin).Set("b.js", "b.js")

	var buf bytes.Buffer
	require.NoError(t, NewManifest(page).Write(&buf))
	assert.Contains(t, buf.String(), "begin:")

	path := filepath.Join(t.TempDir(), "page.yml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	got, err := m.Page()
	require.NoError(t, err)

	assert.True(t, page.CSS.Equal(got.CSS))
	assert.True(t, page.Scripts[resource.PosBegin].Equal(got.Scripts[resource.PosBegin]))

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yml"))
	assert.True(t, os.IsNotExist(err))
}
