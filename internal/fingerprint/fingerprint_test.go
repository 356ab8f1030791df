package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetmin/internal/errors"
)

func writeFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestMaxModTime(t *testing.T) {
	dir := t.TempDir()
	older := time.Unix(1_600_000_000, 0)
	newer := time.Unix(1_700_000_000, 500_000_000)

	a := writeFile(t, dir, "a.js", older)
	b := writeFile(t, dir, "b.js", newer)

	mt, err := MaxModTime([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), mt.Unix())
	assert.Zero(t, mt.Nanosecond(), "resolution is one second")

	mt, err = MaxModTime(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), mt.Unix())
}

func TestMaxModTime_MissingFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.js", time.Now())

	_, err := MaxModTime([]string{a, filepath.Join(dir, "gone.js")})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindMissingFile))
	assert.Contains(t, err.Error(), "gone.js")
}

func TestHashPaths(t *testing.T) {
	l1 := []string{"/srv/a.js", "/srv/b.js"}

	assert.Equal(t, HashPaths(l1), HashPaths([]string{"/srv/a.js", "/srv/b.js"}))
	assert.Len(t, HashPaths(l1), 32)
	assert.NotEqual(t, HashPaths(l1), HashPaths([]string{"/srv/b.js", "/srv/a.js"}), "order sensitive")
	assert.NotEqual(t, HashPaths(l1), HashPaths([]string{"/srv/A.js", "/srv/b.js"}), "case sensitive")
	assert.NotEqual(t, HashPaths(l1), HashPaths([]string{"/srv/a.js"}))
	assert.NotEqual(t, HashPaths(l1), HashPaths([]string{"/srv/a.js", "/srv/b.js", "/srv/b.js"}))
}

func TestCompute(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Unix(1_650_000_000, 0)
	a := writeFile(t, dir, "a.css", mtime)
	b := writeFile(t, dir, "b.css", mtime)

	f1, err := Compute([]string{a, b})
	require.NoError(t, err)
	f2, err := Compute([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.Equal(t, f1.Hash+"_1650000000", f1.String())
	assert.True(t, strings.HasSuffix(f1.BundleName(".min", ".css"), "_1650000000.min.css"))

	touched := time.Unix(1_650_000_100, 0)
	require.NoError(t, os.Chtimes(b, touched, touched))

	f3, err := Compute([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, f1.Hash, f3.Hash)
	assert.NotEqual(t, f1.String(), f3.String())
	assert.Equal(t, touched, f3.Time())
}
