package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<!DOCTYPE html>
<html><head><link rel="stylesheet" href="/css/a.css"></head>
<body><p>hi</p><script src="/js/a.js"></script></body></html>`

type project struct {
	root   string
	out    string
	config string
}

func newProject(t *testing.T, extra string) *project {
	t.Helper()

	dir := t.TempDir()
	p := &project{
		root:   filepath.Join(dir, "site"),
		out:    filepath.Join(dir, "dist"),
		config: filepath.Join(dir, "assetmin.yml"),
	}
	for name, content := range map[string]string{
		"index.html":     testPage,
		"docs/page.html": testPage,
		"css/a.css":  "a{color:red}",
		"js/a.js":    "var a;",
	} {
		path := filepath.Join(p.root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	config := "app:\n" +
		"  root_dir: " + p.root + "\n" +
		"  work_dir: " + filepath.Join(dir, "work") + "\n" +
		"publish:\n" +
		"  dir: " + filepath.Join(dir, "assets") + "\n" +
		"  url: /assets\n" +
		"log:\n" +
		"  level: error\n" + extra
	require.NoError(t, os.WriteFile(p.config, []byte(config), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildCommand_JSON(t *testing.T) {
	p := newProject(t, "")

	out, err := execute(t, "build", "--config", p.config, "--out", p.out, "--format", "json")
	require.NoError(t, err, out)

	var report buildReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	require.Len(t, report.Pages, 1)
	assert.Equal(t, "index.html", report.Pages[0].Path)
	assert.Empty(t, report.Pages[0].Error)
	assert.Equal(t, int64(2), report.Stats.Builds)

	rendered, err := os.ReadFile(filepath.Join(p.out, "index.html"))
	require.NoError(t, err)
	assert.NotContains(t, string(rendered), "/css/a.css")
	assert.Contains(t, string(rendered), `href="/assets/`)
}

func TestBuildCommand_NestedPage(t *testing.T) {
	p := newProject(t, "")

	out, err := execute(t, "build", "--config", p.config, "--out", p.out, "--format", "text", "docs/*.html")
	require.NoError(t, err, out)

	rendered, err := os.ReadFile(filepath.Join(p.out, "docs", "page.html"))
	require.NoError(t, err)
	assert.Regexp(t, `<link rel="stylesheet" href="/assets/[^"]+\.min\.css"/>`, string(rendered))
	assert.Regexp(t, `<script src="/assets/[^"]+\.min\.js">`, string(rendered))
}

func TestBuildCommand_Text(t *testing.T) {
	p := newProject(t, "")

	out, err := execute(t, "build", "--config", p.config, "--out", p.out, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ index.html")
	assert.Contains(t, out, "CSS")
	assert.Contains(t, out, "Bundles: 2 built")

	// a second run reuses the published bundles
	out, err = execute(t, "build", "--config", p.config, "--out", p.out, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "0 built, 2 reused")
}

func TestBuildCommand_PageFailure(t *testing.T) {
	p := newProject(t, "minify:\n  fail_on_error: true\n")
	require.NoError(t, os.Remove(filepath.Join(p.root, "css", "a.css")))

	out, err := execute(t, "build", "--config", p.config, "--out", p.out, "--format", "text")
	require.Error(t, err)
	assert.Equal(t, "1 of 1 pages failed", err.Error())
	assert.Contains(t, out, "✗ index.html")
}

func TestBuildCommand_Errors(t *testing.T) {
	p := newProject(t, "")

	_, err := execute(t, "build", "--config", p.config, "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")

	_, err = execute(t, "build", "--config", filepath.Join(t.TempDir(), "missing.yml"), "--format", "text")
	assert.ErrorContains(t, err, "failed to read configuration")

	bad := newProject(t, "lock:\n  backend: etcd\n")
	_, err = execute(t, "build", "--config", bad.config, "--out", bad.out, "--format", "text")
	assert.Error(t, err)
}

func TestFingerprintCommand(t *testing.T) {
	p := newProject(t, "")

	out, err := execute(t, "fingerprint", "--config", p.config, "--json", "/css/a.css")
	require.NoError(t, err)

	var got fingerprintOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Regexp(t, `^[0-9a-f]{32}_\d+$`, got.Key)
	assert.Equal(t, got.Key+".min.css", got.Bundle)
	assert.Equal(t, got.Bundle, filepath.Base(got.Path))
	require.Len(t, got.Files, 1)
	assert.True(t, strings.HasSuffix(got.Files[0], filepath.Join("css", "a.css")))

	_, err = execute(t, "fingerprint", "--config", p.config, "--json", "/img/logo")
	assert.ErrorContains(t, err, "--kind")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Contains(t, got, "version")
	assert.Contains(t, got, "is_release")

	_, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}
