package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetmin/internal/build"
	"github.com/conneroisu/assetmin/internal/minify"
	"github.com/conneroisu/assetmin/internal/monitoring"
	"github.com/conneroisu/assetmin/internal/publish"
	"github.com/conneroisu/assetmin/internal/site"
	"github.com/conneroisu/assetmin/internal/websocket"
)

const page = `<!DOCTYPE html>
<html><head><link rel="stylesheet" href="/app/css/site.css"></head>
<body><h1>Shop</h1><script src="/app/js/app.js"></script></body></html>`

type harness struct {
	server *Server
	http   *httptest.Server
	root   string
}

func newHarness(t *testing.T, reload bool) *harness {
	t.Helper()

	root := t.TempDir()
	for name, content := range map[string]string{
		"index.html":      page,
		"shop/index.html": page,
		"css/site.css":    "body{background:url(img/bg.png)}",
		"js/app.js":       "var app;",
		"robots.txt":      "User-agent: *",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	publishDir := t.TempDir()
	bopts := build.DefaultOptions()
	bopts.BaseURL = "/app"
	bopts.RootDir = root
	bopts.WorkDir = filepath.Join(t.TempDir(), "work")

	metrics := monitoring.New(monitoring.WithNamespace("test"))
	coordinator := build.NewCoordinator(build.NewBuilder(bopts, nil), build.CoordinatorConfig{
		Publisher: publish.NewLocalPublisher(publishDir, "/assets"),
		Metrics:   metrics,
		Exclusive: true,
	})
	processor := minify.NewProcessor(coordinator, minify.Options{Enabled: true, BaseURL: "/app"}, nil, metrics)

	cfg := Config{
		BaseURL:     "/app",
		PublishDir:  publishDir,
		PublishURL:  "/assets",
		Site:        site.New(processor, site.Options{RootDir: root}, nil),
		Coordinator: coordinator,
		Metrics:     metrics,
	}
	if reload {
		cfg.Reload = websocket.NewManager(nil, nil, metrics)
		t.Cleanup(func() { cfg.Reload.Shutdown(context.Background()) })
	}

	s := New(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{server: s, http: srv, root: root}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(h.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

var bundleRef = regexp.MustCompile(`(?:href|src)="(/assets/[^"]+)"`)

func TestServer_RendersPages(t *testing.T) {
	h := newHarness(t, false)

	resp, body := h.get(t, "/app/")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotContains(t, body, "/app/css/site.css")
	assert.NotContains(t, body, "new WebSocket")

	refs := bundleRef.FindAllStringSubmatch(body, -1)
	require.Len(t, refs, 2, body)

	resp, css := h.get(t, refs[0][1])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=31536000, immutable", resp.Header.Get("Cache-Control"))
	assert.Contains(t, css, "url(/app/css/img/bg.png)")

	_, js := h.get(t, refs[1][1])
	assert.Equal(t, "var app;\n", js)

	resp, sub := h.get(t, "/app/shop")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bundleRef.FindAllString(body, -1), bundleRef.FindAllString(sub, -1))
}

func TestServer_StaticAndMissing(t *testing.T) {
	h := newHarness(t, false)

	resp, body := h.get(t, "/app/robots.txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User-agent: *", body)

	resp, _ = h.get(t, "/app/missing.html")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.get(t, "/app/../../etc/passwd")
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.get(t, "/app")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/app/", resp.Header.Get("Location"))
}

func TestServer_HealthStatsMetrics(t *testing.T) {
	h := newHarness(t, false)
	h.get(t, "/app/index.html")

	resp, body := h.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)

	_, body = h.get(t, "/api/stats")
	var stats build.Stats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, int64(2), stats.Builds)

	_, body = h.get(t, "/metrics")
	assert.Contains(t, body, `test_bundle_build_duration_seconds_count{kind="css"} 1`)
}

func TestServer_LiveReload(t *testing.T) {
	h := newHarness(t, true)

	_, body := h.get(t, "/app/")
	assert.Contains(t, body, "new WebSocket")
	assert.Less(t, strings.Index(body, "new WebSocket"), strings.Index(body, "</body>"))

	h.server.Reload("")
}

func TestInjectReload(t *testing.T) {
	assert.Equal(t, "<p></p>"+reloadScript, string(injectReload([]byte("<p></p>"))))
	assert.Equal(t, "<body>x"+reloadScript+"</body></html>", string(injectReload([]byte("<body>x</body></html>"))))
}

func TestServer_StartShutdown(t *testing.T) {
	h := newHarness(t, true)
	h.server.cfg.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
