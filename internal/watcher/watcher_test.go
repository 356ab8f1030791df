package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetmin/internal/monitoring"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NoError(t, watcher.AddPath(t.TempDir()))
	assert.Error(t, watcher.AddPath("/non/existent/path"))
}

func TestFileWatcherAddRecursive(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"css", "js/vendor", "node_modules/pkg"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	watcher, err := NewFileWatcher(100*time.Millisecond, nil, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, watcher.AddRecursive(root, "node_modules"))

	list := watcher.watcher.WatchList()
	assert.Contains(t, list, filepath.Join(root, "js", "vendor"))
	assert.NotContains(t, list, filepath.Join(root, "node_modules"))
	assert.NotContains(t, list, filepath.Join(root, "node_modules", "pkg"))
}

func TestFileWatcherStartStop(t *testing.T) {
	root := t.TempDir()
	metrics := monitoring.New(monitoring.WithNamespace("test"))

	watcher, err := NewFileWatcher(50*time.Millisecond, nil, metrics)
	require.NoError(t, err)

	watcher.AddFilter(AssetFilter)
	require.NoError(t, watcher.AddPath(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received []ChangeEvent
	watcher.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mu.Lock()
		received = append(received, events...)
		mu.Unlock()
		return nil
	})

	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "site.css"), []byte("a{}"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	for _, e := range received {
		assert.Equal(t, filepath.Join(root, "site.css"), e.Path)
	}
	mu.Unlock()

	cancel()
	assert.NoError(t, watcher.Stop())
}

func TestAssetFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"css/site.css", true},
		{"js/app.JS", true},
		{"index.html", true},
		{"pages/home.yml", true},
		{"main.go", false},
		{"image.png", false},
		{"README", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, AssetFilter(tc.path))
		})
	}
}

func TestIgnoreFilter(t *testing.T) {
	work := filepath.Join(string(filepath.Separator), "srv", "runtime", "minify")
	filter := IgnoreFilter("node_modules", ".git", work)

	testCases := []struct {
		path     string
		expected bool
	}{
		{"/srv/css/site.css", true},
		{"/srv/node_modules/pkg/index.js", false},
		{".git/config", false},
		{filepath.Join(work, "abc_1.min.js"), false},
		{work, false},
		{work + "-old/a.js", true},
		{"/srv/modules/a.js", true},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, filter(tc.path))
		})
	}
}

func TestDebouncer(t *testing.T) {
	debouncer := NewDebouncer(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	for _, path := range []string{"b.css", "a.css", "b.css", "a.css"} {
		debouncer.events <- ChangeEvent{Type: EventTypeModified, Path: path}
		time.Sleep(5 * time.Millisecond)
	}
	debouncer.events <- ChangeEvent{Type: EventTypeDeleted, Path: "b.css"}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.css", events[0].Path)
		assert.Equal(t, "b.css", events[1].Path)
		assert.Equal(t, EventTypeDeleted, events[1].Type, "last event per path wins")
	case <-time.After(time.Second):
		t.Fatal("no debounced batch")
	}

	select {
	case events := <-debouncer.output:
		t.Fatalf("unexpected second batch: %v", events)
	case <-time.After(150 * time.Millisecond):
	}
}
