package config

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

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "", cfg.App.BaseURL)
	assert.Equal(t, ".", cfg.App.RootDir)
	assert.Equal(t, filepath.Join("runtime", "minify"), cfg.App.WorkDir)
	assert.Equal(t, []string{"*.html"}, cfg.App.Pages)

	assert.True(t, cfg.Minify.Enabled)
	assert.False(t, cfg.Minify.TrimBaseURL, "pages in subdirectories need root-absolute bundle URLs")
	assert.True(t, cfg.Minify.RewriteCSSURL)
	assert.False(t, cfg.Minify.FailOnError)
	assert.Equal(t, ".min", cfg.Minify.MinSuffix)
	assert.True(t, cfg.Minify.Exclusive)
	assert.Equal(t, 10*time.Second, cfg.Minify.LockTimeout)

	assert.Equal(t, BackendMemory, cfg.Lock.Backend)
	assert.Equal(t, BackendLocal, cfg.Publish.Backend)
	assert.Equal(t, "/assets", cfg.Publish.URL)
	assert.Equal(t, "localhost:8080", cfg.Addr())
}

func TestLoadFrom_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".assetmin.yml")
	content := `
app:
  base_url: /app/
  root_dir: public
  pages: [index.html, about.html]
minify:
  exclusive: false
  lock_timeout: 2s
  min_suffix: -min
lock:
  backend: redis
  redis_addr: redis:6379
  global: true
publish:
  backend: s3
  bucket: assets
  public_url: https://cdn.example.com
server:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := NewViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "/app", cfg.App.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "public", cfg.App.RootDir)
	assert.Equal(t, []string{"index.html", "about.html"}, cfg.App.Pages)
	assert.False(t, cfg.Minify.Exclusive)
	assert.Equal(t, 2*time.Second, cfg.Minify.LockTimeout)
	assert.Equal(t, "-min", cfg.Minify.MinSuffix)
	assert.Equal(t, BackendRedis, cfg.Lock.Backend)
	assert.True(t, cfg.Lock.Global)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, BackendS3, cfg.Publish.Backend)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Minify.Enabled, "unset keys keep their default")
}

func TestLoadFrom_Env(t *testing.T) {
	t.Setenv("ASSETMIN_MINIFY_ENABLED", "false")
	t.Setenv("ASSETMIN_APP_BASE_URL", "/shop")
	t.Setenv("ASSETMIN_APP_PAGES", "a.html b.html")
	t.Setenv("ASSETMIN_MINIFY_LOCK_TIMEOUT", "250ms")

	cfg, err := LoadFrom(NewViper())
	require.NoError(t, err)

	assert.False(t, cfg.Minify.Enabled)
	assert.Equal(t, "/shop", cfg.App.BaseURL)
	assert.Equal(t, []string{"a.html", "b.html"}, cfg.App.Pages)
	assert.Equal(t, 250*time.Millisecond, cfg.Minify.LockTimeout)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
		code string
		msg  string
	}{
		{"lock backend", "lock.backend", "etcd", errors.ErrCodeUnsupportedBackend, "lock.backend"},
		{"publish backend", "publish.backend", "ftp", errors.ErrCodeUnsupportedBackend, "publish.backend"},
		{"s3 without bucket", "publish.backend", "s3", errors.ErrCodeConfigInvalid, "publish.bucket"},
		{"port", "server.port", 70000, errors.ErrCodeConfigInvalid, "server.port"},
		{"host", "server.host", "localhost;rm", errors.ErrCodeConfigInvalid, "server.host"},
		{"base url", "app.base_url", "app", errors.ErrCodeConfigInvalid, "app.base_url"},
		{"suffix separator", "minify.min_suffix", ".min/x", errors.ErrCodeConfigInvalid, "minify.min_suffix"},
		{"suffix start", "minify.min_suffix", "min", errors.ErrCodeConfigInvalid, "minify.min_suffix"},
		{"negative timeout", "minify.lock_timeout", "-1s", errors.ErrCodeConfigInvalid, "minify.lock_timeout"},
		{"empty work dir", "app.work_dir", "", errors.ErrCodeConfigInvalid, "app.work_dir"},
		{"redis without addr", "lock.redis_addr", "", errors.ErrCodeConfigInvalid, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewViper()
			v.Set(tt.key, tt.val)
			if tt.name == "redis without addr" {
				v.Set("lock.backend", BackendRedis)
			}

			_, err := LoadFrom(v)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.True(t, strings.Contains(err.Error(), tt.msg), err.Error())
		})
	}
}

func TestConfig_Options(t *testing.T) {
	v := NewViper()
	v.Set("app.base_url", "/app")
	v.Set("app.root_dir", "web")
	v.Set("minify.fail_on_error", true)
	v.Set("minify.rewrite_css_url", false)
	v.Set("minify.trim_base_url", true)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	b := cfg.BuilderOptions()
	assert.Equal(t, "/app", b.BaseURL)
	assert.Equal(t, "web", b.RootDir)
	assert.True(t, b.FailOnError)
	assert.False(t, b.RewriteCSS)
	assert.Equal(t, ".min", b.MinSuffix)

	p := cfg.ProcessorOptions()
	assert.True(t, p.Enabled)
	assert.True(t, p.TrimBaseURL)
	assert.True(t, p.FailOnError)
	assert.Equal(t, "/app", p.BaseURL)
}
