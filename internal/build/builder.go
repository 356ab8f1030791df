package build

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/conneroisu/assetmin/internal/cssrewrite"
	"github.com/conneroisu/assetmin/internal/errors"
	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/resource"
	"github.com/conneroisu/assetmin/internal/urlpath"
)

// File is a declared resource URL together with the file backing it.
type File struct {
	URL  string `json:"url" yaml:"url"`
	Path string `json:"path" yaml:"path"`
}

// Options configures a Builder.
type Options struct {
	// BaseURL is the URL prefix the application is mounted at, e.g. "/app".
	BaseURL string
	// RootDir is the directory declared URLs resolve against.
	RootDir string
	// WorkDir receives bundles, temporary files and rewritten stylesheets.
	WorkDir string
	// MinSuffix marks pre-minified files, e.g. "site.min.css" for ".min".
	MinSuffix string
	// RewriteCSS rewrites relative url() references of stylesheets before
	// they are bundled.
	RewriteCSS bool
	// FailOnError fails a build when a source has no pre-minified
	// counterpart instead of bundling the source itself.
	FailOnError bool
	// SkipMissing leaves unresolvable URLs out of the bundle instead of
	// failing the whole group.
	SkipMissing bool
	// CacheSize and CacheTTL bound the URL resolution cache. A zero TTL
	// disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultOptions returns the builder defaults.
func DefaultOptions() Options {
	return Options{
		RootDir:    ".",
		WorkDir:    filepath.Join("runtime", "minify"),
		MinSuffix:  ".min",
		RewriteCSS: true,
		CacheSize:  1024,
		CacheTTL:   5 * time.Second,
	}
}

// Builder turns declared URLs into bundle files.
type Builder struct {
	opts     Options
	logger   logging.Logger
	cache    *ResolveCache
	rewriter *cssrewrite.Rewriter

	tempFiles atomic.Int64
	rewrites  atomic.Int64
}

// NewBuilder creates a builder. A nil logger discards output.
func NewBuilder(opts Options, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Builder{
		opts:     opts,
		logger:   logger.WithComponent("builder"),
		cache:    NewResolveCache(opts.CacheSize, opts.CacheTTL),
		rewriter: cssrewrite.NewRewriter(opts.BaseURL),
	}
}

// Options returns the builder configuration.
func (b *Builder) Options() Options {
	return b.opts
}

// EnsureWorkDir creates the working directory if needed.
func (b *Builder) EnsureWorkDir() error {
	if err := os.MkdirAll(b.opts.WorkDir, 0o755); err != nil {
		return errors.NewDirectoryError(b.opts.WorkDir, err)
	}
	return nil
}

// BundlePath returns where the bundle named name is built.
func (b *Builder) BundlePath(name string) string {
	return filepath.Join(b.opts.WorkDir, name)
}

// ResolveFiles maps local URLs to canonical file paths under RootDir,
// keeping declaration order and duplicates. Unresolvable URLs fail the call
// unless SkipMissing is set, in which case they are logged and returned in
// missing.
func (b *Builder) ResolveFiles(ctx context.Context, urls []string) ([]File, []string, error) {
	var (
		files     []File
		missing   []string
		collector = errors.NewCollector()
	)

	for _, url := range urls {
		path, err := b.resolve(url)
		if err != nil {
			if !b.opts.SkipMissing {
				return nil, nil, err
			}
			collector.Add(err)
			missing = append(missing, url)
			continue
		}
		files = append(files, File{URL: url, Path: path})
	}

	for _, err := range collector.Errors() {
		b.logger.Warn(ctx, err, "Skipping unresolvable resource")
	}

	return files, missing, nil
}

func (b *Builder) resolve(url string) (string, error) {
	if path, ok := b.cache.Get(url); ok {
		return path, nil
	}

	rel := urlpath.StripPrefix(url, b.opts.BaseURL)
	rel, _, _ = strings.Cut(rel, "?")
	candidate := filepath.Join(b.opts.RootDir, filepath.FromSlash(rel))

	path, err := filepath.Abs(candidate)
	if err == nil {
		path, err = filepath.EvalSymlinks(path)
	}
	if err != nil {
		return "", errors.NewFileNotFoundError(url, candidate, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.NewFileNotFoundError(url, candidate, err)
	}
	if info.IsDir() {
		return "", errors.NewFileNotFoundError(url, candidate, fmt.Errorf("%s is a directory", path))
	}

	b.cache.Set(url, path)
	return path, nil
}

// FindPreminified returns the pre-minified sibling of path, such as
// "app.min.js" for "app.js" with suffix ".min". A path already carrying the
// suffix is returned as is. ok is false when no sibling exists.
func FindPreminified(path, suffix string) (string, bool) {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	if suffix == "" || strings.HasSuffix(stem, suffix) {
		return path, true
	}

	minified := stem + suffix + ext
	if info, err := os.Stat(minified); err == nil && !info.IsDir() {
		return minified, true
	}

	return "", false
}

// Concatenate writes the files, in order, to dest followed by one newline
// each. dest is truncated first. transform, when not nil, receives every
// file's content and declared URL and returns the text to write. The first
// failure aborts the call and leaves dest partially written.
func Concatenate(files []File, dest string, transform func(content, url string) string) error {
	var out *os.File
	defer func() {
		if out != nil {
			out.Close()
		}
	}()

	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			return errors.NewReadError(f.Path, err).WithURL(f.URL)
		}

		text := string(content)
		if transform != nil {
			text = transform(text, f.URL)
		}

		if out == nil {
			out, err = os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				out = nil
				return errors.NewWriteError(errors.ErrCodeWriteFailed, dest, err)
			}
		}
		if _, err := out.WriteString(text + "\n"); err != nil {
			return errors.NewWriteError(errors.ErrCodeWriteFailed, dest, err).WithURL(f.URL)
		}
	}

	if out != nil {
		err := out.Close()
		out = nil
		if err != nil {
			return errors.NewWriteError(errors.ErrCodeWriteFailed, dest, err)
		}
	}

	return nil
}

// Inputs returns the files a bundle of kind is concatenated from: the
// pre-minified counterpart of every source and, for rewritten stylesheets,
// the rewritten copy of it.
func (b *Builder) Inputs(ctx context.Context, kind resource.Kind, files []File) ([]File, error) {
	inputs := make([]File, 0, len(files))

	for _, f := range files {
		minified, ok := FindPreminified(f.Path, b.opts.MinSuffix)
		if !ok {
			err := errors.NewFileNotFoundError(f.URL, f.Path, nil)
			err.Code = errors.ErrCodeNoMinified
			err.Message = "minified version not found"
			if b.opts.FailOnError {
				return nil, err
			}
			b.logger.Info(ctx, "Minified version not found, using the source instead", "path", f.Path, "url", f.URL)
			minified = f.Path
		}

		input := File{URL: f.URL, Path: minified}
		if kind == resource.KindCSS && b.opts.RewriteCSS {
			rewritten, err := b.rewriteCSS(input)
			if err != nil {
				return nil, err
			}
			input = rewritten
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}

// rewriteCSS writes f with absolute url() references to a working-directory
// copy named after its URL and path. The copy is regenerated only when the
// source is newer.
func (b *Builder) rewriteCSS(f File) (File, error) {
	sum := md5.Sum([]byte(f.URL + "|" + f.Path))
	dest := filepath.Join(b.opts.WorkDir, "css_"+hex.EncodeToString(sum[:])+".css")

	srcInfo, err := os.Stat(f.Path)
	if err != nil {
		return File{}, errors.NewReadError(f.Path, err).WithURL(f.URL)
	}
	if info, err := os.Stat(dest); err == nil && !info.ModTime().Before(srcInfo.ModTime()) {
		return File{URL: f.URL, Path: dest}, nil
	}

	content, err := os.ReadFile(f.Path)
	if err != nil {
		return File{}, errors.NewReadError(f.Path, err).WithURL(f.URL)
	}

	rewritten := b.rewriter.Rewrite(string(content), f.URL)
	if err := writeAtomic(b.opts.WorkDir, dest, "css*", []byte(rewritten)); err != nil {
		return File{}, err
	}
	b.rewrites.Add(1)

	return File{URL: f.URL, Path: dest}, nil
}

// Build concatenates the inputs of files into a temporary file in the
// working directory, created on demand, and renames it to dest once
// complete, so dest is either absent or a whole bundle.
func (b *Builder) Build(ctx context.Context, kind resource.Kind, files []File, dest string) error {
	if err := b.EnsureWorkDir(); err != nil {
		return err
	}

	inputs, err := b.Inputs(ctx, kind, files)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.opts.WorkDir, "min*")
	if err != nil {
		return errors.NewWriteError(errors.ErrCodeWriteFailed, b.opts.WorkDir, err)
	}
	b.tempFiles.Add(1)
	tmpName := tmp.Name()
	tmp.Close()

	done := false
	defer func() {
		if !done {
			os.Remove(tmpName)
		}
	}()

	if err := Concatenate(inputs, tmpName, nil); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return errors.NewWriteError(errors.ErrCodeRenameFailed, dest, err)
	}
	done = true

	return nil
}

// TempFiles returns how many temporary bundle files were created.
func (b *Builder) TempFiles() int64 {
	return b.tempFiles.Load()
}

// Rewrites returns how many stylesheet copies were rewritten.
func (b *Builder) Rewrites() int64 {
	return b.rewrites.Load()
}

// CacheStats returns the resolution cache counters.
func (b *Builder) CacheStats() CacheStats {
	return b.cache.Stats()
}

// InvalidateCache forgets every resolved URL.
func (b *Builder) InvalidateCache() {
	b.cache.Invalidate()
}

func writeAtomic(dir, dest, pattern string, data []byte) error {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return errors.NewWriteError(errors.ErrCodeWriteFailed, dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewWriteError(errors.ErrCodeWriteFailed, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewWriteError(errors.ErrCodeWriteFailed, tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.NewWriteError(errors.ErrCodeRenameFailed, dest, err)
	}

	return nil
}
