// Package site renders the pages of a site through the resource processor.
//
// A page is either an HTML document, whose stylesheet and script tags are
// rewritten, or a YAML manifest (.yml, .yaml) declaring resource groups,
// which is rewritten into the manifest of the processed groups.
package site

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/page"
	"github.com/conneroisu/assetmin/internal/resource"
)

// Processor rewrites the resource groups of a page.
type Processor interface {
	ProcessPage(ctx context.Context, p *resource.Page) (*resource.Page, error)
}

// Options configure a Site.
type Options struct {
	// RootDir holds the pages and the resources they declare.
	RootDir string
	// Pages are glob patterns, relative to RootDir, selecting the pages.
	Pages []string
	// OutDir receives rendered pages. Empty discards them.
	OutDir string
	// Workers bounds concurrent page builds. Zero uses GOMAXPROCS.
	Workers int
}

// Result is the outcome of building one page.
type Result struct {
	Path     string         `json:"path" yaml:"path"`
	Page     *resource.Page `json:"-" yaml:"-"`
	Output   string         `json:"output,omitempty" yaml:"output,omitempty"`
	Duration time.Duration  `json:"duration" yaml:"duration"`
	Err      error          `json:"-" yaml:"-"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Site builds the configured pages.
type Site struct {
	opts      Options
	processor Processor
	logger    logging.Logger
}

// New creates a Site rendering pages through processor.
func New(processor Processor, opts Options, logger logging.Logger) *Site {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if len(opts.Pages) == 0 {
		opts.Pages = []string{"*.html"}
	}
	return &Site{opts: opts, processor: processor, logger: logger.WithComponent("site")}
}

// RootDir returns the directory pages are read from.
func (s *Site) RootDir() string {
	return s.opts.RootDir
}

// Pages returns the pages matched by the configured patterns as sorted
// slash separated paths relative to the root directory.
func (s *Site) Pages() ([]string, error) {
	var pages []string
	for _, pattern := range s.opts.Pages {
		matches, err := filepath.Glob(filepath.Join(s.opts.RootDir, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("page pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			if info, err := os.Stat(match); err != nil || info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(s.opts.RootDir, match)
			if err != nil {
				return nil, err
			}
			pages = append(pages, filepath.ToSlash(rel))
		}
	}
	slices.Sort(pages)
	return slices.Compact(pages), nil
}

// IsManifest reports whether name is a page manifest rather than HTML.
func IsManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// Render processes the page at rel and writes the result to w.
func (s *Site) Render(ctx context.Context, rel string, w io.Writer) (*resource.Page, error) {
	f, err := os.Open(filepath.Join(s.opts.RootDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !IsManifest(rel) {
		return page.Rewrite(ctx, s.processor, f, w)
	}

	manifest, err := page.ReadManifest(f)
	if err != nil {
		return nil, err
	}
	in, err := manifest.Page()
	if err != nil {
		return nil, err
	}
	out, err := s.processor.ProcessPage(ctx, in)
	if err != nil {
		return nil, err
	}
	return out, page.NewManifest(out).Write(w)
}

// Build renders the page at rel, into OutDir when one is configured.
func (s *Site) Build(ctx context.Context, rel string) Result {
	perf := logging.StartOperation(s.logger, "build_page")
	result := Result{Path: rel}

	var buf bytes.Buffer
	result.Page, result.Err = s.Render(ctx, rel, &buf)
	if result.Err == nil && s.opts.OutDir != "" {
		result.Output = filepath.Join(s.opts.OutDir, filepath.FromSlash(rel))
		result.Err = writeFile(result.Output, buf.Bytes())
	}

	result.Duration = perf.End(ctx, "page", rel)
	if result.Err != nil {
		result.Error = result.Err.Error()
		s.logger.Error(ctx, result.Err, "Page build failed", "page", rel)
	}
	return result
}

// BuildAll builds every page, at most Workers at a time. Page failures are
// reported in the results; the error is only set when ctx ends or the
// pages cannot be listed.
func (s *Site) BuildAll(ctx context.Context) ([]Result, error) {
	pages, err := s.Pages()
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(pages))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, rel := range pages {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.Build(ctx, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".page*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
