// Package minify replaces the local resources of a page with bundles.
//
// Processing never breaks a page: whenever a bundle cannot be produced the
// group is returned as declared and the reason is logged. Only FailOnError
// turns an unresolvable resource into an error for the caller.
package minify

import (
	"context"
	"slices"

	"github.com/conneroisu/assetmin/internal/build"
	"github.com/conneroisu/assetmin/internal/errors"
	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/monitoring"
	"github.com/conneroisu/assetmin/internal/resource"
	"github.com/conneroisu/assetmin/internal/urlpath"
)

// Options are the processing toggles.
type Options struct {
	// Enabled bundles local resources. When false groups pass through,
	// trimmed when TrimBaseURL is set.
	Enabled bool
	// TrimBaseURL strips BaseURL and the leading slash from local URLs and
	// bundle URLs.
	TrimBaseURL bool
	// BaseURL is the URL prefix the application is mounted at.
	BaseURL string
	// FailOnError returns unresolvable resources as errors instead of
	// serving the group unbundled.
	FailOnError bool
}

// Processor rewrites the resource groups of pages.
type Processor struct {
	opts        Options
	coordinator *build.Coordinator
	logger      logging.Logger
	metrics     *monitoring.Metrics
}

// NewProcessor creates a Processor building bundles through coordinator.
func NewProcessor(coordinator *build.Coordinator, opts Options, logger logging.Logger, metrics *monitoring.Metrics) *Processor {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Processor{
		opts:        opts,
		coordinator: coordinator,
		logger:      logger.WithComponent("minify"),
		metrics:     metrics,
	}
}

// Options returns the processing toggles.
func (p *Processor) Options() Options {
	return p.opts
}

// Coordinator returns the coordinator bundles are built through.
func (p *Processor) Coordinator() *build.Coordinator {
	return p.coordinator
}

// ProcessPage processes the stylesheet group and every script group of
// page. The input page is not modified.
func (p *Processor) ProcessPage(ctx context.Context, page *resource.Page) (*resource.Page, error) {
	if !p.opts.Enabled && !p.opts.TrimBaseURL {
		return page, nil
	}

	if err := p.coordinator.Builder().EnsureWorkDir(); err != nil {
		p.logger.Warn(ctx, err, "Working directory unavailable, page left unprocessed")
		p.metrics.Fallback("page", string(errors.KindOf(err)))
		return page, nil
	}

	perf := logging.StartOperation(p.logger, "process_page")

	out := resource.NewPage()
	css, err := p.Process(ctx, page.CSS, resource.KindCSS)
	if err != nil {
		return nil, err
	}
	out.CSS = css

	for _, pos := range page.Positions() {
		scripts, err := p.Process(ctx, page.Scripts[pos], resource.KindJS)
		if err != nil {
			return nil, err
		}
		out.Scripts[pos] = scripts
	}

	p.metrics.PageProcessed(perf.End(ctx, "scripts", len(page.Scripts)))
	return out, nil
}

// Process returns group with its local resources replaced by one bundle
// appended after the external resources. Local resources skipped because they
// do not resolve stay next to the bundle in their declared order. On failure
// the group itself is returned.
func (p *Processor) Process(ctx context.Context, group *resource.Group, kind resource.Kind) (*resource.Group, error) {
	if !p.opts.Enabled {
		if p.opts.TrimBaseURL {
			return p.trim(group, kind), nil
		}
		return group, nil
	}

	externals, locals := partition(group)
	if len(locals) == 0 {
		return externals, nil
	}

	files, missing, err := p.coordinator.Builder().ResolveFiles(ctx, locals)
	if err != nil {
		return p.fallback(ctx, group, kind, err)
	}
	if len(files) == 0 {
		p.logger.Warn(ctx, nil, "No local resource resolved, group left unbundled", "kind", kind.String(), "missing", len(missing))
		p.metrics.Fallback(kind.String(), string(errors.KindFileNotFound))
		return group, nil
	}

	result, err := p.coordinator.Bundle(ctx, kind, files)
	if err != nil {
		return p.fallback(ctx, group, kind, err)
	}

	url := result.URL
	if p.opts.TrimBaseURL {
		url = urlpath.StripPrefix(url, p.opts.BaseURL)
	}
	value := url
	if kind == resource.KindCSS {
		// A bundle mixes the media of its stylesheets.
		value = ""
	}

	// The bundle takes the place of the first resolved resource. Skipped
	// resources keep their position relative to it.
	bundled := false
	for _, local := range locals {
		if slices.Contains(missing, local) {
			v, _ := group.Get(local)
			externals.Set(local, v)
			continue
		}
		if !bundled {
			externals.Set(url, value)
			bundled = true
		}
	}

	return externals, nil
}

func (p *Processor) fallback(ctx context.Context, group *resource.Group, kind resource.Kind, err error) (*resource.Group, error) {
	if p.opts.FailOnError && errors.IsFileNotFound(err) {
		return nil, err
	}

	p.logger.Warn(ctx, err, "Bundle unavailable, serving resources unbundled", "kind", kind.String())
	p.metrics.Fallback(kind.String(), string(errors.KindOf(err)))

	return group, nil
}

// trim strips the base URL from local entries. Script values follow their
// trimmed URL; stylesheet media are kept.
func (p *Processor) trim(group *resource.Group, kind resource.Kind) *resource.Group {
	out := &resource.Group{}
	for url, value := range group.All() {
		if urlpath.IsExternal(url) {
			out.Set(url, value)
			continue
		}
		trimmed := urlpath.StripPrefix(url, p.opts.BaseURL)
		if kind == resource.KindJS {
			value = trimmed
		}
		out.Set(trimmed, value)
	}
	return out
}

// partition splits group into its external entries, in order, and the URLs
// of its local entries.
func partition(group *resource.Group) (*resource.Group, []string) {
	externals := &resource.Group{}
	var locals []string
	for url, value := range group.All() {
		if urlpath.IsExternal(url) {
			externals.Set(url, value)
		} else {
			locals = append(locals, url)
		}
	}
	return externals, locals
}
