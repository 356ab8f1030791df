package build

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/assetmin/internal/errors"
	"github.com/conneroisu/assetmin/internal/fingerprint"
	"github.com/conneroisu/assetmin/internal/lock"
	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/monitoring"
	"github.com/conneroisu/assetmin/internal/publish"
	"github.com/conneroisu/assetmin/internal/resource"
)

const tracerName = "github.com/conneroisu/assetmin/internal/build"

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Locker    lock.Locker
	Publisher publish.Publisher
	Logger    logging.Logger
	Metrics   *monitoring.Metrics
	// Exclusive makes concurrent requests wait for the build in progress.
	// Otherwise a request that finds the lock taken gives up at once.
	Exclusive bool
	// LockTimeout bounds the wait of exclusive requests. Zero waits as long
	// as the request context allows.
	LockTimeout time.Duration
}

// Result describes a bundle served by the Coordinator.
type Result struct {
	URL         string                  `json:"url" yaml:"url"`
	Path        string                  `json:"path" yaml:"path"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Hit         bool                    `json:"hit" yaml:"hit"`
	BuildID     string                  `json:"build_id,omitempty" yaml:"build_id,omitempty"`
	Duration    time.Duration           `json:"duration" yaml:"duration"`
}

// Stats is a snapshot of the Coordinator counters.
type Stats struct {
	Hits      int64      `json:"hits" yaml:"hits"`
	Builds    int64      `json:"builds" yaml:"builds"`
	Failures  int64      `json:"failures" yaml:"failures"`
	TempFiles int64      `json:"temp_files" yaml:"temp_files"`
	Rewrites  int64      `json:"rewrites" yaml:"rewrites"`
	Cache     CacheStats `json:"cache" yaml:"cache"`
}

// Coordinator builds every bundle at most once per fingerprint. A named lock
// serializes the check-build-publish sequence, so concurrent requests for
// the same files either wait and then hit the finished bundle or skip it.
type Coordinator struct {
	builder   *Builder
	locker    lock.Locker
	publisher publish.Publisher
	logger    logging.Logger
	metrics   *monitoring.Metrics
	tracer    trace.Tracer
	exclusive bool
	timeout   time.Duration

	hits     atomic.Int64
	builds   atomic.Int64
	failures atomic.Int64
}

// NewCoordinator creates a Coordinator around builder. A nil Locker gets an
// in-process KeyedLocker.
func NewCoordinator(builder *Builder, cfg CoordinatorConfig) *Coordinator {
	if cfg.Locker == nil {
		cfg.Locker = lock.NewKeyedLocker()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}

	return &Coordinator{
		builder:   builder,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.WithComponent("coordinator"),
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer(tracerName),
		exclusive: cfg.Exclusive,
		timeout:   cfg.LockTimeout,
	}
}

// Builder returns the wrapped builder.
func (c *Coordinator) Builder() *Builder {
	return c.builder
}

// Bundle returns the published bundle of files, building it first when no
// up-to-date bundle exists. Any error means no bundle was produced.
func (c *Coordinator) Bundle(ctx context.Context, kind resource.Kind, files []File) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "assetmin.bundle",
		trace.WithAttributes(
			attribute.String("assetmin.kind", kind.String()),
			attribute.Int("assetmin.files", len(files)),
		),
	)
	defer span.End()

	result, err := c.bundle(ctx, kind, files, span)
	if err != nil {
		c.failures.Add(1)
		c.metrics.BundleFailed(kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Bool("assetmin.hit", result.Hit))
	return result, nil
}

func (c *Coordinator) bundle(ctx context.Context, kind resource.Kind, files []File, span trace.Span) (result *Result, err error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("bundle %s: no files", kind)
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}

	fp, err := fingerprint.Compute(paths)
	if err != nil {
		return nil, err
	}
	name := fp.BundleName(c.builder.opts.MinSuffix, kind.Ext())
	dest := c.builder.BundlePath(name)
	span.SetAttributes(attribute.String("assetmin.fingerprint", fp.String()))
	defer func() {
		if err != nil {
			errors.Annotate(err, "fingerprint", fp.String())
		}
	}()

	unlock, err := c.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()

	url, ok, err := c.check(ctx, dest, fp)
	if err != nil {
		return nil, err
	}
	if ok {
		c.hits.Add(1)
		c.metrics.BundleHit(kind.String())
		return &Result{URL: url, Path: dest, Fingerprint: fp, Hit: true, Duration: time.Since(start)}, nil
	}

	buildID := uuid.NewString()
	logger := logging.ForBundle(c.logger, kind.String(), fp.String(), buildID)
	logger.Debug(ctx, "Building bundle", "files", len(files), "dest", dest)

	if err := c.builder.Build(ctx, kind, files, dest); err != nil {
		return nil, err
	}
	url, err = c.publisher.Publish(ctx, dest)
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	c.builds.Add(1)
	c.metrics.BundleBuilt(kind.String(), duration)
	logger.Debug(ctx, "Bundle published", "url", url, "duration_ms", duration.Milliseconds())

	return &Result{URL: url, Path: dest, Fingerprint: fp, BuildID: buildID, Duration: duration}, nil
}

func (c *Coordinator) acquire(ctx context.Context, name string) (lock.Unlock, error) {
	if !c.exclusive {
		return c.locker.TryLock(ctx, name)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.locker.Lock(ctx, name)
}

// check reports whether dest is a complete bundle at least as new as fp and
// returns its public URL. A complete bundle that lost its published copy is
// published again without a rebuild.
func (c *Coordinator) check(ctx context.Context, dest string, fp fingerprint.Fingerprint) (string, bool, error) {
	info, err := os.Stat(dest)
	if err != nil || info.ModTime().Unix() < fp.ModTime {
		return "", false, nil
	}

	url, ok, err := c.publisher.PublishedURL(ctx, dest)
	if err != nil {
		return "", false, err
	}
	if ok {
		return url, true, nil
	}

	url, err = c.publisher.Publish(ctx, dest)
	if err != nil {
		return "", false, errors.Wrap(err, errors.KindPublish, errors.ErrCodePublishFailed, "republish bundle")
	}
	return url, true, nil
}

// Stats returns the coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Builds:    c.builds.Load(),
		Failures:  c.failures.Load(),
		TempFiles: c.builder.TempFiles(),
		Rewrites:  c.builder.Rewrites(),
		Cache:     c.builder.CacheStats(),
	}
}
