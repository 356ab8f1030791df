package cmd

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/conneroisu/assetmin/internal/build"
	"github.com/conneroisu/assetmin/internal/config"
	"github.com/conneroisu/assetmin/internal/lock"
	"github.com/conneroisu/assetmin/internal/logging"
	"github.com/conneroisu/assetmin/internal/minify"
	"github.com/conneroisu/assetmin/internal/monitoring"
	"github.com/conneroisu/assetmin/internal/publish"
	"github.com/conneroisu/assetmin/internal/site"
)

// app holds the components shared by the commands.
type app struct {
	cfg         *config.Config
	logger      logging.Logger
	metrics     *monitoring.Metrics
	builder     *build.Builder
	coordinator *build.Coordinator
	processor   *minify.Processor
	site        *site.Site
	// local is set when bundles are published to a local directory.
	local   *publish.LocalPublisher
	closers []func() error
}

// newApp wires the bundling stack described by cfg. The root directory and
// pages of opts default to the configured ones.
func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger, opts site.Options) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.New(),
	}

	locker, err := a.newLocker()
	if err != nil {
		return nil, err
	}
	publisher, err := a.newPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.builder = build.NewBuilder(cfg.BuilderOptions(), logger)
	a.coordinator = build.NewCoordinator(a.builder, build.CoordinatorConfig{
		Locker:      locker,
		Publisher:   publisher,
		Logger:      logger,
		Metrics:     a.metrics,
		Exclusive:   cfg.Minify.Exclusive,
		LockTimeout: cfg.Minify.LockTimeout,
	})
	a.processor = minify.NewProcessor(a.coordinator, cfg.ProcessorOptions(), logger, a.metrics)
	if opts.RootDir == "" {
		opts.RootDir = cfg.App.RootDir
	}
	if len(opts.Pages) == 0 {
		opts.Pages = cfg.App.Pages
	}
	a.site = site.New(a.processor, opts, logger)

	return a, nil
}

func (a *app) newLocker() (lock.Locker, error) {
	switch a.cfg.Lock.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Lock.RedisAddr,
			Password: a.cfg.Lock.RedisPassword,
			DB:       a.cfg.Lock.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		return lock.NewRedisLocker(client, lock.RedisConfig{
			Prefix: a.cfg.Lock.Prefix,
			TTL:    a.cfg.Lock.TTL,
			Global: a.cfg.Lock.Global,
		}), nil
	case config.BackendMemory:
		return lock.NewKeyedLocker(lock.WithGlobal(a.cfg.Lock.Global)), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", a.cfg.Lock.Backend)
	}
}

func (a *app) newPublisher(ctx context.Context) (publish.Publisher, error) {
	switch a.cfg.Publish.Backend {
	case config.BackendS3:
		var opts []func(*awsconfig.LoadOptions) error
		if a.cfg.Publish.Region != "" {
			opts = append(opts, awsconfig.WithRegion(a.cfg.Publish.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return publish.NewS3Publisher(s3.NewFromConfig(awsCfg),
			a.cfg.Publish.Bucket, a.cfg.Publish.Prefix, a.cfg.Publish.PublicURL), nil
	case config.BackendLocal:
		a.local = publish.NewLocalPublisher(a.cfg.Publish.Dir, a.cfg.Publish.URL)
		return a.local, nil
	default:
		return nil, fmt.Errorf("unsupported publish backend %q", a.cfg.Publish.Backend)
	}
}

// Close releases the connections opened by the app.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// setup loads the configuration, applies overrides and wires the app
// for cmd.
func setup(cmd *cobra.Command, opts site.Options) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, logger, opts)
}
