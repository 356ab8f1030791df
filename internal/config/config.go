// Package config provides configuration management for assetmin using Viper
// for loading from files, environment variables and command-line flags.
//
// The configuration is read from .assetmin.yml, overridden by ASSETMIN_
// prefixed environment variables (ASSETMIN_MINIFY_ENABLED=false) and by flags
// bound by the commands. It covers where resources live, how bundles are
// built, locked and published, and the development server.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/assetmin/internal/build"
	"github.com/conneroisu/assetmin/internal/errors"
	"github.com/conneroisu/assetmin/internal/minify"
)

// EnvPrefix prefixes every environment variable read by the configuration.
const EnvPrefix = "ASSETMIN"

// Lock and publish backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendLocal  = "local"
	BackendS3     = "s3"
)

type Config struct {
	App     AppConfig     `mapstructure:"app" yaml:"app"`
	Minify  MinifyConfig  `mapstructure:"minify" yaml:"minify"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	Publish PublishConfig `mapstructure:"publish" yaml:"publish"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type AppConfig struct {
	BaseURL string   `mapstructure:"base_url" yaml:"base_url"`
	RootDir string   `mapstructure:"root_dir" yaml:"root_dir"`
	WorkDir string   `mapstructure:"work_dir" yaml:"work_dir"`
	Pages   []string `mapstructure:"pages" yaml:"pages"`
}

type MinifyConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	TrimBaseURL   bool          `mapstructure:"trim_base_url" yaml:"trim_base_url"`
	RewriteCSSURL bool          `mapstructure:"rewrite_css_url" yaml:"rewrite_css_url"`
	FailOnError   bool          `mapstructure:"fail_on_error" yaml:"fail_on_error"`
	SkipMissing   bool          `mapstructure:"skip_missing" yaml:"skip_missing"`
	MinSuffix     string        `mapstructure:"min_suffix" yaml:"min_suffix"`
	Exclusive     bool          `mapstructure:"exclusive" yaml:"exclusive"`
	LockTimeout   time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type LockConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Global        bool          `mapstructure:"global" yaml:"global"`
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	Prefix        string        `mapstructure:"prefix" yaml:"prefix"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type PublishConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	URL       string `mapstructure:"url" yaml:"url"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	PublicURL string `mapstructure:"public_url" yaml:"public_url"`
	Region    string `mapstructure:"region" yaml:"region"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type WatchConfig struct {
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.base_url", "")
	v.SetDefault("app.root_dir", ".")
	v.SetDefault("app.work_dir", filepath.Join("runtime", "minify"))
	v.SetDefault("app.pages", []string{"*.html"})

	v.SetDefault("minify.enabled", true)
	// Trimmed URLs are relative, which only resolves for pages served at
	// the application root or behind a <base> element.
	v.SetDefault("minify.trim_base_url", false)
	v.SetDefault("minify.rewrite_css_url", true)
	v.SetDefault("minify.fail_on_error", false)
	v.SetDefault("minify.skip_missing", false)
	v.SetDefault("minify.min_suffix", ".min")
	v.SetDefault("minify.exclusive", true)
	v.SetDefault("minify.lock_timeout", 10*time.Second)
	v.SetDefault("minify.cache_ttl", 5*time.Second)

	v.SetDefault("lock.backend", BackendMemory)
	v.SetDefault("lock.global", false)
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.prefix", "assetmin:lock:")
	v.SetDefault("lock.ttl", 30*time.Second)

	v.SetDefault("publish.backend", BackendLocal)
	v.SetDefault("publish.dir", "assets")
	v.SetDefault("publish.url", "/assets")
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "")
	v.SetDefault("publish.public_url", "")
	v.SetDefault("publish.region", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("watch.ignore", []string{"node_modules", ".git", "runtime"})
	v.SetDefault("watch.debounce", 300*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a Viper instance with defaults and environment binding in
// place.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, errors.ErrCodeConfigInvalid, "decode configuration")
	}

	// Slices set through the environment arrive as one space separated string
	if v.IsSet("app.pages") {
		config.App.Pages = v.GetStringSlice("app.pages")
	}
	if v.IsSet("watch.ignore") {
		config.Watch.Ignore = v.GetStringSlice("watch.ignore")
	}

	config.App.BaseURL = strings.TrimRight(config.App.BaseURL, "/")
	config.Publish.URL = strings.TrimRight(config.Publish.URL, "/")

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// BuilderOptions returns the bundle builder settings.
func (c *Config) BuilderOptions() build.Options {
	opts := build.DefaultOptions()
	opts.BaseURL = c.App.BaseURL
	opts.RootDir = c.App.RootDir
	opts.WorkDir = c.App.WorkDir
	opts.MinSuffix = c.Minify.MinSuffix
	opts.RewriteCSS = c.Minify.RewriteCSSURL
	opts.FailOnError = c.Minify.FailOnError
	opts.SkipMissing = c.Minify.SkipMissing
	opts.CacheTTL = c.Minify.CacheTTL
	return opts
}

// ProcessorOptions returns the page processing toggles.
func (c *Config) ProcessorOptions() minify.Options {
	return minify.Options{
		Enabled:     c.Minify.Enabled,
		TrimBaseURL: c.Minify.TrimBaseURL,
		BaseURL:     c.App.BaseURL,
		FailOnError: c.Minify.FailOnError,
	}
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateAppConfig(&config.App); err != nil {
		return err
	}
	if err := validateMinifyConfig(&config.Minify); err != nil {
		return err
	}
	if err := validateLockConfig(&config.Lock); err != nil {
		return err
	}
	if err := validatePublishConfig(&config.Publish); err != nil {
		return err
	}
	return validateServerConfig(&config.Server)
}

func validateAppConfig(config *AppConfig) error {
	if config.RootDir == "" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "app.root_dir must not be empty")
	}
	if config.WorkDir == "" {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "app.work_dir must not be empty")
	}
	if config.BaseURL != "" && !strings.HasPrefix(config.BaseURL, "/") {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("app.base_url %q must start with /", config.BaseURL))
	}
	return nil
}

func validateMinifyConfig(config *MinifyConfig) error {
	if suffix := config.MinSuffix; suffix != "" {
		if strings.ContainsAny(suffix, `/\`) || (suffix[0] != '.' && suffix[0] != '-') {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("minify.min_suffix %q must start with . or - and contain no path separator", suffix))
		}
	}
	if config.LockTimeout < 0 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "minify.lock_timeout must not be negative")
	}
	return nil
}

func validateLockConfig(config *LockConfig) error {
	switch config.Backend {
	case BackendMemory:
	case BackendRedis:
		if config.RedisAddr == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "lock.redis_addr is required for the redis backend")
		}
		if config.TTL <= 0 {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "lock.ttl must be positive")
		}
	default:
		return errors.NewConfigError(errors.ErrCodeUnsupportedBackend,
			fmt.Sprintf("lock.backend %q is not one of %s, %s", config.Backend, BackendMemory, BackendRedis))
	}
	return nil
}

func validatePublishConfig(config *PublishConfig) error {
	switch config.Backend {
	case BackendLocal:
		if config.Dir == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "publish.dir is required for the local backend")
		}
	case BackendS3:
		if config.Bucket == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "publish.bucket is required for the s3 backend")
		}
		if config.PublicURL == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "publish.public_url is required for the s3 backend")
		}
	default:
		return errors.NewConfigError(errors.ErrCodeUnsupportedBackend,
			fmt.Sprintf("publish.backend %q is not one of %s, %s", config.Backend, BackendLocal, BackendS3))
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("server.port %d is not in valid range 0-65535", config.Port))
	}

	if config.Host != "" {
		// Basic validation - no dangerous characters
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return errors.NewConfigError(errors.ErrCodeConfigInvalid,
					fmt.Sprintf("server.host contains dangerous character: %s", char))
			}
		}
	}

	return nil
}
