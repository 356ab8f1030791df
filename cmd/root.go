// Package cmd provides the command-line interface for assetmin.
//
// Configuration is read, from highest to lowest priority, from command-line
// flags, ASSETMIN_ prefixed environment variables (ASSETMIN_MINIFY_ENABLED,
// ASSETMIN_LOCK_BACKEND, ...) and the configuration file: the --config flag,
// the ASSETMIN_CONFIG_FILE environment variable or .assetmin.yml in the
// current directory.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/assetmin/internal/config"
	"github.com/conneroisu/assetmin/internal/logging"
)

var cfgFile string

// flagBindings maps configuration keys to the flags overriding them. They
// are bound again each time the configuration is initialized.
var flagBindings = map[string]*pflag.Flag{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "assetmin",
	Short: "Bundle the stylesheets and scripts of web pages",
	Long: `assetmin replaces the local stylesheets and scripts declared by a page with
one fingerprinted bundle per group, built at most once per set of sources and
published to a local directory or an S3 bucket.

Quick Start:
  assetmin build                  Render the configured pages, building bundles
  assetmin watch                  Rebuild whenever a source changes
  assetmin serve                  Development server with live reload
  assetmin fingerprint a.js b.js  Show the bundle a file set maps to`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .assetmin.yml, can also use ASSETMIN_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	bindFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	bindFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func bindFlag(key string, flag *pflag.Flag) {
	flagBindings[key] = flag
}

// initConfig resets the global configuration and loads it from the config
// file, the environment and the bound flags.
func initConfig() {
	viper.Reset()
	config.SetDefaults(viper.GetViper())

	for key, flag := range flagBindings {
		_ = viper.BindPFlag(key, flag)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".assetmin")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the configuration file, when there is one, and returns
// the validated configuration. An explicitly named file must exist.
func loadConfig() (*config.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger creates the logger configured by cfg, writing to the command's
// error stream.
func newLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	}), nil
}
