package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/OrlandoBitencourt/flagsync"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree. Every setting can come from a flag,
// a FLAGSYNC_* environment variable or the --config file, in that order.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "flagsync",
		Short:         "Download, inspect and evaluate feature flag configs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read %s: %w", cfgFile, err)
			}
			return nil
		},
	}

	defaults := flagsync.DefaultConfig()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.String("api-key", "", "API key of the config to download")
	pf.String("base-url", defaults.BaseURL, "base URL of the config CDN")
	pf.String("file", "", "read the config from a local JSON or YAML file instead of the CDN")
	pf.Duration("timeout", defaults.HTTPTimeout, "HTTP timeout for downloads")
	pf.String("redis-url", "", "share the config through redis, e.g. redis://localhost:6379/0")
	pf.String("cache-dir", "", "keep the config in this directory between runs")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")

	bindFlags(v, pf, "api-key", "base-url", "file", "timeout", "redis-url", "cache-dir", "log-level")

	v.SetEnvPrefix("FLAGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(newEvalCmd(v), newDumpCmd(v), newServeCmd(v))
	return rootCmd
}

// bindFlags binds each flag to a viper key of the same name with
// dashes turned into underscores
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}
}

// clientConfig maps the settings onto a client Config
func clientConfig(v *viper.Viper, mode string) flagsync.Config {
	cfg := flagsync.DefaultConfig()
	cfg.APIKey = v.GetString("api_key")
	cfg.BaseURL = v.GetString("base_url")
	cfg.ConfigFile = v.GetString("file")
	cfg.HTTPTimeout = v.GetDuration("timeout")
	cfg.RedisURL = v.GetString("redis_url")
	cfg.DiskCacheDir = v.GetString("cache_dir")
	cfg.Mode = mode
	return cfg
}

// newLogger creates a text logger writing to out
func newLogger(v *viper.Viper, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

// newClient creates a client from the settings
func newClient(cmd *cobra.Command, v *viper.Viper, mode string, opts ...flagsync.Option) (*flagsync.Client, error) {
	logger, err := newLogger(v, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	cfg := clientConfig(v, mode)
	if cfg.APIKey == "" && cfg.ConfigFile != "" {
		// the key only names the cache entry for local files
		cfg.APIKey = cfg.ConfigFile
	}

	return flagsync.NewFromConfig(cfg, append([]flagsync.Option{flagsync.WithLogger(logger)}, opts...)...)
}
