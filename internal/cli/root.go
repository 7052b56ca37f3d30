// Package cli implements the command-line interface for kvblob.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kilupskalvis/kvblob/internal/config"
	"github.com/kilupskalvis/kvblob/internal/logger"
)

// configKeyAnnotation marks a flag that overrides a config key.
const configKeyAnnotation = "kvblob_config_key"

// skipConfigAnnotation marks commands that run without loading config.
const skipConfigAnnotation = "kvblob_skip_config"

var (
	cfgFile string

	// cfg is the effective configuration, loaded before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kvblob",
	Short: "Content-addressed blob storage",
	Long: `kvblob stores opaque blobs under bucket/key names. Every upload carries
its SHA-256, which is verified before anything is written. Blobs are kept in
a sharded directory tree and their metadata in an embedded key-value store.

Configuration is read from kvblob.toml (or --config), then KVBLOB_* environment
variables, then command-line flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command and reports any error on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json|console)")
	bindConfigFlag(rootCmd.PersistentFlags(), "log-level", "log.level")
	bindConfigFlag(rootCmd.PersistentFlags(), "log-format", "log.format")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(bucketCmd)
	rootCmd.AddCommand(objectCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(configCmd)
}

// bindConfigFlag ties a flag to a dotted config key.
func bindConfigFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// setup loads the configuration, configures logging and starts sentry.
func setup(cmd *cobra.Command, _ []string) error {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] != "" {
			return nil
		}
	}

	v := config.NewViper()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[configKeyAnnotation]; len(keys) > 0 && bindErr == nil {
			bindErr = v.BindPFlag(keys[0], f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	path, explicit := cfgFile, cfgFile != ""
	if !explicit {
		path = config.DefaultFile
	}
	loaded, err := config.Load(v, path, explicit)
	if err != nil {
		return err
	}
	cfg = loaded

	logger.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return initSentry(cfg.Sentry)
}

func initSentry(sc config.SentryConfig) error {
	if sc.DSN == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sc.DSN,
		Environment:      sc.Environment,
		Release:          "kvblob@" + Version,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	return nil
}

// FlushSentry delivers buffered events before the process exits.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
