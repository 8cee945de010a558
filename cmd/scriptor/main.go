// scriptor records keyboard and mouse input and replays it.
//
// Recording and playback are driven by global shortcuts while the daemon
// runs: ',' starts recording, '.' stops it and '/' starts or halts
// playback. scriptorctl controls the same daemon over its socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scriptor/internal/config"
	"scriptor/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "scriptor",
	Short:         "Record and replay keyboard and mouse input",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: platform config dir)")
	rootCmd.AddCommand(daemonCmd, playCmd, infoCmd, historyCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolvedConfigPath returns --config or the platform default.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     lc.Output,
		FilePath:   lc.FilePath,
		MaxSizeMB:  int64(lc.MaxSizeMB),
		MaxBackups: lc.MaxBackups,
		Compress:   lc.Compress,
		Component:  "scriptor",
	})
}
