// Package config handles configuration loading and validation for scriptor.
//
// Configuration is read from TOML, JSON or YAML (chosen by file extension),
// layered over DefaultConfig and then over SCRIPTOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Version is the current configuration format version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCRIPTOR_"

// Config represents the scriptor configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Engine  EngineConfig  `toml:"engine" json:"engine" yaml:"engine" envPrefix:"ENGINE_"`
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture" envPrefix:"CAPTURE_"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging" envPrefix:"LOG_"`
	IPC     IPCConfig     `toml:"ipc" json:"ipc" yaml:"ipc" envPrefix:"IPC_"`
	Store   StoreConfig   `toml:"store" json:"store" yaml:"store" envPrefix:"STORE_"`
	Notify  NotifyConfig  `toml:"notify" json:"notify" yaml:"notify" envPrefix:"NOTIFY_"`
}

// EngineConfig holds the playback settings applied at startup and on reload.
type EngineConfig struct {
	// InfiniteLoop repeats playback until halted.
	InfiniteLoop bool `toml:"infinite_loop" json:"infinite_loop" yaml:"infinite_loop" env:"INFINITE_LOOP"`

	// NaturalDelay reproduces recorded timing; otherwise FastDelayUS is used
	// between events.
	NaturalDelay bool `toml:"natural_delay" json:"natural_delay" yaml:"natural_delay" env:"NATURAL_DELAY"`

	// LoopCount is the number of passes when InfiniteLoop is off.
	LoopCount int `toml:"loop_count" json:"loop_count" yaml:"loop_count" env:"LOOP_COUNT"`

	// FastDelayUS is the pause between events in microseconds when
	// NaturalDelay is off.
	FastDelayUS int `toml:"fast_delay_us" json:"fast_delay_us" yaml:"fast_delay_us" env:"FAST_DELAY_US"`
}

// FastDelay returns FastDelayUS as a duration.
func (e EngineConfig) FastDelay() time.Duration {
	return time.Duration(e.FastDelayUS) * time.Microsecond
}

// CaptureConfig selects the input backend.
type CaptureConfig struct {
	// Backend is "auto", "evdev" or "none".
	Backend string `toml:"backend" json:"backend" yaml:"backend" env:"BACKEND"`

	// Devices restricts capture to these device nodes. Empty means all
	// keyboards and mice.
	Devices []string `toml:"devices,omitempty" json:"devices,omitempty" yaml:"devices,omitempty" env:"DEVICES" envSeparator:","`

	// ScreenWidth and ScreenHeight bound pointer coordinates.
	ScreenWidth  int `toml:"screen_width" json:"screen_width" yaml:"screen_width" env:"SCREEN_WIDTH"`
	ScreenHeight int `toml:"screen_height" json:"screen_height" yaml:"screen_height" env:"SCREEN_HEIGHT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level" json:"level" yaml:"level" env:"LEVEL"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output" env:"OUTPUT"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path" env:"PATH"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups" env:"MAX_BACKUPS"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress" env:"COMPRESS"`
}

// IPCConfig holds the control socket configuration.
type IPCConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path" env:"SOCKET_PATH"`

	// Permissions is the socket mode in octal, e.g. "0600".
	Permissions    string `toml:"permissions" json:"permissions" yaml:"permissions" env:"PERMISSIONS"`
	MaxConnections int    `toml:"max_connections" json:"max_connections" yaml:"max_connections" env:"MAX_CONNECTIONS"`
	TimeoutSec     int    `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec" env:"TIMEOUT_SEC"`
}

// StoreConfig holds the history database configuration.
type StoreConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	Path          string `toml:"path" json:"path" yaml:"path" env:"PATH"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`
}

// NotifyConfig holds user notification settings.
type NotifyConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`

	// Desktop sends notifications to the desktop notification service when
	// one is reachable; otherwise they are only logged.
	Desktop   bool `toml:"desktop" json:"desktop" yaml:"desktop" env:"DESKTOP"`
	QueueSize int  `toml:"queue_size" json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
	ExpireMs  int  `toml:"expire_ms" json:"expire_ms" yaml:"expire_ms" env:"EXPIRE_MS"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := ScriptorDir()
	return &Config{
		Version: Version,
		Engine: EngineConfig{
			InfiniteLoop: true,
			NaturalDelay: true,
			LoopCount:    1,
			FastDelayUS:  50,
		},
		Capture: CaptureConfig{
			Backend:      "auto",
			ScreenWidth:  1920,
			ScreenHeight: 1080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "scriptor.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 8,
			TimeoutSec:     5,
		},
		Store: StoreConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "history.db"),
			BusyTimeoutMs: 5000,
		},
		Notify: NotifyConfig{
			Enabled:   true,
			Desktop:   true,
			QueueSize: 32,
			ExpireMs:  2000,
		},
	}
}

// ScriptorDir returns the base data directory, honoring SCRIPTOR_DATA_DIR.
func ScriptorDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	return PlatformDataDir()
}

// ConfigPath returns the configuration file to use: SCRIPTOR_CONFIG if set,
// else an existing config file in the config directory, else config.toml
// there.
func ConfigPath() string {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// ApplyEnvOverrides overlays SCRIPTOR_* environment variables, for example
// SCRIPTOR_ENGINE_LOOP_COUNT or SCRIPTOR_IPC_SOCKET_PATH.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Capture.Devices = append([]string(nil), c.Capture.Devices...)
	return &clone
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.IPC.SocketPath)}
	if c.Store.Enabled {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func defaultSocketPath() string {
	if dir := PlatformRuntimeDir(); dir != "" {
		return filepath.Join(dir, "scriptor.sock")
	}
	return filepath.Join(os.TempDir(), "scriptor.sock")
}
