// Package config loads the TOML file that supplies the listen address,
// document root, dispatch queue backlog, and log destination.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk shape of the server's TOML config file. Zero
// values for the tuning fields mean "use the package default" — callers
// should go through WithDefaults rather than read these fields raw.
type Config struct {
	// Listen is the address Upgrader.Listen binds, e.g. ":8080".
	Listen string `toml:"listen"`
	// Root is the document root every request is resolved against.
	Root string `toml:"root"`

	// QueueBacklog sizes each of the three dispatch queues' work channels.
	QueueBacklog int `toml:"queue_backlog"`

	// LogFile, if set, routes logs through a rotating lumberjack sink
	// instead of stderr.
	LogFile    string `toml:"log_file"`
	LogMaxSize int    `toml:"log_max_size_mb"`
	LogMaxAge  int    `toml:"log_max_age_days"`
	LogBackups int    `toml:"log_backups"`
	// LogLevel is a zerolog level name: "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
}

const (
	defaultQueueBacklog = 64
	defaultLogMaxSize   = 100
	defaultLogMaxAge    = 7
	defaultLogBackups   = 5
	defaultLogLevel     = "info"
)

// Load decodes path as TOML into a Config. A missing or malformed file
// is reported as an error; the caller decides whether to fall back to
// Default().
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg.WithDefaults(), nil
}

// Default returns the configuration used when no config file path is
// given at all, for quick local runs.
func Default() Config {
	return Config{Listen: ":8080", Root: "."}.WithDefaults()
}

// WithDefaults fills zero-valued tuning fields, leaving anything the
// file (or a flag override) already set untouched.
func (c Config) WithDefaults() Config {
	if c.QueueBacklog == 0 {
		c.QueueBacklog = defaultQueueBacklog
	}
	if c.LogMaxSize == 0 {
		c.LogMaxSize = defaultLogMaxSize
	}
	if c.LogMaxAge == 0 {
		c.LogMaxAge = defaultLogMaxAge
	}
	if c.LogBackups == 0 {
		c.LogBackups = defaultLogBackups
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	return c
}

// Validate reports the problems that would make the server unable to
// start at all: these are checked eagerly in main so a typo in the
// config file fails fast instead of surfacing as a mysterious accept
// loop error.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Root == "" {
		return fmt.Errorf("config: document root is required")
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("config: document root %q: %w", c.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: document root %q is not a directory", c.Root)
	}
	return nil
}
