// Package config defines the server configuration model and its HCL
// loading. The boot core treats these values as read-only inputs: parsing
// happens once in the front-end (CLI), and the resulting Config is handed
// to the App.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	Log    Log    `json:"log"`
	Server Server `json:"server"`
	Reload Reload `json:"reload"`
	App    App    `json:"app"`
	Paths  []Path `json:"paths,omitempty"`
}

// Log configures the logger built for the App.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Server configures process supervision.
type Server struct {
	// Isolation enables the master/worker split: the master only
	// supervises, the worker loads units and serves.
	Isolation bool `json:"isolation"`
	// Daemonize detaches the master from the controlling terminal.
	Daemonize bool `json:"daemonize"`
	// Workers is the number of serve sub-processes spawned by the worker.
	Workers int `json:"workers"`
	// ReapQuickly skips waiting for sub-worker signal delivery on teardown.
	ReapQuickly bool `json:"reap_quickly"`
	// AbortSignal names the signal that forces an immediate worker reap.
	AbortSignal string `json:"abort_signal"`
	PidFile     string `json:"pid_file"`
	StatusPort  int    `json:"status_port"`
}

// Reload configures the live unit-reload mechanism.
type Reload struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
	// Protected is a regular expression; symbol names matching it survive
	// unloads (route-referenced controllers by default).
	Protected string `json:"protected"`
}

// App locates the application sources.
type App struct {
	Root string `json:"root"`
	// File is the optional flat-layout application file loaded and watched
	// in addition to the registered path globs.
	File string `json:"file,omitempty"`
}

// Path is one configured load root; it overrides or extends the defaults.
type Path struct {
	Name string `json:"name"`
	Root string `json:"root"`
	Glob string `json:"glob,omitempty"`
}

// Default returns the configuration used when no file and no flags say
// otherwise.
func Default() *Config {
	return &Config{
		Log:    Log{Level: "info", Format: "json"},
		Server: Server{Workers: 1, AbortSignal: "TERM", PidFile: "tmp/strapgo.pid"},
		Reload: Reload{Enabled: true, Interval: 500 * time.Millisecond, Protected: "Controller$"},
		App:    App{Root: "."},
	}
}

// Validate checks value ranges shared by file- and flag-sourced configs.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.Log.Format)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be at least 1, got %d", c.Server.Workers)
	}
	if c.Reload.Interval <= 0 {
		return fmt.Errorf("reload.interval must be positive, got %s", c.Reload.Interval)
	}
	return nil
}

// Dump renders the active configuration as an indented JSON document. The
// worker logs this when it receives the diagnostic signal.
func (c *Config) Dump() (string, error) {
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to render configuration: %w", err)
	}
	return string(out), nil
}
