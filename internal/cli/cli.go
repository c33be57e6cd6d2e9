package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/strapgo/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It loads the configuration file
// first, then lets explicitly set flags override it. It returns the merged
// configuration, a boolean indicating if the program should exit cleanly,
// or an ExitError.
func Parse(args []string, output io.Writer) (*config.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("strapgo", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
strapgo - An application server runtime with live reload and process supervision.

Usage:
  strapgo [options] [APP_ROOT]

Arguments:
  APP_ROOT
    Path to the application root directory. Defaults to the current directory.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to the server configuration file.")
	rootFlag := flagSet.String("root", "", "Path to the application root directory.")
	appFileFlag := flagSet.String("app-file", "", "Single-file application manifest, relative to the root.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 1, "Number of worker processes.")
	isolationFlag := flagSet.Bool("isolation", false, "Run the application in a supervised worker process.")
	daemonizeFlag := flagSet.Bool("daemonize", false, "Detach the master process from the terminal.")
	noReloadFlag := flagSet.Bool("no-reload", false, "Disable reload-on-change watching.")
	pidFileFlag := flagSet.String("pid-file", "", "Where the master process writes its pid.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	root := *rootFlag
	if root == "" && flagSet.NArg() > 0 {
		root = flagSet.Arg(0)
	}
	if root != "" {
		cfg.App.Root = root
	}
	slog.Debug("Application root determined.", "root", cfg.App.Root)

	// Only explicitly set flags override the configuration file.
	set := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["log-format"] {
		logFormat := strings.ToLower(*logFormatFlag)
		if logFormat != "text" && logFormat != "json" {
			return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
		}
		cfg.Log.Format = logFormat
	}
	if set["log-level"] {
		logLevel := strings.ToLower(*logLevelFlag)
		switch logLevel {
		case "debug", "info", "warn", "error":
			// valid
		default:
			return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
		}
		cfg.Log.Level = logLevel
	}
	if set["app-file"] {
		cfg.App.File = *appFileFlag
	}
	if set["status-port"] {
		cfg.Server.StatusPort = *statusPortFlag
	}
	if set["workers"] {
		cfg.Server.Workers = *workersFlag
	}
	if set["isolation"] {
		cfg.Server.Isolation = *isolationFlag
	}
	if set["daemonize"] {
		cfg.Server.Daemonize = *daemonizeFlag
	}
	if set["no-reload"] {
		cfg.Reload.Enabled = !*noReloadFlag
	}
	if set["pid-file"] {
		cfg.Server.PidFile = *pidFileFlag
	}
	slog.Debug("CLI parameter validation complete.")

	if err := cfg.Validate(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return cfg, false, nil
}
