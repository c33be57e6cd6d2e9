package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclConfigFile mirrors the server configuration file:
//
//	log {
//	  level  = "debug"
//	  format = "text"
//	}
//
//	server {
//	  isolation   = true
//	  workers     = 4
//	  status_port = 7000
//	}
//
//	reload {
//	  enabled     = true
//	  interval_ms = 500
//	}
//
//	app {
//	  root = "."
//	}
//
//	path "model" {
//	  root = "app/models"
//	  glob = "*.hcl"
//	}
//
// Every block and attribute is optional; omitted values keep their
// defaults.
type hclConfigFile struct {
	Log    *hclLog    `hcl:"log,block"`
	Server *hclServer `hcl:"server,block"`
	Reload *hclReload `hcl:"reload,block"`
	App    *hclApp    `hcl:"app,block"`
	Paths  []*hclPath `hcl:"path,block"`
}

type hclLog struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

type hclServer struct {
	Isolation   *bool   `hcl:"isolation,optional"`
	Daemonize   *bool   `hcl:"daemonize,optional"`
	Workers     *int    `hcl:"workers,optional"`
	ReapQuickly *bool   `hcl:"reap_quickly,optional"`
	AbortSignal *string `hcl:"abort_signal,optional"`
	PidFile     *string `hcl:"pid_file,optional"`
	StatusPort  *int    `hcl:"status_port,optional"`
}

type hclReload struct {
	Enabled    *bool   `hcl:"enabled,optional"`
	IntervalMs *int    `hcl:"interval_ms,optional"`
	Protected  *string `hcl:"protected,optional"`
}

type hclApp struct {
	Root *string `hcl:"root,optional"`
	File *string `hcl:"file,optional"`
}

type hclPath struct {
	Name string  `hcl:"name,label"`
	Root string  `hcl:"root"`
	Glob *string `hcl:"glob,optional"`
}

// Load reads an HCL configuration file and merges it over the defaults.
// A missing file is not an error: the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	hclFile, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}
	var parsed hclConfigFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	parsed.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (f *hclConfigFile) apply(cfg *Config) {
	if f.Log != nil {
		setString(&cfg.Log.Level, f.Log.Level)
		setString(&cfg.Log.Format, f.Log.Format)
	}
	if f.Server != nil {
		setBool(&cfg.Server.Isolation, f.Server.Isolation)
		setBool(&cfg.Server.Daemonize, f.Server.Daemonize)
		setInt(&cfg.Server.Workers, f.Server.Workers)
		setBool(&cfg.Server.ReapQuickly, f.Server.ReapQuickly)
		setString(&cfg.Server.AbortSignal, f.Server.AbortSignal)
		setString(&cfg.Server.PidFile, f.Server.PidFile)
		setInt(&cfg.Server.StatusPort, f.Server.StatusPort)
	}
	if f.Reload != nil {
		setBool(&cfg.Reload.Enabled, f.Reload.Enabled)
		if f.Reload.IntervalMs != nil {
			cfg.Reload.Interval = time.Duration(*f.Reload.IntervalMs) * time.Millisecond
		}
		setString(&cfg.Reload.Protected, f.Reload.Protected)
	}
	if f.App != nil {
		setString(&cfg.App.Root, f.App.Root)
		setString(&cfg.App.File, f.App.File)
	}
	for _, p := range f.Paths {
		glob := ""
		if p.Glob != nil {
			glob = *p.Glob
		}
		cfg.Paths = append(cfg.Paths, Path{Name: p.Name, Root: p.Root, Glob: glob})
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
