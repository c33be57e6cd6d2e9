package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/vk/strapgo/internal/config"
	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/hooks"
	"github.com/vk/strapgo/internal/loader"
	"github.com/vk/strapgo/internal/paths"
	"github.com/vk/strapgo/internal/pipeline"
	"github.com/vk/strapgo/internal/registry"
	"github.com/vk/strapgo/internal/routes"
	"github.com/vk/strapgo/internal/supervisor"
	"github.com/vk/strapgo/internal/symbol"
)

// App encapsulates one application instance: its configuration, logger,
// registries and the boot pipeline that drives them.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context
	config *config.Config

	paths      *paths.Registry
	symbols    *symbol.Registry
	routeTable *routes.Table
	pipeline   *pipeline.Pipeline
	loader     *loader.Loader
	hooks      *hooks.Registry
	worker     *supervisor.Worker
	host       *registry.Host

	httpServer *http.Server
}

// NewApp constructs a fully initialized App, including its own isolated
// logger, and registers the default boot steps followed by every module.
// Critical configuration errors panic; the entrypoint recovers them into a
// clean exit message.
func NewApp(ctx context.Context, outW io.Writer, cfg *config.Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("invalid configuration: %w", err))
	}
	protected, err := regexp.Compile(cfg.Reload.Protected)
	if err != nil {
		panic(fmt.Errorf("invalid protected symbol pattern %q: %w", cfg.Reload.Protected, err))
	}

	app := &App{
		outW:       outW,
		logger:     logger,
		ctx:        ctx,
		config:     cfg,
		paths:      paths.New(),
		symbols:    symbol.New(protected),
		routeTable: routes.NewTable(),
		pipeline:   pipeline.New(),
		hooks:      hooks.New(),
	}
	app.loader = loader.New(app.symbols, cfg.Reload.Enabled)
	app.worker = supervisor.NewWorker(cfg, app.hooks)
	app.worker.SetDumpHandler(app.dumpConfig)
	app.host = registry.NewHost(cfg.App.Root, app.paths, app.pipeline, app.hooks, app.routeTable, app.symbols)

	if len(modules) == 0 {
		modules = coreModules
	}

	app.registerDefaultSteps()
	for _, mod := range modules {
		mod.Register(app.host)
	}
	logger.Debug("All modules registered.", "count", len(modules))

	return app
}

// Run executes the boot pipeline to completion.
func (app *App) Run() error {
	app.logger.Debug("Boot pipeline starting.", "steps", app.pipeline.Pending())
	if err := app.pipeline.RunAll(app.ctx); err != nil {
		return err
	}
	app.logger.Debug("Boot pipeline finished.")
	return nil
}

// Host returns the module registration surface. Tests use it to install
// callbacks the same way a compiled-in module would.
func (app *App) Host() *registry.Host {
	return app.host
}

// Paths returns the path registry so collaborators can add load roots.
func (app *App) Paths() *paths.Registry {
	return app.paths
}

// Pipeline returns the boot pipeline so collaborators can reorder steps.
func (app *App) Pipeline() *pipeline.Pipeline {
	return app.pipeline
}

// Symbols returns the symbol registry. This is primarily for testing.
func (app *App) Symbols() *symbol.Registry {
	return app.symbols
}

// Routes returns the route table.
func (app *App) Routes() *routes.Table {
	return app.routeTable
}

// Loader returns the unit loader. This is primarily for testing.
func (app *App) Loader() *loader.Loader {
	return app.loader
}

// Config returns the active configuration.
func (app *App) Config() *config.Config {
	return app.config
}

// dumpConfig renders the active configuration to the log in response to the
// diagnostic signal.
func (app *App) dumpConfig(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	doc, err := app.config.Dump()
	if err != nil {
		logger.Error("Failed to dump configuration.", "error", err)
		return
	}
	logger.Info("Active configuration.", "config", doc)
}
