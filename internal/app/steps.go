package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/supervisor"
	"github.com/vk/strapgo/internal/watcher"
)

// routerFileName is the router file looked up under the "route" path entry.
const routerFileName = "routes.hcl"

// registerDefaultSteps installs the standard boot sequence. Modules may
// reorder or extend it before Run consumes the list.
func (app *App) registerDefaultSteps() {
	app.pipeline.Register("environment", app.stepEnvironment)
	app.pipeline.Register("hooks:before", app.stepBeforeHooks)
	app.pipeline.Register("spawner", app.stepSpawner)
	app.pipeline.Register("units", app.stepLoadUnits)
	app.pipeline.Register("routes", app.stepLoadRoutes)
	app.pipeline.Register("hooks:after", app.stepAfterHooks)
	app.pipeline.Register("watcher", app.stepWatcher)
	app.pipeline.Register("serve", app.stepServe)
}

// stepEnvironment populates the path registry: built-in roots first, then
// any configured overrides.
func (app *App) stepEnvironment(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	root := app.config.App.Root

	app.paths.Register("model", filepath.Join(root, "app", "models"), "*.hcl")
	app.paths.Register("controller", filepath.Join(root, "app", "controllers"), "*.hcl")
	app.paths.Register("lib", filepath.Join(root, "lib"), "*.hcl")
	app.paths.Register("config", filepath.Join(root, "config"), "")
	app.paths.Register("route", filepath.Join(root, "config"), "")

	for _, p := range app.config.Paths {
		app.paths.Register(p.Name, filepath.Join(root, p.Root), p.Glob)
	}

	logger.Debug("Load roots registered.", "names", app.paths.Names())
	return nil
}

func (app *App) stepBeforeHooks(ctx context.Context) error {
	for _, fn := range app.host.BeforeLoadCallbacks() {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stepSpawner is the process-isolation boundary. In the master role it
// hands the process over to the supervisor and never returns (the monitor
// loop ends in a process exit); the worker installs its signal handling and
// continues with the remaining boot steps.
func (app *App) stepSpawner(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if !app.config.Server.Isolation {
		logger.Debug("Process isolation disabled; continuing in a single process.")
		app.worker.InstallSignals(ctx)
		return nil
	}

	if supervisor.CurrentRole() == supervisor.RoleMaster {
		if app.config.Server.Daemonize {
			if _, err := supervisor.Daemonize(ctx, os.Exit); err != nil {
				return err
			}
		}
		master := supervisor.NewMaster(app.config, app.hooks)
		return master.Run(ctx)
	}

	app.worker.InstallSignals(ctx)
	if supervisor.CurrentRole() == supervisor.RoleWorker {
		// In-place unload is unsafe across the process boundary: a changed
		// unit file retires this worker with the reload status instead, and
		// the master spawns a fresh one.
		app.loader.SetRespawn(func() {
			app.worker.Reap(ctx, supervisor.ReloadStatus)
		})
	}
	return nil
}

// stepLoadUnits discovers every auto-load file through the path registry,
// loads them, and resolves the deferred queue to a fixed point.
func (app *App) stepLoadUnits(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	files, err := app.paths.AllFiles()
	if err != nil {
		return err
	}
	if app.config.App.File != "" {
		flat := filepath.Join(app.config.App.Root, app.config.App.File)
		if _, err := os.Stat(flat); err == nil {
			files = append(files, flat)
		}
	}

	if err := app.loader.LoadPaths(ctx, files...); err != nil {
		return err
	}
	if err := app.loader.ResolvePending(ctx); err != nil {
		return err
	}

	logger.Info("Unit files loaded.", "files", app.loader.LoadedFiles(), "symbols", app.symbols.Count())
	return nil
}

func (app *App) stepLoadRoutes(ctx context.Context) error {
	entry, ok := app.paths.Lookup("route")
	if !ok {
		return nil
	}
	return app.routeTable.LoadFile(ctx, entry.Join(routerFileName), app.symbols)
}

func (app *App) stepAfterHooks(ctx context.Context) error {
	for _, fn := range app.host.AfterLoadCallbacks() {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stepWatcher starts the change watcher in whichever process owns unit
// loading (the master never reaches this step under isolation).
func (app *App) stepWatcher(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if !app.config.Reload.Enabled {
		logger.Debug("Reload-on-change disabled; watcher not started.")
		return nil
	}

	appFile := ""
	if app.config.App.File != "" {
		appFile = filepath.Join(app.config.App.Root, app.config.App.File)
	}
	watcher.New(app.paths, app.loader, app.config.Reload.Interval, appFile).Start(ctx)
	return nil
}

// stepServe starts the cluster sub-workers and the status endpoint, then
// blocks for the life of the process. With no status port configured the
// step returns immediately (test harnesses rely on this).
func (app *App) stepServe(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if app.config.Server.Workers > 1 && supervisor.CurrentRole() == supervisor.RoleWorker {
		if err := app.worker.StartCluster(ctx, app.config.Server.Workers); err != nil {
			return err
		}
	}

	if app.config.Server.StatusPort <= 0 {
		logger.Debug("Status server not started: disabled.")
		return nil
	}

	app.statusServer(ctx)
	<-ctx.Done()
	return app.closeStatusServer()
}
