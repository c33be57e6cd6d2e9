package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/strapgo/internal/ctxlog"
	"github.com/vk/strapgo/internal/supervisor"
)

// statusHandler reports liveness.
func (app *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Status endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// inspectHandler reports the loaded state of this worker: role, unit files,
// defined symbols and routes.
func (app *App) inspectHandler(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Inspect endpoint hit.", "remote_addr", r.RemoteAddr)

	doc := map[string]any{
		"role":    string(supervisor.CurrentRole()),
		"steps":   app.pipeline.Completed(),
		"files":   app.loader.LoadedFiles(),
		"symbols": app.symbols.Names(),
		"routes":  app.routeTable.Paths(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		logger.Error("Failed to encode inspect response.", "error", err)
	}
}

// statusServer initializes and runs the status HTTP server.
func (app *App) statusServer(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Configuring status server.")

	mux := http.NewServeMux()
	mux.HandleFunc("/status", app.statusHandler)
	mux.HandleFunc("/status/inspect", app.inspectHandler)

	addr := fmt.Sprintf(":%d", app.config.Server.StatusPort)

	app.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Run the server in a goroutine so it doesn't block.
	go func() {
		logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		// ListenAndServe returns ErrServerClosed on graceful shutdown; only
		// anything else is a real failure.
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
}

func (app *App) closeStatusServer() error {
	logger := ctxlog.FromContext(app.ctx)
	logger.Debug("Closing status server...")

	if app.httpServer == nil {
		logger.Debug("Status server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down status server...")
	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Status server shutdown failed", "error", err)
		return err
	}

	logger.Debug("Status server shut down gracefully.")
	return nil
}
