// Package main runs the local Creel server: the offline-first catch log
// with its mutation queue, sync engine and REST/WebSocket surface on
// localhost.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creelapp/creel/internal/config"
	"github.com/creelapp/creel/internal/connectivity"
	"github.com/creelapp/creel/internal/db"
	"github.com/creelapp/creel/internal/export"
	"github.com/creelapp/creel/internal/httpapi"
	"github.com/creelapp/creel/internal/logging"
	"github.com/creelapp/creel/internal/media"
	"github.com/creelapp/creel/internal/queue"
	syncpkg "github.com/creelapp/creel/internal/sync"
	"github.com/creelapp/creel/internal/sync/scheduler"
	"github.com/creelapp/creel/internal/ws"
)

func main() {
	configPath := flag.String("config", "creel.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init(os.Stderr, logging.LevelError)
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logging.Level(cfg.LogLevel))
	logging.Info("Creel server starting", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"listen":   cfg.ListenAddr,
	})

	if err := run(cfg); err != nil {
		logging.Error("Server exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	hub := ws.NewHub()

	store, err := queue.NewStore(database.DB)
	if err != nil {
		return err
	}
	queueSvc := queue.NewService(store, cfg.QueueCapacity, cfg.QueueWarnAt, cfg.MaxRetries, hub)

	// Items stranded mid-sync by the last shutdown go back to pending
	// before anything can drain.
	if _, err := queueSvc.Recover(ctx); err != nil {
		return err
	}

	connSignal := connectivity.NewSignal()
	connSignal.Subscribe(hub.ConnectivityChanged)

	watcher := connectivity.NewWatcher(connSignal, cfg.ProbeURL, cfg.ProbeInterval)
	watcher.Start(ctx)

	engine := syncpkg.NewEngine(queueSvc, repo, connSignal, cfg.DrainTimeout, hub)
	engine.Start(ctx)
	defer engine.Stop()

	sched := scheduler.New(engine, connSignal, cfg.SyncInterval)
	sched.Start(ctx)
	defer sched.Stop()

	photos, err := media.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	exportSvc := export.NewService(repo, queueSvc, cfg.DataDir, hub)

	api := httpapi.New(repo, queueSvc, engine, connSignal, photos, exportSvc, hub)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("HTTP server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
