package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/server"
	"github.com/hyperjump/nestelia/internal/watcher"
)

// lifecycleHooks logs lifecycle transitions the way a page would surface them to users.
func lifecycleHooks(logger *zap.Logger) offline.Hooks {
	return offline.Hooks{
		OnSuccess: func(reg offline.Registration) {
			logger.Info("Content is cached for offline use", zap.String("version", reg.Active))
		},
		OnUpdate: func(reg offline.Registration) {
			if reg.State == offline.StateWaiting {
				logger.Info("New content is available; run 'nestelia activate' to switch",
					zap.String("active", reg.Active),
					zap.String("waiting", reg.Waiting))
				return
			}
			logger.Info("New content activated", zap.String("version", reg.Active))
		},
		OnOnline: func() {
			logger.Info("Origin reachable again")
		},
		OnOffline: func() {
			logger.Warn("Origin unreachable; serving from cache")
		},
	}
}

// reloadGeneration re-reads the config file and registers its cache version. Versions
// already active or waiting are left alone.
func reloadGeneration(ctx context.Context, manager *offline.Manager, path string, logger *zap.Logger) (offline.Registration, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return manager.Registration(), fmt.Errorf("reload config: %w", err)
	}
	logger.Debug("config reloaded", zap.String("path", path), zap.String("version", cfg.Cache.Version))
	return manager.Register(ctx, cfg.Cache.Version)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (cache hits, revalidations, config reloads)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := newLogger(cfg, debugMode)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("backend", cfg.Cache.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, debugMode, lifecycleHooks(logger))
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	manager := components.Manager
	if _, err := manager.Register(ctx, cfg.Cache.Version); err != nil {
		// Registration is retried when the monitor sees the origin come back.
		logger.Warn("Cache registration failed; proxying uncontrolled", zap.Error(err))
	}

	monitor := offline.NewMonitor(manager, cfg.Connectivity.ProbePath, cfg.Connectivity.Interval,
		offline.WithMonitorLogger(logger))
	go monitor.Run(ctx)

	if resolvedConfigPath != "" {
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc, err := watcher.NewWatcher([]string{resolvedConfigPath}, func(path string) {
			reg, err := reloadGeneration(ctx, manager, path, logger)
			if err != nil {
				logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("registration after config reload",
				zap.String("state", string(reg.State)),
				zap.String("active", reg.Active),
				zap.String("waiting", reg.Waiting))
		}, watchOpts...)
		if err != nil {
			logger.Fatal("Failed to create config watcher", zap.Error(err))
		}
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start config watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(manager, components.KeywordIndex, components.Trigger, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}
