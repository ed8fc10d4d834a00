package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thraizz/advancement-server-go/internal/config"
	"github.com/thraizz/advancement-server-go/internal/game/advancement"
	"github.com/thraizz/advancement-server-go/internal/game/manager"
	"github.com/thraizz/advancement-server-go/internal/server"
	"github.com/thraizz/advancement-server-go/internal/store"
)

var (
	configPath  = flag.String("config", "config/config.yaml", "path to configuration file")
	catalogPath = flag.String("catalog", "", "path to a JSON item catalog used by granting advancements")
	version     = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting advancement server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	characters, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open character store", zap.Error(err))
	}
	defer characters.Close()
	logger.Info("character store initialized", zap.String("driver", cfg.Database.Driver))

	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		logger.Fatal("failed to load item catalog", zap.Error(err))
	}
	registry := advancement.DefaultRegistry(catalog)
	logger.Info("advancement types registered",
		zap.Strings("types", registry.Names()),
		zap.Int("catalog_items", len(catalog)),
	)

	opts := []manager.Option{manager.WithMaxLevel(cfg.Advancement.MaxLevel)}
	if cfg.Advancement.JournalDir != "" {
		opts = append(opts, manager.WithJournalDir(cfg.Advancement.JournalDir))
	}
	sessionMgr := manager.NewManager(characters, registry, logger, opts...)
	logger.Info("session manager initialized",
		zap.Int("max_level", cfg.Advancement.MaxLevel),
		zap.String("journal_dir", cfg.Advancement.JournalDir),
	)

	wsDone := make(chan error, 1)
	go func() {
		wsDone <- server.StartWebSocketServer(ctx, cfg.Server.WebSocket, sessionMgr, logger)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		logger.Info("shutting down gracefully...")
		cancel()
		if err := <-wsDone; err != nil {
			logger.Error("WebSocket shutdown error", zap.Error(err))
		}
	case err := <-wsDone:
		if err != nil {
			logger.Error("WebSocket server error", zap.Error(err))
		}
	}

	sessionMgr.CloseAll()

	logger.Info("advancement server stopped")
}

// loadCatalog reads a JSON object of catalog key to item template. An empty path
// gives an empty catalog.
func loadCatalog(path string) (advancement.MapCatalog, error) {
	catalog := advancement.MapCatalog{}
	if path == "" {
		return catalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return catalog, nil
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
