package main

import (
	"flag"
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aegisshield/discovery-console/internal/config"
	"github.com/aegisshield/discovery-console/internal/server"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "config/config.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	if showVersion {
		logger.Info("Discovery Console",
			zap.String("version", Version),
			zap.String("git_commit", GitCommit),
			zap.String("build_time", BuildTime))
		return
	}

	logger.Info("Starting Discovery Console",
		zap.String("config_path", configPath),
		zap.String("version", Version),
		zap.String("environment", cfg.Environment),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("kafka_enabled", cfg.Kafka.Enabled))

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// initLogger initializes the application logger
func initLogger(cfg *config.Config) *zap.Logger {
	var zc zap.Config
	if cfg.Environment == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	if level, err := zapcore.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if cfg.Logging.Format == "console" || cfg.Logging.Format == "json" {
		zc.Encoding = cfg.Logging.Format
	}

	logger, err := zc.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}
