// Package server wires the console components together and runs the HTTP
// server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/actions"
	"github.com/aegisshield/discovery-console/internal/batch"
	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/client"
	"github.com/aegisshield/discovery-console/internal/config"
	"github.com/aegisshield/discovery-console/internal/deletion"
	"github.com/aegisshield/discovery-console/internal/events"
	"github.com/aegisshield/discovery-console/internal/handlers"
	"github.com/aegisshield/discovery-console/internal/metrics"
	"github.com/aegisshield/discovery-console/internal/realtime"
	"github.com/aegisshield/discovery-console/internal/upload"
)

const (
	snapshotTTL     = 24 * time.Hour
	redisPingTime   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Server owns every long-lived component of the console
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	redis     *redis.Client
	publisher events.Publisher

	Metrics  *metrics.Collector
	Backend  *client.Client
	Cache    *cache.Cache
	Hub      *realtime.Hub
	Batch    *batch.Coordinator
	Deletion *deletion.Orchestrator
	Uploads  *upload.Service
	Actions  *actions.Service
}

// NewServer creates all components from configuration. Nothing is started
// until Start is called.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.NewCollector(s.registry)

	if cfg.Cache.Backend == "redis" {
		rdb, err := newRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.redis = rdb
	}

	if cfg.Kafka.Enabled {
		s.publisher = events.NewKafkaPublisher(cfg.Kafka, s.Metrics, logger)
	} else {
		s.publisher = events.NewLogPublisher(logger)
	}

	s.Hub = realtime.NewHub(cfg.Server.WebSocket, s.redis, s.Metrics, logger)

	cacheOpts := []cache.Option{
		cache.WithStaleTime(cfg.Cache.StaleDuration()),
		cache.WithRefreshDebounce(cfg.Cache.DebounceDuration()),
		cache.WithServeStale(cfg.Cache.ServeStale),
		cache.WithMetrics(s.Metrics),
		cache.WithNotifier(s.Hub),
	}
	if s.redis != nil {
		cacheOpts = append(cacheOpts, cache.WithSnapshots(cache.NewSnapshotStore(s.redis, snapshotTTL, logger)))
	}

	s.Backend = client.New(cfg.Backend, logger, client.WithMetrics(s.Metrics))
	s.Cache = cache.New(logger, cacheOpts...)
	s.Batch = batch.NewCoordinator(s.Backend, s.Cache, logger,
		batch.WithPollInterval(cfg.Batch.PollDuration()),
		batch.WithNotifier(s.Hub),
		batch.WithPublisher(s.publisher),
		batch.WithMetrics(s.Metrics))
	s.Deletion = deletion.NewOrchestrator(s.Backend, s.Cache, logger,
		deletion.WithNotifier(s.Hub),
		deletion.WithPublisher(s.publisher),
		deletion.WithMetrics(s.Metrics))
	s.Uploads = upload.NewService(s.Backend, s.Cache, s.publisher, logger)
	s.Actions = actions.NewService(s.Backend, s.Cache, s.publisher, logger)

	return s, nil
}

func newRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTime)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}

// Router builds the gin engine serving the API
func (s *Server) Router() *gin.Engine {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	h := handlers.NewHandler(handlers.Deps{
		Config:   s.cfg,
		Backend:  s.Backend,
		Cache:    s.Cache,
		Batch:    s.Batch,
		Deletion: s.Deletion,
		Uploads:  s.Uploads,
		Actions:  s.Actions,
		Hub:      s.Hub,
		Metrics:  s.Metrics,
		Gatherer: s.registry,
		Logger:   s.logger,
	})
	h.RegisterRoutes(router)
	return router
}

// Start runs the hub and HTTP server until SIGINT or SIGTERM, then shuts
// down gracefully
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Hub.Run(ctx)
	}()

	if s.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Hub.SubscribeToRedis(ctx)
		}()
	}

	httpCfg := s.cfg.Server.HTTP
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", httpCfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(httpCfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(httpCfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(httpCfg.IdleTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.Int("port", httpCfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-serveErr:
		s.logger.Error("HTTP server failed", zap.Error(runErr))
	}

	s.logger.Info("Shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	cancel()
	wg.Wait()
	s.Close()

	s.logger.Info("Shutdown complete")
	return runErr
}

// Close stops background work and releases connections
func (s *Server) Close() {
	s.Batch.Close()
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("Failed to close event publisher", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}
