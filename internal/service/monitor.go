package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/client"
	"vitalwatch/internal/config"
	"vitalwatch/internal/engine"
	httpapi "vitalwatch/internal/http"
	"vitalwatch/internal/notify"
	"vitalwatch/internal/repository"
	"vitalwatch/internal/store"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// MonitorService wires the monitoring engine to its optional backends
// (Postgres audit trail, Redis snapshots, MQTT notifications) and the
// station HTTP API.
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	notifier    *notify.MQTTNotifier

	backend *client.MonitoringClient
	engine  *engine.Engine
	server  *Server

	serverErr chan error
}

// NewMonitorService builds the full service from configuration. Optional
// integrations that are disabled or unconfigured are left nil; the engine
// runs without them.
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{
		config:    cfg,
		logger:    logger,
		serverErr: make(chan error, 1),
	}

	// 1. Postgres for the alert audit trail
	var audit alerts.AuditSink
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		audit = repository.NewAlertAuditRepository(db, logger)
	}

	// 2. Redis for last-known-good snapshots
	var snapshots *store.SnapshotStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			s.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		s.redisClient = redisClient
		ttl := time.Duration(cfg.Redis.SnapshotTTLSec) * time.Second
		snapshots = store.NewSnapshotStore(store.NewRedisKV(redisClient), ttl, logger)
	}

	// 3. Monitoring backend client
	s.backend = client.NewMonitoringClient(cfg.API.BaseURL, cfg.APITimeout(), logger)

	// 4. Engine
	eng, err := engine.New(cfg, s.backend, snapshots, audit, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	s.engine = eng

	// 5. MQTT notification sink
	if cfg.MQTT.Broker != "" {
		notifier, err := notify.NewMQTTNotifier(notify.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			QoS:         byte(cfg.MQTT.QoS),
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.notifier = notifier
		eng.Dispatcher().AddSink(notifier)
	}

	// 6. HTTP API
	router := httpapi.NewRouter(logger)
	router.RegisterMonitorRoutes(httpapi.NewMonitorHandler(eng, logger))
	s.server = NewServer(cfg.HTTP.Addr, router, logger)

	return s, nil
}

// Engine exposes the monitoring engine, mainly for embedding callers.
func (s *MonitorService) Engine() *engine.Engine { return s.engine }

// Start runs the engine timers and the HTTP server. The warm fetch is
// best-effort; a dead backend at boot leaves the cache empty and flagged
// stale until the first good tick.
func (s *MonitorService) Start(ctx context.Context) error {
	s.engine.Start(ctx)

	if err := s.engine.RefreshOnce(ctx); err != nil {
		s.logger.Warn("Initial fetch failed, serving stale until backend recovers",
			zap.Error(err),
		)
	}

	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serverErr <- err
		}
	}()

	return nil
}

// Err reports a fatal HTTP server failure.
func (s *MonitorService) Err() <-chan error { return s.serverErr }

// Stop shuts down the HTTP server, the engine, and all connections.
func (s *MonitorService) Stop(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Failed to stop HTTP server", zap.Error(err))
		}
	}
	if s.engine != nil {
		s.engine.Stop()
	}
	s.Close()
	return nil
}

// Close releases external connections. Safe to call more than once.
func (s *MonitorService) Close() {
	if s.notifier != nil {
		s.notifier.Close()
		s.notifier = nil
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
		s.redisClient = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
		s.db = nil
	}
}
