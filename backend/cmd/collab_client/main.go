package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"collabClient/backend/config"
	"collabClient/backend/internal/cache"
	"collabClient/backend/internal/collab"
	"collabClient/backend/internal/edit"
	"collabClient/backend/internal/httpapi/handlers"
	"collabClient/backend/internal/httpapi/middleware"
	"collabClient/backend/internal/identity"
	"collabClient/backend/internal/remote"
	"collabClient/backend/internal/revision"
	"collabClient/backend/internal/store"
	"collabClient/backend/internal/ws"
)

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := newLogger(cfg.Running.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := []byte(cfg.Auth.Secret)
	user := identity.NewTokenUser(cfg.Auth.Token, secret)

	deps := edit.Deps{
		Server:           remote.NewHTTPServer(cfg.Collab.HTTPURL, cfg.Auth.Token, cfg.Collab.FetchTimeout),
		User:             user,
		Logger:           logger,
		StoreMailboxSize: cfg.Editor.StoreMailboxSize,
		UndoLimit:        cfg.Editor.UndoLimit,
		InboxSize:        cfg.Editor.InboxSize,
		PublishTimeout:   cfg.Editor.PublishTimeout,
	}

	// === 版本持久化：没有配置 MySQL 时只保存在内存里 ===
	var (
		snapshots      edit.SnapshotStore
		snapshotReader handlers.SnapshotReader
	)
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("Failed to get sql.DB: %v", err)
		}
		defer sqlDB.Close()
		deps.Persistence = store.NewGormRevisionStore(db)
		snapshotStore := store.NewSnapshotStore(sqlDB)
		snapshots, snapshotReader = snapshotStore, snapshotStore
	} else {
		logger.Warn("mysql dsn is empty, revisions are kept in memory")
		deps.Persistence = revision.NewMemoryPersistence()
	}

	// === 在线协作者 ===
	var members handlers.MemberLister
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("ping redis failed: %v", err)
		}
		defer rdb.Close()
		presence := cache.NewRedisPresence(rdb, cfg.Redis.PresenceTTL)
		deps.Presence = presence
		members = presence
	}

	// === Kafka：版本提交事件，可选 ===
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		dispatcher = collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic, collab.NewSemaphoreControl(cfg.Kafka.Workers), collab.KafkaDispatcherOptions{
			QueueSize:   cfg.Kafka.Queue,
			Workers:     cfg.Kafka.Workers,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  time.Second,
			Logger:      logger,
		})
		deps.Events = dispatcher
	}

	// === 长连接 ===
	hub := ws.NewHub(logger)
	client := ws.NewClient(hub, ws.ClientOptions{
		URL:          cfg.Collab.WsURL,
		Token:        cfg.Auth.Token,
		SendQueue:    cfg.Collab.SendQueue,
		MinBackoff:   cfg.Collab.MinBackoff,
		MaxBackoff:   cfg.Collab.MaxBackoff,
		PingInterval: cfg.Collab.PingInterval,
		Logger:       logger,
	})
	deps.Transport = client

	manager := edit.NewManager(deps, hub, snapshots)

	wsDone := make(chan struct{})
	go func() {
		defer close(wsDone)
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ws client stopped", "err", err)
		}
	}()

	router := handlers.NewRouter(handlers.NewDocumentHandler(manager, members, snapshotReader), handlers.RouterOptions{
		EnableCORS: cfg.Running.CORS,
		Auth:       middleware.AuthMiddleware(secret),
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "err", err)
	}
	manager.CloseAll(shutdownCtx)
	<-wsDone
	if dispatcher != nil {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("kafka dispatcher close", "err", err)
		}
	}
}
