// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/config"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/database"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/handler"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/lock"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/service"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/tasks"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/telemetry"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/worker"
)

func main() {
	// ── 1. Configuration and logging ─────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	log, err := logger.Init(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.IsDevelopment(),
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		log.Fatal("telemetry init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// ── 2. Storage ────────────────────────────────────────────────────────
	store, pool, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	if pool != nil {
		defer pool.Close()
	}

	// ── 3. Redis, asynq client and sweep lock ────────────────────────────
	var (
		locker      service.Locker
		asynqClient *asynq.Client
		redisOpt    asynq.RedisClientOpt
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := lock.Ping(ctx, rdb); err != nil {
			log.Fatal("redis unavailable", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.Waitlist.LockTTL)
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))

		if cfg.App.SchedulerMode == config.SchedulerAsynq {
			redisOpt = asynq.RedisClientOpt{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			}
			asynqClient = asynq.NewClient(redisOpt)
			defer asynqClient.Close()
		}
	}

	// ── 4. Events and notifications ──────────────────────────────────────
	bus := events.NewBus(log)
	defer bus.Close()

	gateway, err := newGateway(cfg, log)
	if err != nil {
		log.Fatal("notification gateway init failed", zap.Error(err))
	}

	var dispatchGateway notify.Gateway = gateway
	if asynqClient != nil {
		dispatchGateway = tasks.NewGateway(asynqClient)
	}
	go notify.NewDispatcher(dispatchGateway, log).Run(ctx, bus.Subscribe(cfg.Waitlist.EventBuffer))

	if cfg.Kafka.Enabled() {
		sink, err := events.NewKafkaSink(events.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			log.Fatal("kafka sink init failed", zap.Error(err))
		}
		defer sink.Close()
		go sink.Run(ctx, bus.Subscribe(cfg.Waitlist.EventBuffer))
		log.Info("publishing events to kafka", zap.String("topic", cfg.Kafka.Topic))
	}

	// ── 5. Wire up services ──────────────────────────────────────────────
	opts := service.Options{
		Publisher: bus,
		Logger:    log,
		OfferTTL:  cfg.Waitlist.OfferTTL,
		Locker:    locker,
	}
	if asynqClient != nil {
		opts.Cascader = tasks.NewCascader(asynqClient)
	}

	engine := service.NewPromotionEngine(store, opts)
	queue := service.NewWaitlistQueue(store, opts)
	sweeper := service.NewExpirySweeper(store, engine, opts)
	h := handler.New(handler.Services{
		Sessions:      service.NewSessionService(store, opts),
		Registrations: service.NewRegistrationService(store, queue, engine, opts),
		Queue:         queue,
		Engine:        engine,
		Sweeper:       sweeper,
	}, log)

	// ── 6. Expiry sweep scheduling ───────────────────────────────────────
	switch cfg.App.SchedulerMode {
	case config.SchedulerAsynq:
		srv := tasks.NewServer(redisOpt, tasks.NewHandlers(engine, sweeper, gateway, log), tasks.ServerConfig{
			SweepCron: cfg.Waitlist.SweepCron,
		}, log)
		if err := srv.Start(); err != nil {
			log.Fatal("task server start failed", zap.Error(err))
		}
		defer srv.Shutdown()
	default:
		w := worker.NewSweepWorker(sweeper, &worker.SweepWorkerConfig{Interval: cfg.Waitlist.SweepInterval}, log)
		if err := w.Start(ctx); err != nil {
			log.Fatal("sweep worker start failed", zap.Error(err))
		}
		defer w.Stop()
	}

	// ── 7. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(h, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, *pgxpool.Pool, error) {
	if cfg.App.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}

	pool, err := database.NewPool(ctx, cfg.Database, database.Options{EnableTracing: cfg.OTel.Enabled})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	log.Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	return repository.NewPostgresStore(pool), pool, nil
}

func newGateway(cfg *config.Config, log *logger.Logger) (notify.Gateway, error) {
	if !cfg.PubNub.Enabled() {
		return notify.NewLogGateway(log), nil
	}
	return notify.NewPubNubGateway(notify.PubNubConfig{
		PublishKey:   cfg.PubNub.PublishKey,
		SubscribeKey: cfg.PubNub.SubscribeKey,
		SecretKey:    cfg.PubNub.SecretKey,
		UserID:       cfg.PubNub.UserID,
	})
}
