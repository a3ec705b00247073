package tasks

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

// ServerConfig tunes the asynq worker.
type ServerConfig struct {
	Concurrency int
	// SweepCron schedules sweep:all. Empty disables the periodic sweep.
	SweepCron string
}

// Server runs the task handlers and the periodic sweep scheduler.
type Server struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	cron      string
	log       *logger.Logger
}

// NewServeMux routes every task type to its handler.
func NewServeMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePromotionCascade, h.HandlePromotionCascade)
	mux.HandleFunc(TypeSweepAll, h.HandleSweepAll)
	mux.HandleFunc(TypeNotify, h.HandleNotify)
	return mux
}

// NewServer builds the asynq server and scheduler. Nothing runs until Start.
func NewServer(redisOpt asynq.RedisClientOpt, h *Handlers, cfg ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			Logger: log.Sugar(),
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   log.Sugar(),
		Location: time.UTC,
	})

	return &Server{
		srv:       srv,
		scheduler: scheduler,
		mux:       NewServeMux(h),
		cron:      cfg.SweepCron,
		log:       log,
	}
}

// Start registers the periodic sweep and starts processing in the
// background.
func (s *Server) Start() error {
	if s.cron != "" {
		task, err := NewSweepAllTask()
		if err != nil {
			return err
		}
		entryID, err := s.scheduler.Register(s.cron, task, asynq.Unique(time.Minute))
		if err != nil {
			return fmt.Errorf("register sweep schedule: %w", err)
		}
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		s.log.Info("sweep scheduled", zap.String("cron", s.cron), zap.String("entry_id", entryID))
	}

	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler and drains in-flight tasks.
func (s *Server) Shutdown() {
	if s.cron != "" {
		s.scheduler.Shutdown()
	}
	s.srv.Shutdown()
}
