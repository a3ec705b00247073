// Package worker runs the expiry sweep on a fixed interval inside the API
// process.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

// Sweeper is satisfied by *service.ExpirySweeper.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// SweepWorkerConfig contains configuration for the sweep worker
type SweepWorkerConfig struct {
	// Interval between sweep passes
	Interval time.Duration
}

// DefaultSweepWorkerConfig returns default configuration
func DefaultSweepWorkerConfig() *SweepWorkerConfig {
	return &SweepWorkerConfig{
		Interval: 2 * time.Minute,
	}
}

// SweepWorker periodically expires unanswered promotion offers.
type SweepWorker struct {
	sweeper Sweeper
	config  *SweepWorkerConfig
	log     *logger.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	passes           int64
	totalExpired     int64
	failures         int64
	lastSweepTime    time.Time
	lastExpiredCount int
}

// SweepWorkerStats is a snapshot of worker activity.
type SweepWorkerStats struct {
	IsRunning        bool      `json:"is_running"`
	Passes           int64     `json:"passes"`
	TotalExpired     int64     `json:"total_expired"`
	Failures         int64     `json:"failures"`
	LastSweepTime    time.Time `json:"last_sweep_time"`
	LastExpiredCount int       `json:"last_expired_count"`
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(sweeper Sweeper, config *SweepWorkerConfig, log *logger.Logger) *SweepWorker {
	if config == nil || config.Interval <= 0 {
		config = DefaultSweepWorkerConfig()
	}
	if log == nil {
		log = logger.Get()
	}
	return &SweepWorker{
		sweeper: sweeper,
		config:  config,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

// Start starts the sweep worker
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sweep worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("starting sweep worker", zap.Duration("interval", w.config.Interval))

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop stops the worker and waits for an in-flight pass to finish.
func (w *SweepWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("sweep worker stopped")
}

func (w *SweepWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	n, err := w.sweeper.SweepAll(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.passes++
	w.lastSweepTime = time.Now()
	w.lastExpiredCount = n
	w.totalExpired += int64(n)
	if err != nil {
		w.failures++
		w.log.Error("sweep pass failed", zap.Error(err))
	}
}

// GetStats returns worker statistics
func (w *SweepWorker) GetStats() *SweepWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &SweepWorkerStats{
		IsRunning:        w.running,
		Passes:           w.passes,
		TotalExpired:     w.totalExpired,
		Failures:         w.failures,
		LastSweepTime:    w.lastSweepTime,
		LastExpiredCount: w.lastExpiredCount,
	}
}
