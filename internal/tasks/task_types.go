// Package tasks runs cascades, sweeps and notification delivery as asynq
// background tasks backed by Redis.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/notify"
)

const (
	TypePromotionCascade = "promotion:cascade"
	TypeSweepAll         = "sweep:all"
	TypeNotify           = "notify:promotion"
)

// Queue names and their weights.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Task payloads
type PromotionCascadePayload struct {
	SessionID string `json:"session_id"`
	Count     int    `json:"count"`
}

type SweepAllPayload struct {
	Scope string `json:"scope"`
}

type NotifyPayload struct {
	Notification notify.Notification `json:"notification"`
}

// NewPromotionCascadeTask builds a cascade task. Cascades sit on the critical
// queue: a freed seat is idle until it runs.
func NewPromotionCascadeTask(sessionID string, count int) (*asynq.Task, error) {
	payload, err := json.Marshal(PromotionCascadePayload{SessionID: sessionID, Count: count})
	if err != nil {
		return nil, fmt.Errorf("marshal cascade payload: %w", err)
	}
	return asynq.NewTask(TypePromotionCascade, payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
	), nil
}

// NewSweepAllTask builds the periodic sweep task.
func NewSweepAllTask() (*asynq.Task, error) {
	payload, err := json.Marshal(SweepAllPayload{Scope: "all"})
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return asynq.NewTask(TypeSweepAll, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	), nil
}

// NewNotifyTask builds a notification delivery task.
func NewNotifyTask(n notify.Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(NotifyPayload{Notification: n})
	if err != nil {
		return nil, fmt.Errorf("marshal notify payload: %w", err)
	}
	return asynq.NewTask(TypeNotify, payload,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}
