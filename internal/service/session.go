package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
)

// maxCapacity caps a single session's seats.
const maxCapacity = 100_000

// SessionService orchestrates session-related business operations.
type SessionService struct {
	sessions repository.SessionStore
	opts     Options
}

// NewSessionService constructs a SessionService with its dependencies.
func NewSessionService(sessions repository.SessionStore, opts Options) *SessionService {
	return &SessionService{sessions: sessions, opts: opts.withDefaults()}
}

// Create validates the request and stores a new scheduled session.
func (s *SessionService) Create(ctx context.Context, req model.CreateSessionRequest) (*model.Session, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if req.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidInput)
	}
	if req.Capacity > maxCapacity {
		return nil, fmt.Errorf("%w: capacity cannot exceed 100,000", ErrInvalidInput)
	}
	now := s.opts.Now()
	if !req.StartsAt.After(now) {
		return nil, fmt.Errorf("%w: starts_at must be in the future", ErrInvalidInput)
	}

	session := &model.Session{
		ID:        uuid.New().String(),
		Title:     req.Title,
		Capacity:  req.Capacity,
		StartsAt:  req.StartsAt.UTC(),
		Status:    model.SessionScheduled,
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// List returns all sessions.
func (s *SessionService) List(ctx context.Context) ([]model.Session, error) {
	return s.sessions.ListSessions(ctx)
}

// Get returns a single session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	return s.sessions.GetSession(ctx, id)
}
