package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
)

const sessionColumns = `id, title, capacity, registered_count, waitlist_count, starts_at, status, created_at`

// SessionRepository handles persistence for sessions and their counters.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	var status string
	err := row.Scan(&s.ID, &s.Title, &s.Capacity, &s.RegisteredCount, &s.WaitlistCount, &s.StartsAt, &status, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	return &s, nil
}

// CreateSession inserts a new session.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, title, capacity, registered_count, waitlist_count, starts_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.Title, s.Capacity, s.RegisteredCount, s.WaitlistCount, s.StartsAt, string(s.Status), s.CreatedAt,
	)
	return translate("insert session", err)
}

// GetSession returns a single session or ErrSessionNotFound.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if !validID(id) {
		return nil, ErrSessionNotFound
	}
	s, err := scanSession(r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, translate("get session", err)
	}
	return s, nil
}

// ListSessions returns all sessions ordered by start time.
func (r *SessionRepository) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY starts_at ASC`)
	if err != nil {
		return nil, translate("list sessions", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, translate("scan session", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, translate("list sessions", rows.Err())
}

// ListActiveSessionIDs returns ids of scheduled sessions starting after now.
func (r *SessionRepository) ListActiveSessionIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM sessions WHERE status = $1 AND starts_at > $2 ORDER BY starts_at ASC`,
		string(model.SessionScheduled), now)
	if err != nil {
		return nil, translate("list active sessions", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, translate("scan session id", err)
	}
	return ids, nil
}

// TryReserve increments registered_count only while it is below capacity.
//
// The single conditional UPDATE takes the row lock, re-evaluates the predicate
// against the latest committed row and writes, so two registrations racing
// for the last seat cannot both succeed. No read-then-write happens in Go.
func (r *SessionRepository) TryReserve(ctx context.Context, sessionID string) (bool, error) {
	if !validID(sessionID) {
		return false, ErrSessionNotFound
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions
		 SET registered_count = registered_count + 1
		 WHERE id = $1 AND registered_count < capacity`,
		sessionID,
	)
	if err != nil {
		return false, translate("reserve seat", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish a full session from a missing one.
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

// Release decrements registered_count, never below zero.
func (r *SessionRepository) Release(ctx context.Context, sessionID string) error {
	if !validID(sessionID) {
		return ErrSessionNotFound
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions
		 SET registered_count = registered_count - 1
		 WHERE id = $1 AND registered_count > 0`,
		sessionID,
	)
	if err != nil {
		return translate("release seat", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// lockSession takes the row lock that serializes all queue mutations for a
// session. Callers must hold an open transaction.
func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) error {
	if !validID(sessionID) {
		return ErrSessionNotFound
	}
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return translate("lock session row", err)
	}
	return nil
}

// releaseSeats gives n seats back inside tx, never below zero. It runs in the
// same transaction as the status change that frees the seats.
func releaseSeats(ctx context.Context, tx pgx.Tx, sessionID string, n int) error {
	_, err := tx.Exec(ctx,
		`UPDATE sessions
		 SET registered_count = GREATEST(registered_count - $2, 0)
		 WHERE id = $1`,
		sessionID, n,
	)
	return translate("release seats", err)
}
