package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
)

const registrationColumns = `id, session_id, user_id, status, registered_at, confirmed_at, cancelled_at`

// RegistrationRepository handles persistence for registrations.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	var status string
	err := row.Scan(&reg.ID, &reg.SessionID, &reg.UserID, &status, &reg.RegisteredAt, &reg.ConfirmedAt, &reg.CancelledAt)
	if err != nil {
		return nil, err
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}

// CreateRegistration inserts a registration. The partial unique index on
// active registrations turns a duplicate into ErrAlreadyRegistered.
func (r *RegistrationRepository) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	if !validID(reg.SessionID) {
		return ErrSessionNotFound
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO registrations (id, session_id, user_id, status, registered_at, confirmed_at, cancelled_at)
		 SELECT $1, $2, $3, $4, $5, $6, $7
		 WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $2)`,
		reg.ID, reg.SessionID, reg.UserID, string(reg.Status), reg.RegisteredAt, reg.ConfirmedAt, reg.CancelledAt,
	)
	if err != nil {
		return translate("insert registration", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetRegistration returns a single registration or ErrRegistrationNotFound.
func (r *RegistrationRepository) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	if !validID(id) {
		return nil, ErrRegistrationNotFound
	}
	reg, err := scanRegistration(r.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, translate("get registration", err)
	}
	return reg, nil
}

// ListRegistrations returns all registrations for a session in arrival order.
func (r *RegistrationRepository) ListRegistrations(ctx context.Context, sessionID string) ([]model.Registration, error) {
	if !validID(sessionID) {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE session_id = $1
		 ORDER BY registered_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, translate("list registrations", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, translate("scan registration", err)
		}
		regs = append(regs, *reg)
	}
	return regs, translate("list registrations", rows.Err())
}

// TransitionRegistration is a compare-and-set on status.
func (r *RegistrationRepository) TransitionRegistration(ctx context.Context, id string, from, to model.RegistrationStatus, at time.Time) (*model.Registration, error) {
	if !validID(id) {
		return nil, ErrRegistrationNotFound
	}
	reg, err := transitionRegistration(ctx, r.db, id, from, to, at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetRegistration(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrConcurrencyConflict
		}
		return nil, translate("transition registration", err)
	}
	return reg, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// transitionRegistration returns pgx.ErrNoRows when the row is missing or not
// in status from.
func transitionRegistration(ctx context.Context, q querier, id string, from, to model.RegistrationStatus, at time.Time) (*model.Registration, error) {
	return scanRegistration(q.QueryRow(ctx,
		`UPDATE registrations
		 SET status = $3,
		     confirmed_at = CASE
		         WHEN $3 = 'confirmed' THEN $4
		         WHEN $3 IN ('waitlisted', 'pending') THEN NULL
		         ELSE confirmed_at END,
		     cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END
		 WHERE id = $1 AND status = $2
		 RETURNING `+registrationColumns,
		id, string(from), string(to), at,
	))
}
