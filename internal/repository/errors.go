package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrCapacityExceeded is returned when a confirm would push a session past its
// capacity. Seeing it outside of TryReserve indicates a serialization bug.
var ErrCapacityExceeded = errors.New("session capacity exceeded")

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned when a session is cancelled or already started.
var ErrSessionClosed = errors.New("session is closed for registration")

// ErrRegistrationNotFound is returned when a requested registration does not exist.
var ErrRegistrationNotFound = errors.New("registration not found")

// ErrWaitlistEntryNotFound is returned when a requested waitlist entry does not exist.
var ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")

// ErrNotPromoted is returned when accepting or declining an entry without an offer.
var ErrNotPromoted = errors.New("waitlist entry is not promoted")

// ErrAlreadyResponded is returned when an offer was already accepted or declined.
var ErrAlreadyResponded = errors.New("promotion already responded to")

// ErrNotWaiting is returned when withdrawing an entry that left the queue.
var ErrNotWaiting = errors.New("waitlist entry is not waiting")

// ErrAlreadyRegistered is returned when the same user registers twice.
var ErrAlreadyRegistered = errors.New("user already registered for this session")

// ErrConcurrencyConflict is returned when a row changed underneath an update.
// The whole operation is safe to retry.
var ErrConcurrencyConflict = errors.New("concurrent modification, retry")

// ErrPersistence is returned when the store cannot be reached or fails.
var ErrPersistence = errors.New("persistence failure")

// Postgres error codes the stores translate into domain errors.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// translate maps driver errors onto the taxonomy above. Domain errors pass
// through untouched.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, op)
		case pgCheckViolation:
			if pgErr.ConstraintName == "sessions_capacity_ceiling" {
				return fmt.Errorf("%w: %s", ErrCapacityExceeded, op)
			}
		case pgUniqueViolation:
			if pgErr.ConstraintName == "registrations_one_active_per_user" {
				return ErrAlreadyRegistered
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrCapacityExceeded, ErrSessionNotFound, ErrSessionClosed,
		ErrRegistrationNotFound, ErrWaitlistEntryNotFound, ErrNotPromoted,
		ErrAlreadyResponded, ErrNotWaiting, ErrAlreadyRegistered,
		ErrConcurrencyConflict, ErrPersistence,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
