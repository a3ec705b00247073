// Package repository implements persistence for sessions, registrations and
// the waitlist. The Postgres stores use pgx directly (no ORM); the memory
// store backs development runs and tests.
package repository

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
)

// SessionStore is the durable record of a session's capacity counters.
// TryReserve and Release are the only ways registered_count moves.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	// ListActiveSessionIDs returns scheduled sessions that have not started.
	ListActiveSessionIDs(ctx context.Context, now time.Time) ([]string, error)

	// TryReserve atomically increments registered_count if it is below
	// capacity and reports whether a seat was taken.
	TryReserve(ctx context.Context, sessionID string) (bool, error)
	// Release atomically decrements registered_count, never below zero.
	Release(ctx context.Context, sessionID string) error
}

// RegistrationStore persists registrations. Rows are never deleted.
type RegistrationStore interface {
	// CreateRegistration inserts r. At most one active registration per
	// (session, user) exists; a second returns ErrAlreadyRegistered.
	CreateRegistration(ctx context.Context, r *model.Registration) error
	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	ListRegistrations(ctx context.Context, sessionID string) ([]model.Registration, error)
	// TransitionRegistration moves a registration from one status to another
	// and stamps the matching timestamp. It returns ErrConcurrencyConflict if
	// the current status is not from.
	TransitionRegistration(ctx context.Context, id string, from, to model.RegistrationStatus, at time.Time) (*model.Registration, error)
}

// WaitlistStore persists the per-session FIFO queue. Every method that changes
// the set of waiting entries is serialized per session and keeps positions
// contiguous from 1.
type WaitlistStore interface {
	// Enqueue appends a waiting entry at max(position)+1.
	Enqueue(ctx context.Context, sessionID, registrationID string, at time.Time) (*model.WaitlistEntry, error)
	// Withdraw deletes a waiting entry, closes the gap behind it and cancels
	// the linked registration.
	Withdraw(ctx context.Context, entryID string, at time.Time) (*model.WaitlistEntry, error)
	// PeekNext returns up to count waiting entries in ascending position.
	PeekNext(ctx context.Context, sessionID string, count int) ([]model.WaitlistEntry, error)

	GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error)
	GetEntryByRegistration(ctx context.Context, registrationID string) (*model.WaitlistEntry, error)
	ListEntries(ctx context.Context, sessionID string) ([]model.WaitlistEntry, error)

	// PromoteEntry marks a waiting entry promoted with an offer expiring at
	// expiresAt, closes the gap it leaves and confirms the linked
	// registration, all in one transaction. An entry that is no longer
	// waiting yields ErrConcurrencyConflict.
	PromoteEntry(ctx context.Context, entryID string, at, expiresAt time.Time) (*model.WaitlistEntry, error)
	// RespondToOffer records an accept or decline. A decline also reverts the
	// linked registration to waitlisted and gives its seat back, in the same
	// transaction.
	RespondToOffer(ctx context.Context, entryID string, accepted bool, at time.Time) (*model.WaitlistEntry, error)
	// CancelConfirmed cancels a confirmed registration, declines any open
	// offer it holds and gives its seat back, all in one transaction. A
	// registration that is no longer confirmed yields ErrConcurrencyConflict.
	CancelConfirmed(ctx context.Context, registrationID string, at time.Time) (*model.Registration, error)
	// ExpireOffers moves unanswered offers whose expiry is before now to
	// expired, reverts their registrations to waitlisted and gives one seat
	// back per expired offer.
	ExpireOffers(ctx context.Context, sessionID string, now time.Time) ([]model.WaitlistEntry, error)
}

// Store bundles the three stores. Both the Postgres and memory backends
// satisfy it.
type Store interface {
	SessionStore
	RegistrationStore
	WaitlistStore
}

// sortByOffer orders entries by when their offer was issued, oldest first.
func sortByOffer(entries []model.WaitlistEntry) {
	slices.SortFunc(entries, func(a, b model.WaitlistEntry) int {
		if a.PromotedAt != nil && b.PromotedAt != nil {
			if c := a.PromotedAt.Compare(*b.PromotedAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Position, b.Position)
	})
}
