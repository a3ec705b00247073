package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
)

const entryColumns = `id, session_id, registration_id, position, status, promoted_at,
	promotion_expires_at, notified, accepted_promotion, responded_at, created_at`

// WaitlistRepository handles persistence for waitlist entries.
//
// Every write that adds or removes a waiting entry first takes
// SELECT … FOR UPDATE on the owning session row. That row lock is the
// per-session serialization point for position assignment: two enqueues for
// the same session queue up behind each other, so max(position)+1 is always
// read after the previous insert committed. Sessions never block each other.
type WaitlistRepository struct {
	db *pgxpool.Pool
}

// NewWaitlistRepository constructs a WaitlistRepository.
func NewWaitlistRepository(db *pgxpool.Pool) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

func scanEntry(row pgx.Row) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	var status string
	err := row.Scan(&e.ID, &e.SessionID, &e.RegistrationID, &e.Position, &status, &e.PromotedAt,
		&e.PromotionExpiresAt, &e.Notified, &e.AcceptedPromotion, &e.RespondedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = model.WaitlistStatus(status)
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]model.WaitlistEntry, error) {
	defer rows.Close()
	var entries []model.WaitlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Enqueue appends a waiting entry for registrationID at the tail of the queue.
func (r *WaitlistRepository) Enqueue(ctx context.Context, sessionID, registrationID string, at time.Time) (*model.WaitlistEntry, error) {
	var entry *model.WaitlistEntry
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}

		var maxPos int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position), 0)
			 FROM waitlist_entries
			 WHERE session_id = $1 AND status = 'waiting'`,
			sessionID,
		).Scan(&maxPos); err != nil {
			return translate("read tail position", err)
		}

		e, err := scanEntry(tx.QueryRow(ctx,
			`INSERT INTO waitlist_entries (id, session_id, registration_id, position, status, notified, created_at)
			 VALUES ($1, $2, $3, $4, 'waiting', FALSE, $5)
			 RETURNING `+entryColumns,
			uuid.New().String(), sessionID, registrationID, maxPos+1, at,
		))
		if err != nil {
			return translate("insert waitlist entry", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET waitlist_count = waitlist_count + 1 WHERE id = $1`, sessionID,
		); err != nil {
			return translate("increment waitlist_count", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, translate("enqueue", err)
	}
	return entry, nil
}

// lockEntryForSession locks the session row owning entryID and then the entry
// itself, always in that order.
func lockEntryForSession(ctx context.Context, tx pgx.Tx, entryID string) (*model.WaitlistEntry, error) {
	if !validID(entryID) {
		return nil, ErrWaitlistEntryNotFound
	}
	var sessionID string
	err := tx.QueryRow(ctx, `SELECT session_id FROM waitlist_entries WHERE id = $1`, entryID).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, translate("find waitlist entry", err)
	}
	if err := lockSession(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	return lockEntry(ctx, tx, entryID)
}

func lockEntry(ctx context.Context, tx pgx.Tx, entryID string) (*model.WaitlistEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1 FOR UPDATE`, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, translate("lock waitlist entry", err)
	}
	return e, nil
}

// closeGap shifts every waiting entry behind position up by one and drops
// waitlist_count. Caller holds the session lock.
func closeGap(ctx context.Context, tx pgx.Tx, sessionID string, position int) error {
	if _, err := tx.Exec(ctx,
		`UPDATE waitlist_entries
		 SET position = position - 1
		 WHERE session_id = $1 AND status = 'waiting' AND position > $2`,
		sessionID, position,
	); err != nil {
		return translate("renumber waitlist", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET waitlist_count = GREATEST(waitlist_count - 1, 0) WHERE id = $1`, sessionID,
	); err != nil {
		return translate("decrement waitlist_count", err)
	}
	return nil
}

// Withdraw removes a waiting entry and cancels its registration.
func (r *WaitlistRepository) Withdraw(ctx context.Context, entryID string, at time.Time) (*model.WaitlistEntry, error) {
	if !validID(entryID) {
		return nil, ErrWaitlistEntryNotFound
	}
	var entry *model.WaitlistEntry
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		e, err := lockEntryForSession(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != model.WaitlistWaiting {
			return ErrNotWaiting
		}

		if _, err := tx.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, entryID); err != nil {
			return translate("delete waitlist entry", err)
		}
		if err := closeGap(ctx, tx, e.SessionID, e.Position); err != nil {
			return err
		}
		if _, err := transitionRegistration(ctx, tx, e.RegistrationID,
			model.RegistrationWaitlisted, model.RegistrationCancelled, at); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConcurrencyConflict
			}
			return translate("cancel registration", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, translate("withdraw", err)
	}
	return entry, nil
}

// PeekNext returns the lowest-position waiting entries.
func (r *WaitlistRepository) PeekNext(ctx context.Context, sessionID string, count int) ([]model.WaitlistEntry, error) {
	if count <= 0 || !validID(sessionID) {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM waitlist_entries
		 WHERE session_id = $1 AND status = 'waiting'
		 ORDER BY position ASC
		 LIMIT $2`,
		sessionID, count,
	)
	if err != nil {
		return nil, translate("peek waitlist", err)
	}
	entries, err := collectEntries(rows)
	return entries, translate("peek waitlist", err)
}

// GetEntry returns a single entry or ErrWaitlistEntryNotFound.
func (r *WaitlistRepository) GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	if !validID(id) {
		return nil, ErrWaitlistEntryNotFound
	}
	e, err := scanEntry(r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, translate("get waitlist entry", err)
	}
	return e, nil
}

// GetEntryByRegistration returns the entry linked to a registration.
func (r *WaitlistRepository) GetEntryByRegistration(ctx context.Context, registrationID string) (*model.WaitlistEntry, error) {
	if !validID(registrationID) {
		return nil, ErrWaitlistEntryNotFound
	}
	e, err := scanEntry(r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM waitlist_entries WHERE registration_id = $1`, registrationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, translate("get waitlist entry by registration", err)
	}
	return e, nil
}

// ListEntries returns every entry of a session, waiting ones first by position.
func (r *WaitlistRepository) ListEntries(ctx context.Context, sessionID string) ([]model.WaitlistEntry, error) {
	if !validID(sessionID) {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM waitlist_entries
		 WHERE session_id = $1
		 ORDER BY (status = 'waiting') DESC, position ASC, created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, translate("list waitlist", err)
	}
	entries, err := collectEntries(rows)
	return entries, translate("list waitlist", err)
}

// PromoteEntry issues an offer to a waiting entry and confirms its
// registration in the same transaction.
func (r *WaitlistRepository) PromoteEntry(ctx context.Context, entryID string, at, expiresAt time.Time) (*model.WaitlistEntry, error) {
	if !validID(entryID) {
		return nil, ErrWaitlistEntryNotFound
	}
	var entry *model.WaitlistEntry
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		e, err := lockEntryForSession(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status != model.WaitlistWaiting {
			return ErrConcurrencyConflict
		}

		promoted, err := scanEntry(tx.QueryRow(ctx,
			`UPDATE waitlist_entries
			 SET status = 'promoted', promoted_at = $2, promotion_expires_at = $3, notified = TRUE
			 WHERE id = $1
			 RETURNING `+entryColumns,
			entryID, at, expiresAt,
		))
		if err != nil {
			return translate("mark promoted", err)
		}
		if err := closeGap(ctx, tx, e.SessionID, e.Position); err != nil {
			return err
		}
		if _, err := transitionRegistration(ctx, tx, e.RegistrationID,
			model.RegistrationWaitlisted, model.RegistrationConfirmed, at); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConcurrencyConflict
			}
			return translate("confirm registration", err)
		}
		entry = promoted
		return nil
	})
	if err != nil {
		return nil, translate("promote", err)
	}
	return entry, nil
}

// RespondToOffer records the holder's answer to an open offer. A decline
// hands the seat back before commit.
func (r *WaitlistRepository) RespondToOffer(ctx context.Context, entryID string, accepted bool, at time.Time) (*model.WaitlistEntry, error) {
	if !validID(entryID) {
		return nil, ErrWaitlistEntryNotFound
	}
	var entry *model.WaitlistEntry
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		e, err := lockEntryForSession(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Responded() {
			return ErrAlreadyResponded
		}
		if e.Status != model.WaitlistPromoted {
			return ErrNotPromoted
		}

		if accepted {
			entry, err = scanEntry(tx.QueryRow(ctx,
				`UPDATE waitlist_entries
				 SET accepted_promotion = TRUE, responded_at = $2
				 WHERE id = $1
				 RETURNING `+entryColumns,
				entryID, at,
			))
			return translate("accept offer", err)
		}

		entry, err = scanEntry(tx.QueryRow(ctx,
			`UPDATE waitlist_entries
			 SET status = 'declined', accepted_promotion = FALSE, responded_at = $2, promotion_expires_at = NULL
			 WHERE id = $1
			 RETURNING `+entryColumns,
			entryID, at,
		))
		if err != nil {
			return translate("decline offer", err)
		}
		if _, err := transitionRegistration(ctx, tx, e.RegistrationID,
			model.RegistrationConfirmed, model.RegistrationWaitlisted, at); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConcurrencyConflict
			}
			return translate("revert registration", err)
		}
		return releaseSeats(ctx, tx, e.SessionID, 1)
	})
	if err != nil {
		return nil, translate("respond to offer", err)
	}
	return entry, nil
}

// CancelConfirmed cancels a confirmed registration and frees its seat. An
// offer the registration still holds is declined first so the sweep cannot
// expire it and free the same seat again.
func (r *WaitlistRepository) CancelConfirmed(ctx context.Context, registrationID string, at time.Time) (*model.Registration, error) {
	if !validID(registrationID) {
		return nil, ErrRegistrationNotFound
	}
	var reg *model.Registration
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var sessionID string
		err := tx.QueryRow(ctx, `SELECT session_id FROM registrations WHERE id = $1`, registrationID).Scan(&sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRegistrationNotFound
			}
			return translate("find registration", err)
		}
		if err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE waitlist_entries
			 SET status = 'declined', accepted_promotion = FALSE, responded_at = $2, promotion_expires_at = NULL
			 WHERE registration_id = $1 AND status = 'promoted' AND accepted_promotion IS NULL`,
			registrationID, at,
		); err != nil {
			return translate("close offer", err)
		}

		cancelled, err := transitionRegistration(ctx, tx, registrationID,
			model.RegistrationConfirmed, model.RegistrationCancelled, at)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConcurrencyConflict
			}
			return translate("cancel registration", err)
		}
		if err := releaseSeats(ctx, tx, sessionID, 1); err != nil {
			return err
		}
		reg = cancelled
		return nil
	})
	if err != nil {
		return nil, translate("cancel confirmed", err)
	}
	return reg, nil
}

// ExpireOffers expires unanswered offers past their deadline.
//
// The session row is locked first, like every other seat-moving write, so
// the seat credit commits with the expiry. SKIP LOCKED leaves rows another
// writer holds for the next pass; once a row leaves 'promoted' it no longer
// matches, so a repeated sweep is a no-op.
func (r *WaitlistRepository) ExpireOffers(ctx context.Context, sessionID string, now time.Time) ([]model.WaitlistEntry, error) {
	if !validID(sessionID) {
		return nil, ErrSessionNotFound
	}
	var expired []model.WaitlistEntry
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		rows, err := tx.Query(ctx,
			`UPDATE waitlist_entries
			 SET status = 'expired', promotion_expires_at = NULL
			 WHERE id IN (
			     SELECT id FROM waitlist_entries
			     WHERE session_id = $1
			       AND status = 'promoted'
			       AND accepted_promotion IS NULL
			       AND promotion_expires_at < $2
			     FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+entryColumns,
			sessionID, now,
		)
		if err != nil {
			return translate("expire offers", err)
		}
		entries, err := collectEntries(rows)
		if err != nil {
			return translate("expire offers", err)
		}
		if len(entries) == 0 {
			return nil
		}

		regIDs := make([]string, len(entries))
		for i, e := range entries {
			regIDs[i] = e.RegistrationID
		}
		if _, err := tx.Exec(ctx,
			`UPDATE registrations
			 SET status = 'waitlisted', confirmed_at = NULL
			 WHERE id = ANY($1::uuid[]) AND status = 'confirmed'`,
			regIDs,
		); err != nil {
			return translate("revert registrations", err)
		}
		if err := releaseSeats(ctx, tx, sessionID, len(entries)); err != nil {
			return err
		}

		sortByOffer(entries)
		expired = entries
		return nil
	})
	if err != nil {
		return nil, translate("expire offers", err)
	}
	return expired, nil
}
