package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
)

func seedSession(t *testing.T, store *MemoryStore, capacity int) *model.Session {
	t.Helper()
	s := &model.Session{
		ID:        uuid.New().String(),
		Title:     "Intro to Go",
		Capacity:  capacity,
		StartsAt:  time.Now().Add(48 * time.Hour),
		Status:    model.SessionScheduled,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s
}

func seedWaitlisted(t *testing.T, store *MemoryStore, sessionID, userID string) (*model.Registration, *model.WaitlistEntry) {
	t.Helper()
	ctx := context.Background()
	reg := &model.Registration{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		UserID:       userID,
		Status:       model.RegistrationWaitlisted,
		RegisteredAt: time.Now(),
	}
	require.NoError(t, store.CreateRegistration(ctx, reg))
	entry, err := store.Enqueue(ctx, sessionID, reg.ID, time.Now())
	require.NoError(t, err)
	return reg, entry
}

func waitingPositions(t *testing.T, store *MemoryStore, sessionID string) []int {
	t.Helper()
	entries, err := store.PeekNext(context.Background(), sessionID, 1<<20)
	require.NoError(t, err)
	positions := make([]int, len(entries))
	for i, e := range entries {
		positions[i] = e.Position
	}
	return positions
}

func TestMemoryStore_TryReserve_NeverExceedsCapacity(t *testing.T) {
	store := NewMemoryStore()
	s := seedSession(t, store, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryReserve(context.Background(), s.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, granted)
	assert.Equal(t, 5, got.RegisteredCount)
	assert.True(t, got.IsFull())
}

func TestMemoryStore_TryReserve_UnknownSession(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.TryReserve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_Release_StopsAtZero(t *testing.T) {
	store := NewMemoryStore()
	s := seedSession(t, store, 2)

	require.NoError(t, store.Release(context.Background(), s.ID))
	got, _ := store.GetSession(context.Background(), s.ID)
	assert.Equal(t, 0, got.RegisteredCount)
}

func TestMemoryStore_Enqueue_ConcurrentPositionsAreContiguous(t *testing.T) {
	store := NewMemoryStore()
	s := seedSession(t, store, 1)

	const n = 40
	regIDs := make([]string, n)
	for i := range regIDs {
		reg := &model.Registration{
			ID:           uuid.New().String(),
			SessionID:    s.ID,
			UserID:       uuid.New().String(),
			Status:       model.RegistrationWaitlisted,
			RegisteredAt: time.Now(),
		}
		require.NoError(t, store.CreateRegistration(context.Background(), reg))
		regIDs[i] = reg.ID
	}

	var wg sync.WaitGroup
	for _, id := range regIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.Enqueue(context.Background(), s.ID, id, time.Now())
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	positions := waitingPositions(t, store, s.ID)
	require.Len(t, positions, n)
	for i, p := range positions {
		assert.Equal(t, i+1, p)
	}
	got, _ := store.GetSession(context.Background(), s.ID)
	assert.Equal(t, n, got.WaitlistCount)
}

func TestMemoryStore_Withdraw_RenumbersTail(t *testing.T) {
	store := NewMemoryStore()
	s := seedSession(t, store, 1)
	_, first := seedWaitlisted(t, store, s.ID, "u1")
	reg2, second := seedWaitlisted(t, store, s.ID, "u2")
	_, third := seedWaitlisted(t, store, s.ID, "u3")

	_, err := store.Withdraw(context.Background(), second.ID, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, waitingPositions(t, store, s.ID))
	got, _ := store.GetEntry(context.Background(), third.ID)
	assert.Equal(t, 2, got.Position)
	got, _ = store.GetEntry(context.Background(), first.ID)
	assert.Equal(t, 1, got.Position)

	_, err = store.GetEntry(context.Background(), second.ID)
	assert.ErrorIs(t, err, ErrWaitlistEntryNotFound)

	reg, _ := store.GetRegistration(context.Background(), reg2.ID)
	assert.Equal(t, model.RegistrationCancelled, reg.Status)
	assert.NotNil(t, reg.CancelledAt)
}

func TestMemoryStore_PromoteEntry_ConfirmsAndCloses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 1)
	reg1, first := seedWaitlisted(t, store, s.ID, "u1")
	_, second := seedWaitlisted(t, store, s.ID, "u2")

	now := time.Now()
	promoted, err := store.PromoteEntry(ctx, first.ID, now, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistPromoted, promoted.Status)
	assert.True(t, promoted.Notified)
	require.NotNil(t, promoted.PromotionExpiresAt)

	reg, _ := store.GetRegistration(ctx, reg1.ID)
	assert.Equal(t, model.RegistrationConfirmed, reg.Status)

	got, _ := store.GetEntry(ctx, second.ID)
	assert.Equal(t, 1, got.Position)

	_, err = store.PromoteEntry(ctx, first.ID, now, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestMemoryStore_RespondToOffer_Guards(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 1)
	_, entry := seedWaitlisted(t, store, s.ID, "u1")

	_, err := store.RespondToOffer(ctx, entry.ID, true, time.Now())
	assert.ErrorIs(t, err, ErrNotPromoted)

	now := time.Now()
	_, err = store.PromoteEntry(ctx, entry.ID, now, now.Add(time.Hour))
	require.NoError(t, err)

	declined, err := store.RespondToOffer(ctx, entry.ID, false, now)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistDeclined, declined.Status)
	assert.Nil(t, declined.PromotionExpiresAt)

	_, err = store.RespondToOffer(ctx, entry.ID, true, now)
	assert.ErrorIs(t, err, ErrAlreadyResponded)

	_, err = store.RespondToOffer(ctx, "missing", true, now)
	assert.ErrorIs(t, err, ErrWaitlistEntryNotFound)
}

func TestMemoryStore_ExpireOffers_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 1)
	reg, entry := seedWaitlisted(t, store, s.ID, "u1")

	past := time.Now().Add(-25 * time.Hour)
	_, err := store.PromoteEntry(ctx, entry.ID, past, past.Add(24*time.Hour))
	require.NoError(t, err)

	expired, err := store.ExpireOffers(ctx, s.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, model.WaitlistExpired, expired[0].Status)
	assert.Nil(t, expired[0].PromotionExpiresAt)

	got, _ := store.GetRegistration(ctx, reg.ID)
	assert.Equal(t, model.RegistrationWaitlisted, got.Status)
	assert.Nil(t, got.ConfirmedAt)

	again, err := store.ExpireOffers(ctx, s.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemoryStore_ExpireOffers_SkipsAccepted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 1)
	_, entry := seedWaitlisted(t, store, s.ID, "u1")

	past := time.Now().Add(-25 * time.Hour)
	_, err := store.PromoteEntry(ctx, entry.ID, past, past.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = store.RespondToOffer(ctx, entry.ID, true, past)
	require.NoError(t, err)

	expired, err := store.ExpireOffers(ctx, s.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestMemoryStore_CreateRegistration_RejectsDuplicateActive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 3)

	first := &model.Registration{ID: uuid.New().String(), SessionID: s.ID, UserID: "u1", Status: model.RegistrationConfirmed, RegisteredAt: time.Now()}
	require.NoError(t, store.CreateRegistration(ctx, first))

	dup := &model.Registration{ID: uuid.New().String(), SessionID: s.ID, UserID: "u1", Status: model.RegistrationPending, RegisteredAt: time.Now()}
	assert.ErrorIs(t, store.CreateRegistration(ctx, dup), ErrAlreadyRegistered)

	_, err := store.TransitionRegistration(ctx, first.ID, model.RegistrationConfirmed, model.RegistrationCancelled, time.Now())
	require.NoError(t, err)
	assert.NoError(t, store.CreateRegistration(ctx, dup))
}

func TestMemoryStore_TransitionRegistration_CompareAndSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 3)
	reg := &model.Registration{ID: uuid.New().String(), SessionID: s.ID, UserID: "u1", Status: model.RegistrationPending, RegisteredAt: time.Now()}
	require.NoError(t, store.CreateRegistration(ctx, reg))

	_, err := store.TransitionRegistration(ctx, reg.ID, model.RegistrationWaitlisted, model.RegistrationConfirmed, time.Now())
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	got, err := store.TransitionRegistration(ctx, reg.ID, model.RegistrationPending, model.RegistrationConfirmed, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, got.ConfirmedAt)

	_, err = store.TransitionRegistration(ctx, "missing", model.RegistrationPending, model.RegistrationConfirmed, time.Now())
	assert.ErrorIs(t, err, ErrRegistrationNotFound)
}

func TestMemoryStore_CancelConfirmed_FreesSeatAndClosesOffer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 1)
	reg, entry := seedWaitlisted(t, store, s.ID, "u1")

	reserved, err := store.TryReserve(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, reserved)
	now := time.Now()
	_, err = store.PromoteEntry(ctx, entry.ID, now, now.Add(time.Hour))
	require.NoError(t, err)

	cancelled, err := store.CancelConfirmed(ctx, reg.ID, now)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	got, _ := store.GetEntry(ctx, entry.ID)
	assert.Equal(t, model.WaitlistDeclined, got.Status)
	assert.Nil(t, got.PromotionExpiresAt)
	session, _ := store.GetSession(ctx, s.ID)
	assert.Equal(t, 0, session.RegisteredCount)

	_, err = store.CancelConfirmed(ctx, reg.ID, now)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	_, err = store.CancelConfirmed(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrRegistrationNotFound)
}

func TestMemoryStore_DeclineAndExpiry_FreeSeats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := seedSession(t, store, 3)
	_, declining := seedWaitlisted(t, store, s.ID, "u1")
	_, lapsing := seedWaitlisted(t, store, s.ID, "u2")
	_, lapsing2 := seedWaitlisted(t, store, s.ID, "u3")

	past := time.Now().Add(-25 * time.Hour)
	for _, e := range []*model.WaitlistEntry{declining, lapsing, lapsing2} {
		reserved, err := store.TryReserve(ctx, s.ID)
		require.NoError(t, err)
		require.True(t, reserved)
		_, err = store.PromoteEntry(ctx, e.ID, past, past.Add(24*time.Hour))
		require.NoError(t, err)
	}

	_, err := store.RespondToOffer(ctx, declining.ID, false, time.Now())
	require.NoError(t, err)
	got, _ := store.GetSession(ctx, s.ID)
	assert.Equal(t, 2, got.RegisteredCount)

	expired, err := store.ExpireOffers(ctx, s.ID, time.Now())
	require.NoError(t, err)
	assert.Len(t, expired, 2)
	got, _ = store.GetSession(ctx, s.ID)
	assert.Equal(t, 0, got.RegisteredCount)

	_, err = store.ExpireOffers(ctx, s.ID, time.Now())
	require.NoError(t, err)
	got, _ = store.GetSession(ctx, s.ID)
	assert.Equal(t, 0, got.RegisteredCount)
}

func TestMemoryStore_ListActiveSessionIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	upcoming := seedSession(t, store, 2)
	require.NoError(t, store.CreateSession(ctx, &model.Session{
		ID:        uuid.New().String(),
		Title:     "Called Off",
		Capacity:  2,
		StartsAt:  time.Now().Add(48 * time.Hour),
		Status:    model.SessionCancelled,
		CreatedAt: time.Now(),
	}))

	ids, err := store.ListActiveSessionIDs(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{upcoming.ID}, ids)

	ids, err = store.ListActiveSessionIDs(ctx, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
