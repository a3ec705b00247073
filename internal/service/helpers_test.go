package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// countingCascader records every cascade request before delegating.
type countingCascader struct {
	mu    sync.Mutex
	calls []int
	next  Cascader
}

func (c *countingCascader) Cascade(ctx context.Context, sessionID string, count int) error {
	c.mu.Lock()
	c.calls = append(c.calls, count)
	c.mu.Unlock()
	return c.next.Cascade(ctx, sessionID, count)
}

func (c *countingCascader) Calls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.calls...)
}

type harness struct {
	store         repository.Store
	mem           *repository.MemoryStore
	clock         *fakeClock
	events        *recorder
	cascades      *countingCascader
	sessions      *SessionService
	registrations *RegistrationService
	queue         *WaitlistQueue
	engine        *PromotionEngine
	sweeper       *ExpirySweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := repository.NewMemoryStore()
	return newHarnessWithStore(t, mem, mem, nil)
}

func newHarnessWithStore(t *testing.T, store repository.Store, mem *repository.MemoryStore, locker Locker) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		mem:      mem,
		clock:    &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		events:   &recorder{},
		cascades: &countingCascader{},
	}
	opts := Options{
		Publisher: h.events,
		Logger:    logger.NewNop(),
		Now:       h.clock.Now,
		Cascader:  h.cascades,
		Locker:    locker,
	}
	h.engine = NewPromotionEngine(store, opts)
	h.cascades.next = NewInlineCascader(h.engine)
	h.sessions = NewSessionService(store, opts)
	h.queue = NewWaitlistQueue(store, opts)
	h.registrations = NewRegistrationService(store, h.queue, h.engine, opts)
	h.sweeper = NewExpirySweeper(store, h.engine, opts)
	return h
}

func (h *harness) newSession(t *testing.T, capacity int) *model.Session {
	t.Helper()
	s, err := h.sessions.Create(context.Background(), model.CreateSessionRequest{
		Title:    "Distributed Systems Office Hours",
		Capacity: capacity,
		StartsAt: h.clock.Now().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return s
}

func (h *harness) register(t *testing.T, sessionID, userID string) *model.Registration {
	t.Helper()
	reg, err := h.registrations.Register(context.Background(), sessionID, userID)
	require.NoError(t, err)
	return reg
}

func (h *harness) registration(t *testing.T, id string) *model.Registration {
	t.Helper()
	reg, err := h.store.GetRegistration(context.Background(), id)
	require.NoError(t, err)
	return reg
}

func (h *harness) entryFor(t *testing.T, registrationID string) *model.WaitlistEntry {
	t.Helper()
	entry, err := h.store.GetEntryByRegistration(context.Background(), registrationID)
	require.NoError(t, err)
	return entry
}

func (h *harness) session(t *testing.T, id string) *model.Session {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) waitingPositions(t *testing.T, sessionID string) []int {
	t.Helper()
	entries, err := h.store.PeekNext(context.Background(), sessionID, 1<<20)
	require.NoError(t, err)
	positions := make([]int, len(entries))
	for i, e := range entries {
		positions[i] = e.Position
	}
	return positions
}

// flakyStore injects failures into selected waitlist writes.
type flakyStore struct {
	*repository.MemoryStore

	mu               sync.Mutex
	promoteErr       map[string]error
	promoteConflicts map[string]int
	respondConflicts int
	promoteCalls     int
	releaseErr       error
	releaseCalls     int
	cancelFailures   int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryStore:      repository.NewMemoryStore(),
		promoteErr:       make(map[string]error),
		promoteConflicts: make(map[string]int),
	}
}

func (f *flakyStore) PromoteEntry(ctx context.Context, entryID string, at, expiresAt time.Time) (*model.WaitlistEntry, error) {
	f.mu.Lock()
	f.promoteCalls++
	if f.promoteConflicts[entryID] > 0 {
		f.promoteConflicts[entryID]--
		f.mu.Unlock()
		return nil, repository.ErrConcurrencyConflict
	}
	err := f.promoteErr[entryID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryStore.PromoteEntry(ctx, entryID, at, expiresAt)
}

func (f *flakyStore) RespondToOffer(ctx context.Context, entryID string, accepted bool, at time.Time) (*model.WaitlistEntry, error) {
	f.mu.Lock()
	if f.respondConflicts > 0 {
		f.respondConflicts--
		f.mu.Unlock()
		return nil, repository.ErrConcurrencyConflict
	}
	f.mu.Unlock()
	return f.MemoryStore.RespondToOffer(ctx, entryID, accepted, at)
}

func (f *flakyStore) Release(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.releaseCalls++
	err := f.releaseErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.Release(ctx, sessionID)
}

func (f *flakyStore) CancelConfirmed(ctx context.Context, registrationID string, at time.Time) (*model.Registration, error) {
	f.mu.Lock()
	if f.cancelFailures > 0 {
		f.cancelFailures--
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: cancel confirmed: connection reset", repository.ErrPersistence)
	}
	f.mu.Unlock()
	return f.MemoryStore.CancelConfirmed(ctx, registrationID, at)
}

// stubLocker grants or refuses every lock.
type stubLocker struct {
	mu       sync.Mutex
	grant    bool
	acquired []string
	released []string
}

func (l *stubLocker) Acquire(_ context.Context, key string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.grant {
		return "", false, nil
	}
	l.acquired = append(l.acquired, key)
	return "token-" + key, true, nil
}

func (l *stubLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, key)
	return nil
}
