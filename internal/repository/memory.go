package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
)

// MemoryStore is an in-process Store. A single mutex serializes every
// mutation, which gives the same per-session guarantees the Postgres row
// locks give (and then some). Values are copied in and out.
type MemoryStore struct {
	mu            sync.Mutex
	sessions      map[string]*model.Session
	registrations map[string]*model.Registration
	entries       map[string]*model.WaitlistEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]*model.Session),
		registrations: make(map[string]*model.Registration),
		entries:       make(map[string]*model.WaitlistEntry),
	}
}

func copySession(s *model.Session) *model.Session {
	c := *s
	return &c
}

func copyRegistration(r *model.Registration) *model.Registration {
	c := *r
	return &c
}

func copyEntry(e *model.WaitlistEntry) *model.WaitlistEntry {
	c := *e
	if e.AcceptedPromotion != nil {
		v := *e.AcceptedPromotion
		c.AcceptedPromotion = &v
	}
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }

// ─── SessionStore ─────────────────────────────────────────────────────────────

func (m *MemoryStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b model.Session) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, nil
}

func (m *MemoryStore) ListActiveSessionIDs(ctx context.Context, now time.Time) ([]string, error) {
	sessions, err := m.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range sessions {
		if s.Status == model.SessionScheduled && s.StartsAt.After(now) {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) TryReserve(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.RegisteredCount >= s.Capacity {
		return false, nil
	}
	s.RegisteredCount++
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	m.releaseLocked(sessionID, 1)
	return nil
}

// releaseLocked gives n seats back, never below zero. Caller holds mu.
func (m *MemoryStore) releaseLocked(sessionID string, n int) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.RegisteredCount = max(s.RegisteredCount-n, 0)
}

// ─── RegistrationStore ────────────────────────────────────────────────────────

func (m *MemoryStore) CreateRegistration(_ context.Context, r *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[r.SessionID]; !ok {
		return ErrSessionNotFound
	}
	if r.Status.Active() {
		for _, existing := range m.registrations {
			if existing.SessionID == r.SessionID && existing.UserID == r.UserID && existing.Status.Active() {
				return ErrAlreadyRegistered
			}
		}
	}
	m.registrations[r.ID] = copyRegistration(r)
	return nil
}

func (m *MemoryStore) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	return copyRegistration(r), nil
}

func (m *MemoryStore) ListRegistrations(_ context.Context, sessionID string) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Registration
	for _, r := range m.registrations {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b model.Registration) int { return a.RegisteredAt.Compare(b.RegisteredAt) })
	return out, nil
}

func (m *MemoryStore) TransitionRegistration(_ context.Context, id string, from, to model.RegistrationStatus, at time.Time) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	if !m.transitionLocked(r, from, to, at) {
		return nil, ErrConcurrencyConflict
	}
	return copyRegistration(r), nil
}

// transitionLocked mirrors the Postgres CASE expressions. Caller holds mu.
func (m *MemoryStore) transitionLocked(r *model.Registration, from, to model.RegistrationStatus, at time.Time) bool {
	if r.Status != from {
		return false
	}
	r.Status = to
	switch to {
	case model.RegistrationConfirmed:
		r.ConfirmedAt = timePtr(at)
	case model.RegistrationWaitlisted, model.RegistrationPending:
		r.ConfirmedAt = nil
	case model.RegistrationCancelled:
		r.CancelledAt = timePtr(at)
	}
	return true
}

// ─── WaitlistStore ────────────────────────────────────────────────────────────

// waitingLocked returns the session's waiting entries by position. Caller holds mu.
func (m *MemoryStore) waitingLocked(sessionID string) []*model.WaitlistEntry {
	var out []*model.WaitlistEntry
	for _, e := range m.entries {
		if e.SessionID == sessionID && e.Status == model.WaitlistWaiting {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *model.WaitlistEntry) int { return cmp.Compare(a.Position, b.Position) })
	return out
}

// closeGapLocked mirrors closeGap. Caller holds mu.
func (m *MemoryStore) closeGapLocked(sessionID string, position int) {
	for _, e := range m.waitingLocked(sessionID) {
		if e.Position > position {
			e.Position--
		}
	}
	if s, ok := m.sessions[sessionID]; ok && s.WaitlistCount > 0 {
		s.WaitlistCount--
	}
}

func (m *MemoryStore) Enqueue(_ context.Context, sessionID, registrationID string, at time.Time) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if _, ok := m.registrations[registrationID]; !ok {
		return nil, ErrRegistrationNotFound
	}

	e := &model.WaitlistEntry{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		RegistrationID: registrationID,
		Position:       len(m.waitingLocked(sessionID)) + 1,
		Status:         model.WaitlistWaiting,
		CreatedAt:      at,
	}
	m.entries[e.ID] = e
	s.WaitlistCount++
	return copyEntry(e), nil
}

func (m *MemoryStore) Withdraw(_ context.Context, entryID string, at time.Time) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	if e.Status != model.WaitlistWaiting {
		return nil, ErrNotWaiting
	}
	r, ok := m.registrations[e.RegistrationID]
	if !ok || r.Status != model.RegistrationWaitlisted {
		return nil, ErrConcurrencyConflict
	}

	delete(m.entries, entryID)
	m.closeGapLocked(e.SessionID, e.Position)
	m.transitionLocked(r, model.RegistrationWaitlisted, model.RegistrationCancelled, at)
	return copyEntry(e), nil
}

func (m *MemoryStore) PeekNext(_ context.Context, sessionID string, count int) ([]model.WaitlistEntry, error) {
	if count <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	waiting := m.waitingLocked(sessionID)
	if len(waiting) > count {
		waiting = waiting[:count]
	}
	out := make([]model.WaitlistEntry, len(waiting))
	for i, e := range waiting {
		out[i] = *copyEntry(e)
	}
	return out, nil
}

func (m *MemoryStore) GetEntry(_ context.Context, id string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) GetEntryByRegistration(_ context.Context, registrationID string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.RegistrationID == registrationID {
			return copyEntry(e), nil
		}
	}
	return nil, ErrWaitlistEntryNotFound
}

func (m *MemoryStore) ListEntries(_ context.Context, sessionID string) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WaitlistEntry
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, *copyEntry(e))
		}
	}
	slices.SortFunc(out, func(a, b model.WaitlistEntry) int {
		aw, bw := a.Status == model.WaitlistWaiting, b.Status == model.WaitlistWaiting
		if aw != bw {
			if aw {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) PromoteEntry(_ context.Context, entryID string, at, expiresAt time.Time) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	if e.Status != model.WaitlistWaiting {
		return nil, ErrConcurrencyConflict
	}
	r, ok := m.registrations[e.RegistrationID]
	if !ok || r.Status != model.RegistrationWaitlisted {
		return nil, ErrConcurrencyConflict
	}

	e.Status = model.WaitlistPromoted
	e.PromotedAt = timePtr(at)
	e.PromotionExpiresAt = timePtr(expiresAt)
	e.Notified = true
	m.closeGapLocked(e.SessionID, e.Position)
	m.transitionLocked(r, model.RegistrationWaitlisted, model.RegistrationConfirmed, at)
	return copyEntry(e), nil
}

func (m *MemoryStore) RespondToOffer(_ context.Context, entryID string, accepted bool, at time.Time) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	if e.Responded() {
		return nil, ErrAlreadyResponded
	}
	if e.Status != model.WaitlistPromoted {
		return nil, ErrNotPromoted
	}

	if accepted {
		e.AcceptedPromotion = &accepted
		e.RespondedAt = timePtr(at)
		return copyEntry(e), nil
	}

	r, ok := m.registrations[e.RegistrationID]
	if !ok || r.Status != model.RegistrationConfirmed {
		return nil, ErrConcurrencyConflict
	}
	e.Status = model.WaitlistDeclined
	e.AcceptedPromotion = &accepted
	e.RespondedAt = timePtr(at)
	e.PromotionExpiresAt = nil
	m.transitionLocked(r, model.RegistrationConfirmed, model.RegistrationWaitlisted, at)
	m.releaseLocked(e.SessionID, 1)
	return copyEntry(e), nil
}

func (m *MemoryStore) CancelConfirmed(_ context.Context, registrationID string, at time.Time) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[registrationID]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	if r.Status != model.RegistrationConfirmed {
		return nil, ErrConcurrencyConflict
	}

	for _, e := range m.entries {
		if e.RegistrationID == registrationID && e.OfferOpen() {
			declined := false
			e.Status = model.WaitlistDeclined
			e.AcceptedPromotion = &declined
			e.RespondedAt = timePtr(at)
			e.PromotionExpiresAt = nil
		}
	}
	m.transitionLocked(r, model.RegistrationConfirmed, model.RegistrationCancelled, at)
	m.releaseLocked(r.SessionID, 1)
	return copyRegistration(r), nil
}

func (m *MemoryStore) ExpireOffers(_ context.Context, sessionID string, now time.Time) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []model.WaitlistEntry
	for _, e := range m.entries {
		if e.SessionID != sessionID || !e.OfferOpen() || !e.PromotionExpiresAt.Before(now) {
			continue
		}
		e.Status = model.WaitlistExpired
		e.PromotionExpiresAt = nil
		if r, ok := m.registrations[e.RegistrationID]; ok {
			m.transitionLocked(r, model.RegistrationConfirmed, model.RegistrationWaitlisted, now)
		}
		expired = append(expired, *copyEntry(e))
	}
	m.releaseLocked(sessionID, len(expired))
	sortByOffer(expired)
	return expired, nil
}
