package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/service"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type apiFixture struct {
	server *httptest.Server
	clock  *testClock
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIWithStore(t, repository.NewMemoryStore())
}

func newAPIWithStore(t *testing.T, store repository.Store) *apiFixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	opts := service.Options{Logger: logger.NewNop(), Now: clock.Now}

	engine := service.NewPromotionEngine(store, opts)
	queue := service.NewWaitlistQueue(store, opts)
	h := New(Services{
		Sessions:      service.NewSessionService(store, opts),
		Registrations: service.NewRegistrationService(store, queue, engine, opts),
		Queue:         queue,
		Engine:        engine,
		Sweeper:       service.NewExpirySweeper(store, engine, opts),
	}, logger.NewNop())

	srv := httptest.NewServer(NewRouter(h, logger.NewNop()))
	t.Cleanup(srv.Close)
	return &apiFixture{server: srv, clock: clock}
}

func (a *apiFixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *apiFixture) createSession(t *testing.T, capacity int) model.Session {
	t.Helper()
	var s model.Session
	status := a.do(t, http.MethodPost, "/sessions", model.CreateSessionRequest{
		Title:    "Testing in Go",
		Capacity: capacity,
		StartsAt: a.clock.Now().Add(72 * time.Hour),
	}, &s)
	require.Equal(t, http.StatusCreated, status)
	return s
}

func (a *apiFixture) register(t *testing.T, sessionID, userID string) model.RegistrationResponse {
	t.Helper()
	var resp model.RegistrationResponse
	status := a.do(t, http.MethodPost, "/sessions/"+sessionID+"/register", model.RegisterRequest{UserID: userID}, &resp)
	require.Equal(t, http.StatusCreated, status)
	return resp
}

func (a *apiFixture) waitlist(t *testing.T, sessionID string) []model.WaitlistEntry {
	t.Helper()
	var entries []model.WaitlistEntry
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/sessions/"+sessionID+"/waitlist", nil, &entries))
	return entries
}

func entryFor(entries []model.WaitlistEntry, registrationID string) *model.WaitlistEntry {
	for i := range entries {
		if entries[i].RegistrationID == registrationID {
			return &entries[i]
		}
	}
	return nil
}

func TestAPI_SessionLifecycle(t *testing.T) {
	api := newAPI(t)

	var empty []model.Session
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/sessions", nil, &empty))
	assert.Empty(t, empty)

	s := api.createSession(t, 3)

	var got model.Session
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/sessions/"+s.ID, nil, &got))
	assert.Equal(t, 3, got.Capacity)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/sessions/nope", nil, nil))
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/sessions", model.CreateSessionRequest{Title: "x"}, nil))
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/sessions", map[string]any{"bogus": 1}, nil))
}

func TestAPI_RegisterWaitlistAndPromotion(t *testing.T) {
	api := newAPI(t)
	s := api.createSession(t, 1)

	u1 := api.register(t, s.ID, "u1")
	assert.Equal(t, model.RegistrationConfirmed, u1.Status)
	assert.Nil(t, u1.WaitlistPosition)

	u2 := api.register(t, s.ID, "u2")
	assert.Equal(t, model.RegistrationWaitlisted, u2.Status)
	require.NotNil(t, u2.WaitlistPosition)
	assert.Equal(t, 1, *u2.WaitlistPosition)

	assert.Equal(t, http.StatusConflict,
		api.do(t, http.MethodPost, "/sessions/"+s.ID+"/register", model.RegisterRequest{UserID: "u1"}, nil))
	assert.Equal(t, http.StatusBadRequest,
		api.do(t, http.MethodPost, "/sessions/"+s.ID+"/register", model.RegisterRequest{}, nil))
	assert.Equal(t, http.StatusNotFound,
		api.do(t, http.MethodPost, "/sessions/nope/register", model.RegisterRequest{UserID: "u9"}, nil))

	var pos model.WaitlistPositionResponse
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/registrations/"+u2.ID+"/waitlist-position", nil, &pos))
	require.NotNil(t, pos.Position)
	assert.Equal(t, 1, *pos.Position)

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/registrations/"+u1.ID, nil, nil))

	entry := entryFor(api.waitlist(t, s.ID), u2.ID)
	require.NotNil(t, entry)
	assert.Equal(t, model.WaitlistPromoted, entry.Status)

	var accepted model.WaitlistEntry
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/waitlist/"+entry.ID+"/accept", nil, &accepted))
	require.NotNil(t, accepted.AcceptedPromotion)
	assert.True(t, *accepted.AcceptedPromotion)

	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost, "/waitlist/"+entry.ID+"/decline", nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/waitlist/nope/accept", nil, nil))

	var regs []model.Registration
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/sessions/"+s.ID+"/registrations", nil, &regs))
	assert.Len(t, regs, 2)
}

func TestAPI_DeclineCascades(t *testing.T) {
	api := newAPI(t)
	s := api.createSession(t, 1)
	u1 := api.register(t, s.ID, "u1")
	u2 := api.register(t, s.ID, "u2")
	u3 := api.register(t, s.ID, "u3")

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/registrations/"+u1.ID, nil, nil))
	offer := entryFor(api.waitlist(t, s.ID), u2.ID)
	require.NotNil(t, offer)

	var declined model.WaitlistEntry
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/waitlist/"+offer.ID+"/decline", nil, &declined))
	assert.Equal(t, model.WaitlistDeclined, declined.Status)

	next := entryFor(api.waitlist(t, s.ID), u3.ID)
	require.NotNil(t, next)
	assert.Equal(t, model.WaitlistPromoted, next.Status)

	var reg model.Registration
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/registrations/"+u2.ID, nil, &reg))
	assert.Equal(t, model.RegistrationWaitlisted, reg.Status)
}

func TestAPI_WithdrawAndSweep(t *testing.T) {
	api := newAPI(t)
	s := api.createSession(t, 1)
	u1 := api.register(t, s.ID, "u1")
	u2 := api.register(t, s.ID, "u2")
	u3 := api.register(t, s.ID, "u3")
	u4 := api.register(t, s.ID, "u4")

	withdrawn := entryFor(api.waitlist(t, s.ID), u3.ID)
	require.NotNil(t, withdrawn)
	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/waitlist/"+withdrawn.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodDelete, "/waitlist/"+withdrawn.ID, nil, nil))

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/registrations/"+u1.ID, nil, nil))
	api.clock.Advance(service.DefaultOfferTTL + time.Minute)

	var sweep model.SweepResponse
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/sessions/"+s.ID+"/sweep", nil, &sweep))
	assert.Equal(t, 1, sweep.Expired)

	entries := api.waitlist(t, s.ID)
	assert.Equal(t, model.WaitlistExpired, entryFor(entries, u2.ID).Status)
	assert.Equal(t, model.WaitlistPromoted, entryFor(entries, u4.ID).Status)

	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, "/sessions/nope/sweep", nil, nil))
}

// Ids are UUIDs in Postgres. A malformed one is answered as not found before
// any query runs, which the nil pool below would otherwise turn into a panic.
func TestAPI_MalformedIDsAreNotFound(t *testing.T) {
	api := newAPIWithStore(t, repository.NewPostgresStore(nil))

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/sessions/not-a-uuid"},
		{http.MethodGet, "/sessions/not-a-uuid/registrations"},
		{http.MethodGet, "/registrations/not-a-uuid"},
		{http.MethodDelete, "/registrations/not-a-uuid"},
		{http.MethodGet, "/registrations/not-a-uuid/waitlist-position"},
		{http.MethodPost, "/waitlist/not-a-uuid/accept"},
		{http.MethodPost, "/waitlist/not-a-uuid/decline"},
		{http.MethodDelete, "/waitlist/not-a-uuid"},
	} {
		assert.Equal(t, http.StatusNotFound, api.do(t, tc.method, tc.path, nil, nil), "%s %s", tc.method, tc.path)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := newAPI(t)

	var health map[string]string
	require.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", nil, &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(api.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
