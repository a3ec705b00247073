// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/service"
)

// Handler holds all HTTP handlers for the session waitlist API.
type Handler struct {
	sessions      *service.SessionService
	registrations *service.RegistrationService
	queue         *service.WaitlistQueue
	engine        *service.PromotionEngine
	sweeper       *service.ExpirySweeper
	log           *logger.Logger
}

// Services bundles the handler's dependencies.
type Services struct {
	Sessions      *service.SessionService
	Registrations *service.RegistrationService
	Queue         *service.WaitlistQueue
	Engine        *service.PromotionEngine
	Sweeper       *service.ExpirySweeper
}

// New constructs a Handler.
func New(svc Services, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Get()
	}
	return &Handler{
		sessions:      svc.Sessions,
		registrations: svc.Registrations,
		queue:         svc.Queue,
		engine:        svc.Engine,
		sweeper:       svc.Sweeper,
		log:           log,
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, repository.ErrRegistrationNotFound):
		writeError(w, http.StatusNotFound, "registration not found")
	case errors.Is(err, repository.ErrWaitlistEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist entry not found")
	case errors.Is(err, repository.ErrSessionClosed),
		errors.Is(err, repository.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "registration unavailable")
	case errors.Is(err, repository.ErrNotPromoted),
		errors.Is(err, repository.ErrAlreadyResponded),
		errors.Is(err, repository.ErrNotWaiting):
		writeError(w, http.StatusConflict, "offer no longer valid")
	case errors.Is(err, repository.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "you are already registered for this session")
	case errors.Is(err, repository.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "concurrent update, please retry")
	default:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	session, err := h.sessions.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// Return an empty array rather than null for better client compatibility.
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Register handles POST /sessions/{id}/register
// Confirms the registration if a seat is free, otherwise queues it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reg, err := h.registrations.Register(r.Context(), id, req.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := model.RegistrationResponse{Registration: reg}
	if reg.Status == model.RegistrationWaitlisted {
		if pos, err := h.registrations.GetWaitlistPosition(r.Context(), reg.ID); err == nil {
			resp.WaitlistPosition = pos
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListRegistrations handles GET /sessions/{id}/registrations
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.registrations.ListBySession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// GetRegistration handles GET /registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registrations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// CancelRegistration handles DELETE /registrations/{id}
func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	if err := h.registrations.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWaitlistPosition handles GET /registrations/{id}/waitlist-position
func (h *Handler) GetWaitlistPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pos, err := h.registrations.GetWaitlistPosition(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.WaitlistPositionResponse{RegistrationID: id, Position: pos})
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// ListWaitlist handles GET /sessions/{id}/waitlist
func (h *Handler) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AcceptPromotion handles POST /waitlist/{id}/accept
func (h *Handler) AcceptPromotion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Accept(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeEntry(w, r, id)
}

// DeclinePromotion handles POST /waitlist/{id}/decline
func (h *Handler) DeclinePromotion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Decline(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeEntry(w, r, id)
}

func (h *Handler) writeEntry(w http.ResponseWriter, r *http.Request, id string) {
	entry, err := h.queue.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// WithdrawEntry handles DELETE /waitlist/{id}
func (h *Handler) WithdrawEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Withdraw(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep handles POST /sessions/{id}/sweep
// Expires the session's overdue offers right away instead of waiting for
// the scheduler.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sessions.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	n, err := h.sweeper.Sweep(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.SweepResponse{SessionID: id, Expired: n})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
