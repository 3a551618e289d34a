package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/live"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/session"
)

type SessionHandler struct {
	manager *session.Manager
	events  *EventStream
}

func NewSessionHandler(manager *session.Manager, events *EventStream) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		events:  events,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetSession)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// view never carries the token; the rendering layer only needs the state.
func (h *SessionHandler) view() model.Session {
	snap := h.manager.Store().Snapshot()
	snap.State = h.manager.State()
	return snap
}

// GET /session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view())
}

// POST /session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, apperrors.MissingRequired("email"))
		return
	}
	if req.Password == "" {
		writeError(w, apperrors.MissingRequired("password"))
		return
	}

	if err := h.manager.Login(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view())
}

// POST /session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}

// GET /session/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	h.events.Serve(w, r, live.SessionKey, "session", h.view())
}
