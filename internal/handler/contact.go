package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/service"
)

type ContactHandler struct {
	previews *service.PreviewService
	contacts *service.ContactService
	userType model.UserType
}

func NewContactHandler(previews *service.PreviewService, contacts *service.ContactService, userType model.UserType) *ContactHandler {
	return &ContactHandler{
		previews: previews,
		contacts: contacts,
		userType: userType,
	}
}

// ProjectRoutes is mounted under /projects.
func (h *ContactHandler) ProjectRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{projectId}/cost-preview", h.CostPreview)
	r.Post("/{projectId}/contact", h.Confirm)

	return r
}

type confirmRequest struct {
	ContactType    string `json:"contactType"`
	ContactDetails string `json:"contactDetails"`
}

// GET /projects/{projectId}/cost-preview
func (h *ContactHandler) CostPreview(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	preview, err := h.previews.PreviewAndResolve(r.Context(), projectID, h.userType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

// POST /projects/{projectId}/contact
//
// A press inside the confirm window answers 202 with skipped=true; nothing
// was sent and nothing was charged.
func (h *ContactHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")

	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ContactType) == "" {
		writeError(w, apperrors.MissingRequired("contactType"))
		return
	}

	result, err := h.contacts.Confirm(r.Context(), projectID, model.CreateContactParams{
		ContactType:    req.ContactType,
		ContactDetails: req.ContactDetails,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	switch {
	case result.Skipped:
		log.Debug().Str("projectId", projectID).Msg("confirm press skipped")
		writeJSON(w, http.StatusAccepted, result)
	case result.AlreadyExisted:
		writeJSON(w, http.StatusOK, result)
	default:
		writeJSON(w, http.StatusCreated, result)
	}
}

// GET /contacts/history
func (h *ContactHandler) History(w http.ResponseWriter, r *http.Request) {
	userType := h.userType
	if q := r.URL.Query().Get("userType"); q != "" {
		switch model.UserType(q) {
		case model.UserTypeClient, model.UserTypeProfessional:
			userType = model.UserType(q)
		default:
			writeError(w, apperrors.ValidationError("userType must be client or professional"))
			return
		}
	}

	contacts, err := h.contacts.History(r.Context(), userType)
	if err != nil {
		writeError(w, err)
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

// GET /credits/balance
func (h *ContactHandler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.contacts.Balance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{Balance: balance})
}
