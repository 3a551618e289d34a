package handler

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/chat"
	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/live"
)

type ConversationHandler struct {
	registry *chat.Registry
	hub      *live.Hub
	events   *EventStream

	mu         sync.Mutex
	forwarding map[*chat.Engine]struct{}
	wg         sync.WaitGroup
}

func NewConversationHandler(registry *chat.Registry, hub *live.Hub, events *EventStream) *ConversationHandler {
	return &ConversationHandler{
		registry:   registry,
		hub:        hub,
		events:     events,
		forwarding: make(map[*chat.Engine]struct{}),
	}
}

func (h *ConversationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/{contactId}/open", h.Open)
	r.Delete("/{contactId}", h.Close)
	r.Get("/{contactId}/messages", h.Messages)
	r.Post("/{contactId}/messages", h.Send)

	return r
}

type sendRequest struct {
	Content string `json:"content"`
}

// POST /conversations/{contactId}/open
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactId")

	eng, err := h.registry.Open(r.Context(), contactID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.forward(eng)

	writeJSON(w, http.StatusOK, eng.Snapshot())
}

// DELETE /conversations/{contactId}
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "contactId")

	if !h.registry.Close(contactID) {
		writeError(w, apperrors.NotFound("Conversation"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /conversations/{contactId}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eng.Snapshot())
}

// POST /conversations/{contactId}/messages
//
// A failed send answers with the content to put back into the composer.
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := eng.Send(r.Context(), req.Content)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && result.RestoredContent != "" {
			err = appErr.WithDetails(map[string]string{"restoredContent": result.RestoredContent})
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /conversations/{contactId}/events
func (h *ConversationHandler) Events(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	h.events.Serve(w, r, live.ConversationKey(eng.ContactID()), "snapshot", eng.Snapshot())
}

func (h *ConversationHandler) engine(w http.ResponseWriter, r *http.Request) (*chat.Engine, bool) {
	eng, ok := h.registry.Get(chi.URLParam(r, "contactId"))
	if !ok {
		writeError(w, apperrors.NotFound("Conversation"))
		return nil, false
	}
	return eng, true
}

// forward publishes every snapshot of eng to the hub until the engine closes,
// then ends the conversation's streams.
func (h *ConversationHandler) forward(eng *chat.Engine) {
	h.mu.Lock()
	if _, ok := h.forwarding[eng]; ok {
		h.mu.Unlock()
		return
	}
	h.forwarding[eng] = struct{}{}
	h.mu.Unlock()

	snapshots, _ := eng.Subscribe()
	key := live.ConversationKey(eng.ContactID())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		for snap := range snapshots {
			if err := h.hub.Publish(key, "snapshot", snap); err != nil {
				log.Error().Err(err).Str("contactId", eng.ContactID()).Msg("failed to publish snapshot")
			}
		}

		h.hub.Publish(key, "closed", map[string]string{"contactId": eng.ContactID()})
		h.hub.Disconnect(key)

		h.mu.Lock()
		delete(h.forwarding, eng)
		h.mu.Unlock()
	}()
}

// Wait blocks until every forwarder has finished. Forwarders finish when
// their engine closes.
func (h *ConversationHandler) Wait() {
	h.wg.Wait()
}
