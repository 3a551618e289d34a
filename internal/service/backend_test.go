package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/bidlink/marketplace-core/internal/credential"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/session"
)

// fakeMarketplace is an in-memory backend for the contact and chat endpoints.
type fakeMarketplace struct {
	mu        sync.Mutex
	balance   int
	cost      int
	contacts  map[string]model.Contact // by project id
	messages  map[string][]model.Message
	nextID    int
	postDelay time.Duration

	contactPosts atomic.Int32
	messagePosts atomic.Int32
	failMessages atomic.Bool
}

func newFakeMarketplace(balance, cost int) *fakeMarketplace {
	return &fakeMarketplace{
		balance:  balance,
		cost:     cost,
		contacts: make(map[string]model.Contact),
		messages: make(map[string][]model.Message),
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (f *fakeMarketplace) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/credits/balance", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		respond(w, http.StatusOK, model.Balance{Balance: f.balance})
	})

	r.Get("/contacts/history", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := make([]model.Contact, 0, len(f.contacts))
		for _, c := range f.contacts {
			list = append(list, c)
		}
		respond(w, http.StatusOK, list)
	})

	r.Get("/contacts/{projectId}/cost-preview", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		projectID := chi.URLParam(r, "projectId")
		preview := model.CostPreview{
			CreditsCost:    f.cost,
			CurrentBalance: f.balance,
			CanAfford:      f.balance >= f.cost,
			Reason:         model.PreviewReasonNewProject,
		}
		if _, ok := f.contacts[projectID]; ok {
			preview.Reason = model.PreviewReasonContactExists
		}
		respond(w, http.StatusOK, preview)
	})

	r.Post("/contacts/{projectId}", func(w http.ResponseWriter, r *http.Request) {
		f.contactPosts.Add(1)
		time.Sleep(f.postDelay)

		f.mu.Lock()
		defer f.mu.Unlock()
		projectID := chi.URLParam(r, "projectId")
		if _, ok := f.contacts[projectID]; ok {
			respond(w, http.StatusBadRequest, map[string]string{"detail": "Contact already exists for this project"})
			return
		}
		if f.balance < f.cost {
			respond(w, http.StatusBadRequest, map[string]string{"detail": "Insufficient credits"})
			return
		}
		f.balance -= f.cost
		f.nextID++
		contact := model.Contact{
			ID:          fmt.Sprintf("c-%d", f.nextID),
			ProjectID:   projectID,
			Status:      model.ContactStatusPending,
			CreditsUsed: f.cost,
		}
		f.contacts[projectID] = contact
		respond(w, http.StatusOK, contact)
	})

	r.Get("/contacts/{contactId}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := chi.URLParam(r, "contactId")
		for _, c := range f.contacts {
			if c.ID == id {
				c.Chat = f.messages[id]
				respond(w, http.StatusOK, c)
				return
			}
		}
		respond(w, http.StatusNotFound, map[string]string{"detail": "Contact not found"})
	})

	r.Post("/contacts/{contactId}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.messagePosts.Add(1)
		if f.failMessages.Load() {
			respond(w, http.StatusServiceUnavailable, map[string]string{"detail": "down"})
			return
		}
		var body model.SendMessageRequest
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		id := chi.URLParam(r, "contactId")
		f.nextID++
		msg := model.Message{ID: fmt.Sprintf("m-%d", f.nextID), SenderID: "user-1", Content: body.Content, CreatedAt: time.Now()}
		f.messages[id] = append(f.messages[id], msg)
		respond(w, http.StatusOK, model.SendMessageResponse{Message: "sent", MessageID: msg.ID})
	})

	return r
}

func (f *fakeMarketplace) Balance() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

func newBackendManager(t *testing.T, handler http.Handler) *session.Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := credential.NewStore(nil, nil)
	require.NoError(t, store.Set(context.Background(), "token", "user-1"))

	return session.NewManager(store, session.Options{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Retry:   session.NoRetry(),
	})
}
