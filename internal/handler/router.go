package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bidlink/marketplace-core/internal/chat"
	"github.com/bidlink/marketplace-core/internal/config"
	"github.com/bidlink/marketplace-core/internal/live"
	"github.com/bidlink/marketplace-core/internal/middleware"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/service"
	"github.com/bidlink/marketplace-core/internal/session"
)

// Deps are the core components the bridge exposes.
type Deps struct {
	Session     *session.Manager
	Previews    *service.PreviewService
	Contacts    *service.ContactService
	Chats       *chat.Registry
	Hub         *live.Hub
	UserType    model.UserType
	BridgeToken string
}

// Bridge is the local HTTP surface of the client core.
type Bridge struct {
	router        chi.Router
	conversations *ConversationHandler
}

func NewBridge(d Deps) *Bridge {
	events := NewEventStream(d.Hub)
	sessionHandler := NewSessionHandler(d.Session, events)
	contactHandler := NewContactHandler(d.Previews, d.Contacts, d.UserType)
	conversationHandler := NewConversationHandler(d.Chats, d.Hub, events)

	authMiddleware := middleware.NewBridgeAuthMiddleware(d.BridgeToken)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"session":   d.Session.State(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		// streams are long-lived and stay outside the request timeout
		r.Get("/session/events", sessionHandler.Events)
		r.Get("/conversations/{contactId}/events", conversationHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.Mount("/session", sessionHandler.Routes())
			r.Mount("/projects", contactHandler.ProjectRoutes())
			r.Get("/contacts/history", contactHandler.History)
			r.Get("/credits/balance", contactHandler.Balance)
			r.Mount("/conversations", conversationHandler.Routes())
		})
	})

	return &Bridge{router: r, conversations: conversationHandler}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// Wait blocks until every conversation forwarder has stopped. Call it after
// the registry has closed its engines.
func (b *Bridge) Wait() {
	b.conversations.Wait()
}
