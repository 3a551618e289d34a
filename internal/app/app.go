// Package app assembles the client core from configuration. Both binaries
// build on it.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/chat"
	"github.com/bidlink/marketplace-core/internal/config"
	"github.com/bidlink/marketplace-core/internal/credential"
	"github.com/bidlink/marketplace-core/internal/guard"
	"github.com/bidlink/marketplace-core/internal/jobs"
	"github.com/bidlink/marketplace-core/internal/live"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/repository"
	"github.com/bidlink/marketplace-core/internal/service"
	"github.com/bidlink/marketplace-core/internal/session"
	"github.com/bidlink/marketplace-core/internal/util"
)

type App struct {
	Config        *config.Config
	Store         *credential.Store
	Session       *session.Manager
	Guard         *guard.Guard
	Previews      *service.PreviewService
	Contacts      *service.ContactService
	Conversations *service.ConversationService
	Chats         *chat.Registry
	Hub           *live.Hub

	storage     io.Closer
	sweeper     *jobs.SweepJob
	unsubscribe func()
}

// New opens the credential mirror, restores the session and wires the
// services. Close releases everything New acquired.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	storeCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
	defer cancel()

	repo, closer, err := repository.OpenStorage(storeCtx, cfg.CredentialStoreURL)
	if err != nil {
		return nil, fmt.Errorf("open credential storage: %w", err)
	}

	var sealer *util.Sealer
	if cfg.EncryptionKey != "" {
		if sealer, err = util.NewSealer(cfg.EncryptionKey); err != nil {
			closer.Close()
			return nil, fmt.Errorf("create sealer: %w", err)
		}
	}

	store := credential.NewStore(repo, sealer)
	if err := store.Restore(storeCtx); err != nil {
		log.Warn().Err(err).Msg("failed to restore session, starting unauthenticated")
	}

	manager := session.NewManager(store, session.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout(),
	})

	userType := model.UserType(cfg.UserType)
	g := guard.New()
	previews := service.NewPreviewService(manager)
	contacts := service.NewContactService(manager, g, previews, userType, cfg.ConfirmInterval())
	conversations := service.NewConversationService(manager, contacts)

	dialer := live.NewDialer(cfg.LiveEndpoint(), &http.Client{Timeout: cfg.RequestTimeout()})
	chats := chat.NewRegistry(conversations, dialer, store, chat.Options{
		ReloadInterval: cfg.ReloadInterval(),
		Reconnect:      chat.DefaultReconnectPolicy(cfg.MaxReconnects),
	})

	a := &App{
		Config:        cfg,
		Store:         store,
		Session:       manager,
		Guard:         g,
		Previews:      previews,
		Contacts:      contacts,
		Conversations: conversations,
		Chats:         chats,
		Hub:           live.NewHub(),
		storage:       closer,
	}
	a.unsubscribe = store.Subscribe(a.onSessionChange)

	log.Info().
		Str("apiBaseUrl", cfg.APIBaseURL).
		Str("userType", cfg.UserType).
		Str("state", string(manager.State())).
		Msg("client core ready")

	return a, nil
}

// onSessionChange tears down every conversation once the session is gone and
// tells bridge subscribers about the new state. A forced logout can notify
// from an engine goroutine, which CloseAll would wait on.
func (a *App) onSessionChange(s model.Session) {
	if !s.Authenticated() {
		go a.Chats.CloseAll()
	}
	if err := a.Hub.Publish(live.SessionKey, "session", s); err != nil {
		log.Error().Err(err).Msg("failed to publish session event")
	}
}

// StartJobs starts the background sweeps. Close stops them.
func (a *App) StartJobs() {
	if a.sweeper != nil {
		return
	}
	a.sweeper = jobs.NewSweepJob(config.GuardSweepInterval).
		Add("guard_entries", a.Guard.SweepExpired)
	a.sweeper.Start()
}

func (a *App) Close() error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.Chats.CloseAll()
	a.Hub.Close()
	if err := a.storage.Close(); err != nil {
		return fmt.Errorf("close credential storage: %w", err)
	}
	return nil
}
