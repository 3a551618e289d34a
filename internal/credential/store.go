// Package credential holds the bearer token and user identity shared by every
// request pipeline, mirrored to durable storage under the auth-storage key.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/config"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/repository"
	"github.com/bidlink/marketplace-core/internal/util"
)

// Listener is called after every Set or Clear with the new session.
type Listener func(model.Session)

type Store struct {
	repo   repository.StorageRepository
	sealer *util.Sealer

	mu        sync.RWMutex
	token     string
	userID    string
	listeners map[int]Listener
	nextID    int
	version   uint64

	// persistMu orders mirror writes; persisted is the newest version written
	persistMu sync.Mutex
	persisted uint64
}

// NewStore builds a store. repo and sealer may be nil: without repo nothing is
// persisted, without sealer the mirror is written in clear.
func NewStore(repo repository.StorageRepository, sealer *util.Sealer) *Store {
	return &Store{
		repo:      repo,
		sealer:    sealer,
		listeners: make(map[int]Listener),
	}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Store) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.Session {
	state := model.SessionUnauthenticated
	if s.token != "" {
		state = model.SessionAuthenticated
	}
	return model.Session{Token: s.token, UserID: s.userID, State: state}
}

// Set replaces token and user id. Memory is updated before the mirror is
// written, so a mirror failure never leaves the process without the token.
func (s *Store) Set(ctx context.Context, token, userID string) error {
	return s.update(ctx, func() {
		s.token = token
		s.userID = userID
	})
}

// SetToken replaces the token and keeps the current user id.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.update(ctx, func() {
		s.token = token
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.update(ctx, func() {
		s.token = ""
		s.userID = ""
	})
}

func (s *Store) update(ctx context.Context, mutate func()) error {
	s.mu.Lock()
	mutate()
	s.version++
	version := s.version
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	err := s.persistVersion(ctx, version, snap)
	if err != nil {
		log.Warn().Err(err).Msg("failed to persist credential")
	}

	for _, fn := range listeners {
		fn(snap)
	}

	return err
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// persistVersion writes snap unless a newer mutation already reached the
// mirror, so the mirror always ends on the state memory ended on.
func (s *Store) persistVersion(ctx context.Context, version uint64, snap model.Session) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if version <= s.persisted {
		return nil
	}
	if err := s.persist(ctx, snap); err != nil {
		return err
	}
	s.persisted = version
	return nil
}

func (s *Store) persist(ctx context.Context, snap model.Session) error {
	if s.repo == nil {
		return nil
	}

	if snap.Token == "" {
		if err := s.repo.Delete(ctx, config.AuthStorageKey); err != nil {
			return fmt.Errorf("delete auth storage: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(model.AuthStorage{
		State: model.AuthStorageState{Token: snap.Token, UserID: snap.UserID},
	})
	if err != nil {
		return fmt.Errorf("marshal auth storage: %w", err)
	}

	value := string(raw)
	if s.sealer != nil {
		if value, err = s.sealer.Seal(value); err != nil {
			return fmt.Errorf("seal auth storage: %w", err)
		}
	}

	if err := s.repo.Put(ctx, config.AuthStorageKey, value); err != nil {
		return fmt.Errorf("write auth storage: %w", err)
	}
	return nil
}

// Restore loads the mirror into memory. An unreadable mirror leaves the store
// unauthenticated and is not an error; only backend failures are returned.
func (s *Store) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	stored, err := s.repo.Get(ctx, config.AuthStorageKey)
	if err != nil {
		return fmt.Errorf("read auth storage: %w", err)
	}
	if stored == nil {
		return nil
	}

	value := stored.Value
	if s.sealer != nil {
		if value, err = s.sealer.Open(value); err != nil {
			log.Warn().Err(err).Msg("auth storage could not be decrypted, ignoring")
			return nil
		}
	}

	state, err := DecodeAuthStorage(value)
	if err != nil {
		log.Warn().Err(err).Msg("auth storage is malformed, ignoring")
		return nil
	}
	if state.Token == "" {
		return nil
	}

	s.mu.Lock()
	s.token = state.Token
	s.userID = state.UserID
	s.mu.Unlock()

	log.Info().
		Str("userId", state.UserID).
		Str("tokenFp", util.Fingerprint(state.Token)).
		Msg("session restored from storage")

	return nil
}

// DecodeAuthStorage parses the persisted payload. Older writers stored the
// JSON document as a JSON string, so one extra decode is attempted.
func DecodeAuthStorage(raw string) (model.AuthStorageState, error) {
	var doc model.AuthStorage
	firstErr := json.Unmarshal([]byte(raw), &doc)
	if firstErr == nil {
		return doc.State, nil
	}

	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err != nil {
		return model.AuthStorageState{}, fmt.Errorf("decode auth storage: %w", firstErr)
	}
	if err := json.Unmarshal([]byte(inner), &doc); err != nil {
		return model.AuthStorageState{}, fmt.Errorf("decode nested auth storage: %w", err)
	}
	return doc.State, nil
}
