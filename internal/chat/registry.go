package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/bidlink/marketplace-core/internal/live"
)

// Registry keeps at most one open engine per contact.
type Registry struct {
	backend  Backend
	dialer   live.Dialer
	identity Identity
	base     Options

	mu      sync.Mutex
	engines map[string]*registryEntry
}

// registryEntry is settled once the first Open finished; ready is closed then.
type registryEntry struct {
	eng   *Engine
	ready chan struct{}
	err   error
}

func (e *registryEntry) settled() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

func NewRegistry(backend Backend, dialer live.Dialer, identity Identity, base Options) *Registry {
	return &Registry{
		backend:  backend,
		dialer:   dialer,
		identity: identity,
		base:     base,
		engines:  make(map[string]*registryEntry),
	}
}

// Open returns the engine for contactID, opening it on first use. Callers
// arriving while the first open is in progress wait for its outcome.
func (r *Registry) Open(ctx context.Context, contactID string) (*Engine, error) {
	r.mu.Lock()
	if ent, ok := r.engines[contactID]; ok {
		r.mu.Unlock()
		select {
		case <-ent.ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("open conversation: %w", ctx.Err())
		}
		if ent.err != nil {
			return nil, ent.err
		}
		return ent.eng, nil
	}
	opts := r.base
	opts.ContactID = contactID
	ent := &registryEntry{
		eng:   NewEngine(r.backend, r.dialer, r.identity, opts),
		ready: make(chan struct{}),
	}
	r.engines[contactID] = ent
	r.mu.Unlock()

	if err := ent.eng.Open(ctx); err != nil {
		r.mu.Lock()
		if r.engines[contactID] == ent {
			delete(r.engines, contactID)
		}
		r.mu.Unlock()
		ent.eng.Close()
		ent.err = err
		close(ent.ready)
		return nil, err
	}
	close(ent.ready)
	return ent.eng, nil
}

// Get returns the engine for contactID once it is open.
func (r *Registry) Get(contactID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.engines[contactID]
	if !ok || !ent.settled() || ent.err != nil {
		return nil, false
	}
	return ent.eng, true
}

// Close tears down the engine for contactID, if any. An open in progress
// fails with ENGINE_CLOSED.
func (r *Registry) Close(contactID string) bool {
	r.mu.Lock()
	ent, ok := r.engines[contactID]
	delete(r.engines, contactID)
	r.mu.Unlock()

	if ok {
		ent.eng.Close()
	}
	return ok
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, ent := range engines {
		ent.eng.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}
