// Package chat keeps one conversation's message log consistent across
// optimistic sends, live push events and authoritative reloads.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/config"
	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/live"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/session"
)

type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

const (
	tempIDPrefix    = "tmp-"
	subscribeBuffer = 16
)

// Backend is the HTTP side of a conversation.
type Backend interface {
	SendMessage(ctx context.Context, contactID, content string) (*model.SendMessageResponse, error)
	LoadContact(ctx context.Context, contactID string) (*model.Contact, error)
}

// Identity supplies the live channel token and the local sender id.
type Identity interface {
	Token() string
	UserID() string
}

type Options struct {
	ContactID      string
	ReloadInterval time.Duration // 0 disables periodic reloads
	Reconnect      session.RetryPolicy
	Now            func() time.Time
}

func DefaultReconnectPolicy(maxReconnects int) session.RetryPolicy {
	return session.RetryPolicy{
		MaxAttempts:  maxReconnects,
		InitialDelay: config.ReconnectInitialDelay,
		MaxDelay:     config.ReconnectMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

type Snapshot struct {
	ContactID string          `json:"contactId"`
	State     ConnState       `json:"state"`
	Messages  []model.Message `json:"messages"`
}

type SendResult struct {
	Message         model.Message `json:"message"`
	RestoredContent string        `json:"restoredContent,omitempty"`
}

// Engine owns one conversation: its log, its live connection and its
// subscribers. After Close every late result or frame is dropped.
type Engine struct {
	opts     Options
	backend  Backend
	dialer   live.Dialer
	identity Identity

	mu       sync.Mutex
	log      *Log
	state    ConnState
	opened   bool
	disposed bool
	conn     live.Conn
	subs     map[int]chan Snapshot
	nextSub  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(backend Backend, dialer live.Dialer, identity Identity, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reconnect.MaxAttempts == 0 && opts.Reconnect.InitialDelay == 0 {
		opts.Reconnect = DefaultReconnectPolicy(5)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:     opts,
		backend:  backend,
		dialer:   dialer,
		identity: identity,
		log:      NewLog(),
		state:    StateIdle,
		subs:     make(map[int]chan Snapshot),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (e *Engine) ContactID() string {
	return e.opts.ContactID
}

// Open loads the thread and starts the live connection. Opening an engine
// that is already open is a no-op.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return apperrors.EngineClosed()
	}
	if e.opened {
		e.mu.Unlock()
		return nil
	}
	e.opened = true
	e.mu.Unlock()

	if err := e.Reload(ctx); err != nil {
		e.mu.Lock()
		e.opened = false
		e.mu.Unlock()
		return fmt.Errorf("open conversation: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return apperrors.EngineClosed()
	}

	e.wg.Add(1)
	go e.connectLoop()

	if e.opts.ReloadInterval > 0 {
		e.wg.Add(1)
		go e.reloadLoop()
	}

	log.Info().
		Str("contactId", e.opts.ContactID).
		Int("messages", e.log.Len()).
		Msg("conversation opened")
	return nil
}

// Send inserts content optimistically and posts it. On failure the message
// is removed and its content returned in RestoredContent.
func (e *Engine) Send(ctx context.Context, content string) (SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return SendResult{}, apperrors.MissingRequired("content")
	}

	pending := model.Message{
		ID:          tempIDPrefix + uuid.NewString(),
		SenderID:    e.identity.UserID(),
		Content:     content,
		CreatedAt:   e.opts.Now(),
		LocalStatus: model.LocalStatusPending,
	}
	if !e.apply(func(l *Log) bool { return l.AddPending(pending) }) {
		return SendResult{RestoredContent: content}, apperrors.EngineClosed()
	}

	resp, err := e.backend.SendMessage(ctx, e.opts.ContactID, content)
	if err != nil {
		e.apply(func(l *Log) bool { return l.Remove(pending.ID) })
		log.Warn().
			Err(err).
			Str("contactId", e.opts.ContactID).
			Msg("message send failed, rolled back")

		failed := pending
		failed.LocalStatus = model.LocalStatusFailed
		return SendResult{Message: failed, RestoredContent: content}, apperrors.SendFailed(err)
	}

	confirmed := pending
	confirmed.ID = resp.MessageID
	confirmed.LocalStatus = model.LocalStatusConfirmed
	e.apply(func(l *Log) bool { return l.Confirm(pending.ID, confirmed) })

	return SendResult{Message: confirmed}, nil
}

// Reload replaces the log with the server's copy of the thread, keeping
// pending messages and anything that arrived while the request was out.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return apperrors.EngineClosed()
	}
	since := e.log.Revision()
	e.mu.Unlock()

	contact, err := e.backend.LoadContact(ctx, e.opts.ContactID)
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}

	e.apply(func(l *Log) bool { return l.ApplyReloadSince(contact.Chat, since) })
	return nil
}

func (e *Engine) Messages() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Messages()
}

func (e *Engine) State() ConnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		ContactID: e.opts.ContactID,
		State:     e.state,
		Messages:  e.log.Messages(),
	}
}

// Subscribe streams a snapshot after every change. Slow subscribers only see
// the latest snapshot. The channel is closed by the returned func or by Close.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Snapshot, subscribeBuffer)
	if e.disposed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.snapshotLocked()

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// Close tears the conversation down. It waits for the engine's goroutines to
// exit; in-flight sends complete but their results are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.state = StateIdle
	conn := e.conn
	e.conn = nil
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.mu.Unlock()

	e.cancel()
	if conn != nil {
		conn.Close()
	}
	e.wg.Wait()

	log.Info().Str("contactId", e.opts.ContactID).Msg("conversation closed")
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// apply mutates the log unless the engine is disposed. It reports false only
// when the mutation was dropped.
func (e *Engine) apply(fn func(*Log) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		log.Debug().Str("contactId", e.opts.ContactID).Msg("dropping update for closed conversation")
		return false
	}
	if fn(e.log) {
		e.notifyLocked()
	}
	return true
}

func (e *Engine) setState(state ConnState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return false
	}
	if e.state != state {
		e.state = state
		e.notifyLocked()
	}
	return true
}

func (e *Engine) notifyLocked() {
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			// keep only the newest snapshot for a lagging subscriber
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (e *Engine) connectLoop() {
	defer e.wg.Done()

	failures := 0
	connected := false
	for {
		if !e.setState(StateConnecting) {
			return
		}

		conn, err := e.dialer.Dial(e.ctx, e.identity.Token())
		if err == nil {
			if e.attach(conn) {
				if connected {
					// frames may have been missed while disconnected
					if err := e.Reload(e.ctx); err != nil {
						log.Warn().Err(err).Str("contactId", e.opts.ContactID).Msg("reload after reconnect failed")
					}
				}
				connected = true
				failures = 0
				err = e.readLoop(conn)
				e.detach(conn)
			} else {
				conn.Close()
				return
			}
		}

		if e.ctx.Err() != nil {
			return
		}
		if !e.setState(StateClosed) {
			return
		}

		failures++
		if failures > e.opts.Reconnect.MaxAttempts {
			log.Warn().
				Err(err).
				Str("contactId", e.opts.ContactID).
				Int("attempts", failures).
				Msg("live channel gave up reconnecting")
			return
		}

		delay := e.opts.Reconnect.Delay(failures - 1)
		log.Debug().
			Err(err).
			Str("contactId", e.opts.ContactID).
			Int("attempt", failures).
			Dur("delay", delay).
			Msg("live channel reconnecting")

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (e *Engine) attach(conn live.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return false
	}
	e.conn = conn
	e.state = StateOpen
	e.notifyLocked()
	return true
}

func (e *Engine) detach(conn live.Conn) {
	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	e.mu.Unlock()
	conn.Close()
}

func (e *Engine) readLoop(conn live.Conn) error {
	for {
		event, err := conn.Read(e.ctx)
		if err != nil {
			if !live.IsNormalClosure(err) && e.ctx.Err() == nil {
				log.Warn().Err(err).Str("contactId", e.opts.ContactID).Msg("live channel dropped")
			}
			return err
		}
		e.handleEvent(event)
	}
}

func (e *Engine) handleEvent(event model.LiveEvent) {
	if event.ContactID != e.opts.ContactID {
		return
	}

	switch event.Type {
	case model.EventNewMessage:
		if event.Message == nil {
			return
		}
		e.apply(func(l *Log) bool { return l.ApplyPush(*event.Message) })
	case model.EventContactUpdate:
		if err := e.Reload(e.ctx); err != nil && e.ctx.Err() == nil {
			log.Warn().Err(err).Str("contactId", e.opts.ContactID).Msg("reload on contact update failed")
		}
	default:
		log.Debug().Str("type", event.Type).Msg("ignoring live frame")
	}
}

func (e *Engine) reloadLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.Reload(e.ctx); err != nil && e.ctx.Err() == nil {
				log.Warn().Err(err).Str("contactId", e.opts.ContactID).Msg("periodic reload failed")
			}
		}
	}
}
