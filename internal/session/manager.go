// Package session attaches the current bearer credential to outbound requests
// and recovers from authorization failures with one coalesced silent refresh.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/bidlink/marketplace-core/internal/audit"
	"github.com/bidlink/marketplace-core/internal/credential"
	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/util"
)

const (
	refreshPath = "/auth/refresh"
	loginPath   = "/auth/login"
	logoutPath  = "/auth/logout"

	// RenewedTokenHeader carries a server-rotated credential on any response.
	RenewedTokenHeader = "X-Renewed-Token"

	maxResponseBytes = 4 << 20
)

var errTokenRejected = errors.New("refresh already rejected for this token")

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Retry      RetryPolicy
	HTTPClient *http.Client
}

type Manager struct {
	baseURL    string
	timeout    time.Duration
	retry      RetryPolicy
	client     *http.Client
	store      *credential.Store
	refreshes  singleflight.Group
	refreshing atomic.Int32

	// rejected is the last token the server refused to refresh
	rejectedMu sync.Mutex
	rejected   string
}

func NewManager(store *credential.Store, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Manager{
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		client:  client,
		store:   store,
	}
}

func (m *Manager) Store() *credential.Store {
	return m.store
}

// State reports Refreshing while a silent refresh is in flight.
func (m *Manager) State() model.SessionState {
	if m.refreshing.Load() > 0 {
		return model.SessionRefreshing
	}
	return m.store.Snapshot().State
}

// Execute sends req with the current credential. HTTP-level failures return
// both the response and an *errors.AppError; transport failures return only
// the error.
//
// A 401 on an authenticated request refreshes once and resends. When the
// server rejects the refresh the session is cleared and SESSION_EXPIRED is
// returned. When the refresh fails transiently (network error or 5xx) the
// session is kept and REFRESH_FAILED is returned: the credential is still
// live and a later call may succeed.
func (m *Manager) Execute(ctx context.Context, req *Request) (*Response, error) {
	attempt := *req
	token := ""
	if !attempt.Anonymous {
		token = m.store.Token()
	}

	for {
		hadCredential := token != ""

		resp, err := m.sendWithRetry(ctx, &attempt, token)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusUnauthorized {
			if hadCredential {
				m.acceptRenewedToken(ctx, resp, token)
			}
			return resp, statusError(resp)
		}

		if !hadCredential {
			// the caller never authenticated; the session is not ours to end
			log.Debug().
				Str("method", attempt.Method).
				Str("path", attempt.Path).
				Msg("anonymous request unauthorized")
			return resp, apperrors.Unauthorized(resp.Detail()).WithStatus(resp.StatusCode)
		}

		if attempt.Attempt >= 1 {
			log.Warn().
				Str("method", attempt.Method).
				Str("path", attempt.Path).
				Int("attempt", attempt.Attempt).
				Msg("request unauthorized after refresh")
			return resp, apperrors.Unauthorized(resp.Detail()).WithStatus(resp.StatusCode)
		}

		attempt.Attempt++
		fresh, err := m.refreshFrom(ctx, token)
		if err != nil {
			if m.store.Token() == "" {
				return resp, apperrors.SessionExpired().WithStatus(resp.StatusCode).WithCause(err)
			}
			return resp, err
		}
		token = fresh
	}
}

// DoJSON executes req and decodes a successful body into out.
func (m *Manager) DoJSON(ctx context.Context, req *Request, out any) error {
	resp, err := m.Execute(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Refresh renews the current credential, coalesced with any refresh already
// in flight for the same token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	token := m.store.Token()
	if token == "" {
		return "", apperrors.Unauthorized("Not logged in")
	}
	return m.refreshFrom(ctx, token)
}

func (m *Manager) refreshFrom(ctx context.Context, stale string) (string, error) {
	// someone else already rotated the token after this request captured it
	if current := m.store.Token(); current != "" && current != stale {
		return current, nil
	}

	ch := m.refreshes.DoChan(stale, func() (any, error) {
		// a 401 that arrives after the shared refresh already failed gets the
		// same outcome instead of a second refresh
		if m.wasRejected(stale) {
			return "", apperrors.RefreshFailed(errTokenRejected)
		}

		m.refreshing.Add(1)
		defer m.refreshing.Add(-1)

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.doRefresh(refreshCtx, stale)
	})

	select {
	case <-ctx.Done():
		return "", apperrors.Network(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// doRefresh is exempt from the 401 handling of Execute.
func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	req := &Request{Method: http.MethodPost, Path: refreshPath, Body: map[string]any{}}
	resp, err := m.sendOnce(ctx, req, stale)
	if err == nil {
		err = statusError(resp)
	}

	var body model.RefreshResponse
	if err == nil {
		if decodeErr := resp.Decode(&body); decodeErr != nil {
			err = decodeErr
		} else if body.AccessToken == "" {
			err = fmt.Errorf("refresh response has no access_token")
		}
	}

	if err != nil {
		if apperrors.IsTransient(err) {
			// offline or server down: the session may still be valid
			log.Warn().Err(err).Msg("token refresh failed transiently, keeping session")
			return "", apperrors.RefreshFailed(err)
		}
		m.forceLogout(ctx, stale, err)
		return "", apperrors.RefreshFailed(err)
	}

	if err := m.store.SetToken(ctx, body.AccessToken); err != nil {
		log.Warn().Err(err).Msg("refreshed token not persisted")
	}

	audit.Log(ctx, audit.Event{
		Type:        audit.EventRefreshSuccess,
		UserID:      m.store.UserID(),
		Fingerprint: util.Fingerprint(body.AccessToken),
	})

	return body.AccessToken, nil
}

func (m *Manager) wasRejected(token string) bool {
	m.rejectedMu.Lock()
	defer m.rejectedMu.Unlock()
	return m.rejected == token
}

func (m *Manager) forceLogout(ctx context.Context, stale string, cause error) {
	m.rejectedMu.Lock()
	m.rejected = stale
	m.rejectedMu.Unlock()

	audit.Log(ctx, audit.Event{
		Type:        audit.EventRefreshFailure,
		UserID:      m.store.UserID(),
		Fingerprint: util.Fingerprint(stale),
		Details:     map[string]interface{}{"cause": cause},
	})

	// a login that landed meanwhile must survive
	if m.store.Token() != stale {
		return
	}

	if err := m.store.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to clear credential after refresh failure")
	}
	audit.Log(ctx, audit.Event{
		Type:        audit.EventForcedLogout,
		Fingerprint: util.Fingerprint(stale),
	})
}

func (m *Manager) acceptRenewedToken(ctx context.Context, resp *Response, sent string) {
	renewed := resp.Header.Get(RenewedTokenHeader)
	if renewed == "" || renewed == sent {
		return
	}
	if m.store.Token() != sent {
		return
	}
	if err := m.store.SetToken(ctx, renewed); err != nil {
		log.Warn().Err(err).Msg("renewed token not persisted")
	}
	audit.Log(ctx, audit.Event{
		Type:        audit.EventTokenRenewed,
		UserID:      m.store.UserID(),
		Fingerprint: util.Fingerprint(renewed),
	})
}

func (m *Manager) sendWithRetry(ctx context.Context, req *Request, token string) (*Response, error) {
	maxAttempts := 1
	if req.idempotent() {
		maxAttempts = m.retry.attempts()
	}

	for try := 1; ; try++ {
		resp, err := m.sendOnce(ctx, req, token)
		if ctx.Err() != nil || try >= maxAttempts || !shouldRetry(resp, err) {
			return resp, err
		}

		delay := m.retry.Delay(try - 1)
		event := log.Debug().
			Str("method", req.Method).
			Str("path", req.Path).
			Int("attempt", try).
			Dur("delay", delay)
		if err != nil {
			event = event.Err(err)
		} else {
			event = event.Int("status", resp.StatusCode)
		}
		event.Msg("retrying transient failure")

		select {
		case <-ctx.Done():
			return nil, apperrors.Network(ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (m *Manager) sendOnce(ctx context.Context, req *Request, token string) (*Response, error) {
	body, err := req.body()
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.url(m.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal("build request").WithCause(err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := m.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		log.Debug().
			Err(err).
			Str("method", req.Method).
			Str("path", req.Path).
			Dur("elapsed", elapsed).
			Msg("request failed")
		return nil, apperrors.Network(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.Network(fmt.Errorf("read response: %w", err))
	}

	log.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", httpResp.StatusCode).
		Bool("auth", token != "").
		Dur("elapsed", elapsed).
		Msg("request completed")

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func statusError(resp *Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.Unauthorized(resp.Detail()).WithStatus(resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("Resource").WithStatus(resp.StatusCode)
	case resp.StatusCode >= 500:
		return apperrors.Server(resp.StatusCode, resp.Detail())
	default:
		return apperrors.RequestFailed(resp.StatusCode, resp.Detail())
	}
}

// Login exchanges credentials for a session. A rejected login is an anonymous
// 401 and leaves any existing session untouched.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	req := &Request{
		Method:    http.MethodPost,
		Path:      loginPath,
		Body:      map[string]string{"email": email, "password": password},
		Anonymous: true,
	}

	var body model.LoginResponse
	if err := m.DoJSON(ctx, req, &body); err != nil {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Details: map[string]interface{}{"code": string(apperrors.GetCode(err))},
		})
		return fmt.Errorf("login: %w", err)
	}
	if body.AccessToken == "" {
		return apperrors.Internal("login response has no access_token")
	}

	if err := m.store.Set(ctx, body.AccessToken, body.UserID); err != nil {
		log.Warn().Err(err).Msg("login token not persisted")
	}

	audit.Log(ctx, audit.Event{
		Type:        audit.EventLoginSuccess,
		UserID:      body.UserID,
		Fingerprint: util.Fingerprint(body.AccessToken),
	})
	return nil
}

// Logout tells the server (best effort) and always clears the local session.
func (m *Manager) Logout(ctx context.Context) error {
	token := m.store.Token()
	userID := m.store.UserID()

	if token != "" {
		// Attempt 1: a stale token is not worth a refresh just to log out
		req := &Request{Method: http.MethodPost, Path: logoutPath, Body: map[string]any{}, Attempt: 1}
		if _, err := m.Execute(ctx, req); err != nil {
			log.Debug().Err(err).Msg("server logout failed, clearing locally")
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:        audit.EventLogout,
		UserID:      userID,
		Fingerprint: util.Fingerprint(token),
	})
	return nil
}
