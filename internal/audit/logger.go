package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventLoginSuccess    EventType = "login_success"
	EventLoginFailure    EventType = "login_failure"
	EventLogout          EventType = "logout"
	EventForcedLogout    EventType = "forced_logout"
	EventRefreshSuccess  EventType = "refresh_success"
	EventRefreshFailure  EventType = "refresh_failure"
	EventTokenRenewed    EventType = "token_renewed"
	EventContactSpend    EventType = "contact_spend"
	EventContactExisting EventType = "contact_existing"
	EventCreditsShort    EventType = "insufficient_credits"
	EventBridgeAuthFail  EventType = "bridge_auth_failure"
)

type Event struct {
	Type        EventType
	UserID      string
	Fingerprint string
	Details     map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.Fingerprint != "" {
		logger = logger.With().Str("token_fp", event.Fingerprint).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}
