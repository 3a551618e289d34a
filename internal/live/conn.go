// Package live connects to the marketplace's real-time notification channel.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/model"
)

const maxFrameBytes = 1 << 20

// Conn is an open live connection. Frames are notify-only; chat content is
// always sent over HTTP.
type Conn interface {
	Read(ctx context.Context) (model.LiveEvent, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

type WSDialer struct {
	endpoint   string
	httpClient *http.Client
}

func NewDialer(endpoint string, httpClient *http.Client) *WSDialer {
	return &WSDialer{endpoint: endpoint, httpClient: httpClient}
}

// Dial opens the websocket with the bearer token in the token query parameter.
func (d *WSDialer) Dial(ctx context.Context, token string) (Conn, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse live endpoint: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: d.httpClient})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial live channel: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	log.Debug().Str("host", u.Host).Msg("live channel connected")
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (model.LiveEvent, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return model.LiveEvent{}, err
		}
		if typ != websocket.MessageText {
			continue
		}

		event, err := DecodeFrame(data)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring malformed live frame")
			continue
		}
		return event, nil
	}
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "conversation closed")
}

// DecodeFrame parses one inbound frame. Frames without a type are rejected.
func DecodeFrame(data []byte) (model.LiveEvent, error) {
	var event model.LiveEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return model.LiveEvent{}, fmt.Errorf("decode live frame: %w", err)
	}
	if event.Type == "" {
		return model.LiveEvent{}, errors.New("decode live frame: missing type")
	}
	return event, nil
}

// IsNormalClosure reports whether err ended the connection cleanly.
func IsNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return errors.Is(err, context.Canceled)
	}
}
