package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/httputil"
	"github.com/bidlink/marketplace-core/internal/live"
)

// EventStream serves hub keys as server-sent events.
type EventStream struct {
	hub       *live.Hub
	heartbeat time.Duration
}

func NewEventStream(hub *live.Hub) *EventStream {
	return &EventStream{hub: hub, heartbeat: live.HeartbeatInterval}
}

// Serve subscribes to key and streams until the client goes away or the hub
// disconnects the key. initial, when non-nil, is sent first as initialType.
func (s *EventStream) Serve(w http.ResponseWriter, r *http.Request, key, initialType string, initial any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := s.hub.Subscribe(key)
	defer s.hub.Unsubscribe(client)

	log.Info().Str("key", key).Msg("sse connection established")

	if initial != nil {
		if err := s.sendEvent(w, flusher, initialType, initial); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to send initial event")
			return
		}
	} else {
		flusher.Flush()
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("key", key).Msg("sse connection closed by client")
			return

		case <-client.Done:
			// drain what was published before the disconnect
			for {
				select {
				case event := <-client.Events:
					if err := s.sendRawEvent(w, flusher, event); err != nil {
						return
					}
				default:
					log.Info().Str("key", key).Msg("sse connection closed by hub")
					return
				}
			}

		case event := <-client.Events:
			if err := s.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("key", key).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (s *EventStream) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.sendRawEvent(w, flusher, live.Event{Type: eventType, Data: jsonData})
}

func (s *EventStream) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event live.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
