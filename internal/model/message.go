package model

import (
	"encoding/json"
	"time"
)

type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"created_at"`
	LocalStatus LocalStatus `json:"local_status,omitempty"`
}

func (m Message) Pending() bool {
	return m.LocalStatus == LocalStatusPending
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SendMessageResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
}

// LiveEvent is one inbound frame of the live channel.
type LiveEvent struct {
	Type      string          `json:"type"`
	ContactID string          `json:"contact_id"`
	Message   *Message        `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
