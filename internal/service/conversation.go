package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/session"
)

// ConversationService is the HTTP side of a contact's chat thread.
type ConversationService struct {
	contacts *ContactService
	api      API
}

func NewConversationService(api API, contacts *ContactService) *ConversationService {
	return &ConversationService{api: api, contacts: contacts}
}

// SendMessage posts content to the contact's thread. The call is not
// idempotent and is never retried on transient failure.
func (s *ConversationService) SendMessage(ctx context.Context, contactID, content string) (*model.SendMessageResponse, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.MissingRequired("content")
	}

	var resp model.SendMessageResponse
	req := session.Post(contactPath(contactID, "messages"), model.SendMessageRequest{Content: content})
	if err := s.api.DoJSON(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.MessageID == "" {
		return nil, fmt.Errorf("send message: response has no message_id")
	}

	log.Debug().
		Str("contactId", contactID).
		Str("messageId", resp.MessageID).
		Msg("message sent")

	return &resp, nil
}

// LoadContact is the authoritative reload of a thread, chat included.
func (s *ConversationService) LoadContact(ctx context.Context, contactID string) (*model.Contact, error) {
	return s.contacts.Get(ctx, contactID)
}
