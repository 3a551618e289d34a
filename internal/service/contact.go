package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bidlink/marketplace-core/internal/audit"
	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/guard"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/session"
)

// Recognized 400 details of POST /contacts/{projectId}.
const (
	detailAlreadyExists       = "already exists"
	detailInsufficientCredits = "insufficient credits"
)

type ConfirmResult struct {
	Contact        *model.Contact `json:"contact,omitempty"`
	ContactID      string         `json:"contactId,omitempty"`
	AlreadyExisted bool           `json:"alreadyExisted"`
	Skipped        bool           `json:"skipped"`
	Balance        *int           `json:"balance,omitempty"`
}

type ContactService struct {
	api      API
	guard    *guard.Guard
	preview  *PreviewService
	userType model.UserType
	interval time.Duration
}

func NewContactService(api API, g *guard.Guard, preview *PreviewService, userType model.UserType, interval time.Duration) *ContactService {
	return &ContactService{
		api:      api,
		guard:    g,
		preview:  preview,
		userType: userType,
		interval: interval,
	}
}

// Confirm spends credits to create a contact for projectID. Presses inside the
// confirm interval, or while a confirm for the same project is in flight,
// return a Skipped result without touching the network.
func (s *ContactService) Confirm(ctx context.Context, projectID string, params model.CreateContactParams) (*ConfirmResult, error) {
	if projectID == "" {
		return nil, apperrors.MissingRequired("projectId")
	}

	result, outcome, err := guard.Do(ctx, s.guard, BuildConfirmKey(projectID), s.interval,
		func(ctx context.Context) (*ConfirmResult, error) {
			return s.create(ctx, projectID, params)
		})
	if outcome == guard.Skipped {
		return &ConfirmResult{Skipped: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ContactService) create(ctx context.Context, projectID string, params model.CreateContactParams) (*ConfirmResult, error) {
	resp, err := s.api.Execute(ctx, session.Post(contactPath(projectID), params))
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeRequestFailed && appErr.Status == http.StatusBadRequest {
			detail := strings.ToLower(appErr.Message)
			switch {
			case strings.Contains(detail, detailAlreadyExists):
				return s.resolveExisting(ctx, projectID)
			case strings.Contains(detail, detailInsufficientCredits):
				audit.Log(ctx, audit.Event{
					Type:    audit.EventCreditsShort,
					Details: map[string]interface{}{"projectId": projectID},
				})
				return nil, apperrors.InsufficientCredits(appErr.Message).WithStatus(appErr.Status)
			}
		}
		return nil, fmt.Errorf("create contact: %w", err)
	}

	var contact model.Contact
	if err := resp.Decode(&contact); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type: audit.EventContactSpend,
		Details: map[string]interface{}{
			"projectId":   projectID,
			"contactId":   contact.ID,
			"creditsUsed": contact.CreditsUsed,
		},
	})

	result := &ConfirmResult{Contact: &contact, ContactID: contact.ID}
	if balance, err := s.Balance(ctx); err != nil {
		log.Warn().Err(err).Str("projectId", projectID).Msg("balance not refreshed after contact")
	} else {
		result.Balance = &balance
	}

	return result, nil
}

func (s *ContactService) resolveExisting(ctx context.Context, projectID string) (*ConfirmResult, error) {
	id, err := s.preview.ResolveExisting(ctx, projectID, s.userType)
	if err != nil {
		return nil, apperrors.ContactExists(projectID).WithCause(err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventContactExisting,
		Details: map[string]interface{}{"projectId": projectID, "contactId": id},
	})

	log.Info().
		Str("projectId", projectID).
		Str("contactId", id).
		Msg("contact already existed")

	return &ConfirmResult{ContactID: id, AlreadyExisted: true}, nil
}

func (s *ContactService) Balance(ctx context.Context) (int, error) {
	var body model.Balance
	if err := s.api.DoJSON(ctx, session.Get("/credits/balance", nil), &body); err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	return body.Balance, nil
}

func (s *ContactService) History(ctx context.Context, userType model.UserType) ([]model.Contact, error) {
	if userType == "" {
		userType = s.userType
	}
	return listHistory(ctx, s.api, userType)
}

func (s *ContactService) Get(ctx context.Context, contactID string) (*model.Contact, error) {
	if contactID == "" {
		return nil, apperrors.MissingRequired("contactId")
	}

	var contact model.Contact
	if err := s.api.DoJSON(ctx, session.Get(contactPath(contactID), nil), &contact); err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	return &contact, nil
}
