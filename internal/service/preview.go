package service

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	apperrors "github.com/bidlink/marketplace-core/internal/errors"
	"github.com/bidlink/marketplace-core/internal/model"
	"github.com/bidlink/marketplace-core/internal/session"
)

type PreviewService struct {
	api API
}

func NewPreviewService(api API) *PreviewService {
	return &PreviewService{api: api}
}

// Preview fetches the current price of contacting a project. Results are
// never cached; callers re-fetch after any balance change or contact creation.
func (s *PreviewService) Preview(ctx context.Context, projectID string) (*model.CostPreview, error) {
	if projectID == "" {
		return nil, apperrors.MissingRequired("projectId")
	}

	var preview model.CostPreview
	if err := s.api.DoJSON(ctx, session.Get(contactPath(projectID, "cost-preview"), nil), &preview); err != nil {
		return nil, fmt.Errorf("fetch cost preview: %w", err)
	}

	log.Debug().
		Str("projectId", projectID).
		Int("creditsCost", preview.CreditsCost).
		Int("balance", preview.CurrentBalance).
		Str("reason", string(preview.Reason)).
		Msg("cost preview fetched")

	return &preview, nil
}

// ResolveExisting finds the contact already created for projectID by listing
// the user's contact history. The preview endpoint does not return the id.
func (s *PreviewService) ResolveExisting(ctx context.Context, projectID string, userType model.UserType) (string, error) {
	contacts, err := listHistory(ctx, s.api, userType)
	if err != nil {
		return "", err
	}

	for _, c := range contacts {
		if c.ProjectID == projectID {
			return c.ID, nil
		}
	}
	return "", apperrors.NotFound("Contact for project")
}

// PreviewAndResolve runs Preview and, when the contact already exists,
// fills ExistingContactID.
func (s *PreviewService) PreviewAndResolve(ctx context.Context, projectID string, userType model.UserType) (*model.CostPreview, error) {
	preview, err := s.Preview(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !preview.ContactExists() {
		return preview, nil
	}

	id, err := s.ResolveExisting(ctx, projectID, userType)
	if err != nil {
		// the preview is still useful without the id
		log.Warn().Err(err).Str("projectId", projectID).Msg("existing contact not resolved")
		return preview, nil
	}
	preview.ExistingContactID = id
	return preview, nil
}

func listHistory(ctx context.Context, api API, userType model.UserType) ([]model.Contact, error) {
	query := url.Values{}
	if userType != "" {
		query.Set("user_type", string(userType))
	}

	var contacts []model.Contact
	if err := api.DoJSON(ctx, session.Get("/contacts/history", query), &contacts); err != nil {
		return nil, fmt.Errorf("list contact history: %w", err)
	}
	return contacts, nil
}
