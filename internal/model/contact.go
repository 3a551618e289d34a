package model

import "time"

type Contact struct {
	ID             string        `json:"id"`
	ProfessionalID string        `json:"professional_id"`
	ProjectID      string        `json:"project_id"`
	ClientID       string        `json:"client_id"`
	Status         ContactStatus `json:"status"`
	CreditsUsed    int           `json:"credits_used"`
	Chat           []Message     `json:"chat,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type CreateContactParams struct {
	ContactType    string `json:"contact_type"`
	ContactDetails string `json:"contact_details"`
}

// CostPreview is a read-only pricing snapshot for creating a contact.
type CostPreview struct {
	CreditsCost       int           `json:"credits_cost"`
	CurrentBalance    int           `json:"current_balance"`
	CanAfford         bool          `json:"can_afford"`
	Reason            PreviewReason `json:"reason"`
	Message           string        `json:"message,omitempty"`
	ExistingContactID string        `json:"existing_contact_id,omitempty"`
}

func (p *CostPreview) ContactExists() bool {
	return p.Reason == PreviewReasonContactExists
}

type Balance struct {
	Balance int `json:"balance"`
}
