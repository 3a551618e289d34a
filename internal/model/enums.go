package model

type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionRefreshing      SessionState = "refreshing"
)

type ContactStatus string

const (
	ContactStatusPending        ContactStatus = "pending"
	ContactStatusInConversation ContactStatus = "in_conversation"
	ContactStatusAccepted       ContactStatus = "accepted"
	ContactStatusRejected       ContactStatus = "rejected"
	ContactStatusCompleted      ContactStatus = "completed"
)

type PreviewReason string

const (
	PreviewReasonNewProject       PreviewReason = "new_project"
	PreviewReasonOldProject       PreviewReason = "old_project"
	PreviewReasonModerateInterest PreviewReason = "moderate_interest"
	PreviewReasonHighInterest     PreviewReason = "high_interest"
	PreviewReasonContactExists    PreviewReason = "contact_already_exists"
)

type LocalStatus string

const (
	LocalStatusPending   LocalStatus = "pending"
	LocalStatusConfirmed LocalStatus = "confirmed"
	LocalStatusFailed    LocalStatus = "failed"
)

type UserType string

const (
	UserTypeClient       UserType = "client"
	UserTypeProfessional UserType = "professional"
)

// Live frame types
const (
	EventNewMessage    = "new_message"
	EventContactUpdate = "contact_update"
)
