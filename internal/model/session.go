package model

// Session is the in-memory view of the current credential.
type Session struct {
	Token  string       `json:"-"`
	UserID string       `json:"userId,omitempty"`
	State  SessionState `json:"state"`
}

func (s Session) Authenticated() bool {
	return s.Token != ""
}

// AuthStorage is the persisted shape under the auth-storage key.
type AuthStorage struct {
	State   AuthStorageState `json:"state"`
	Version int              `json:"version"`
}

type AuthStorageState struct {
	Token  string `json:"token"`
	UserID string `json:"userId,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	UserID      string `json:"user_id"`
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}
