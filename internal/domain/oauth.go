package domain

import "time"

// OAuthStateTTL is how long an unused state token stays valid.
const OAuthStateTTL = 10 * time.Minute

// OAuthState binds a random single-use token to the tenant, connector and
// user that started an authorization flow. Consumed exactly once; expired
// states are treated as absent.
type OAuthState struct {
	Token       string    `json:"token"`
	TenantID    string    `json:"tenant_id"`
	ConnectorID string    `json:"connector_id"`
	UserID      string    `json:"user_id"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s OAuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
