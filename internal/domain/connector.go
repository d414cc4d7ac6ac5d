package domain

type ConnectorCategory string

const (
	ConnectorCategory_Mail         ConnectorCategory = "mail"
	ConnectorCategory_Chat         ConnectorCategory = "chat"
	ConnectorCategory_IssueTracker ConnectorCategory = "issue_tracker"
	ConnectorCategory_Payments     ConnectorCategory = "payments"
)

type ConnectorStatus string

const (
	ConnectorStatus_Active     ConnectorStatus = "active"
	ConnectorStatus_Inactive   ConnectorStatus = "inactive"
	ConnectorStatus_Deprecated ConnectorStatus = "deprecated"
	ConnectorStatus_Beta       ConnectorStatus = "beta"
)

const (
	ConnectorType_Slack   = "slack"
	ConnectorType_Stripe  = "stripe"
	ConnectorType_Github  = "github"
	ConnectorType_Jira    = "jira"
	ConnectorType_Mailjet = "mailjet"
)

// ConnectorCapabilities declares what a connector can do. Immutable catalog
// data, loaded at process start.
type ConnectorCapabilities struct {
	Inbound       bool `json:"inbound"`
	Outbound      bool `json:"outbound"`
	Bidirectional bool `json:"bidirectional"`
	Webhooks      bool `json:"webhooks"`
	Polling       bool `json:"polling"`
	Attachments   bool `json:"attachments"`
}

// ConnectorOAuth holds provider OAuth endpoints and scopes for connectors
// that authorize via the code flow. Nil for API-key connectors.
type ConnectorOAuth struct {
	AuthURL  string   `json:"auth_url"`
	TokenURL string   `json:"token_url"`
	Scopes   []string `json:"scopes"`
}

type ConnectorDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    ConnectorCategory `json:"category"`

	OAuth       *ConnectorOAuth `json:"oauth,omitempty"`
	APIKeyBased bool            `json:"api_key_based"`

	SupportsWebhooks bool                  `json:"supports_webhooks"`
	Capabilities     ConnectorCapabilities `json:"capabilities"`
	Status           ConnectorStatus       `json:"status"`
}

// IsOAuth reports whether the connector authorizes via the OAuth code flow.
func (d ConnectorDefinition) IsOAuth() bool {
	return d.OAuth != nil
}

// ConnectorRegistry is the read-only catalog lookup. Absence is a typed
// result, not an error, so callers can answer 404 without unwrapping.
type ConnectorRegistry interface {
	Get(id string) (ConnectorDefinition, bool)
	ListActive() []ConnectorDefinition
	ListByCategory(category ConnectorCategory) []ConnectorDefinition
}
