package registry

import (
	"github.com/hivedesk/hivedesk/internal/domain"
)

// DefaultCatalog returns the built-in connector definitions.
func DefaultCatalog() []domain.ConnectorDefinition {
	return []domain.ConnectorDefinition{
		{
			ID:          domain.ConnectorType_Slack,
			Name:        "Slack",
			Description: "Slack workspace messaging",
			Category:    domain.ConnectorCategory_Chat,
			OAuth: &domain.ConnectorOAuth{
				AuthURL:  "https://slack.com/oauth/v2/authorize",
				TokenURL: "https://slack.com/api/oauth.v2.access",
				Scopes:   []string{"channels:read", "channels:history", "chat:write"},
			},
			SupportsWebhooks: true,
			Capabilities: domain.ConnectorCapabilities{
				Inbound:       true,
				Outbound:      true,
				Bidirectional: true,
				Webhooks:      true,
				Polling:       true,
				Attachments:   true,
			},
			Status: domain.ConnectorStatus_Active,
		},
		{
			ID:               domain.ConnectorType_Stripe,
			Name:             "Stripe",
			Description:      "Stripe payments and billing events",
			Category:         domain.ConnectorCategory_Payments,
			APIKeyBased:      true,
			SupportsWebhooks: true,
			Capabilities: domain.ConnectorCapabilities{
				Inbound:  true,
				Webhooks: true,
				Polling:  true,
			},
			Status: domain.ConnectorStatus_Active,
		},
		{
			ID:          domain.ConnectorType_Github,
			Name:        "GitHub",
			Description: "GitHub issues and repository events",
			Category:    domain.ConnectorCategory_IssueTracker,
			OAuth: &domain.ConnectorOAuth{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
				Scopes:   []string{"repo", "read:user"},
			},
			SupportsWebhooks: true,
			Capabilities: domain.ConnectorCapabilities{
				Inbound:       true,
				Outbound:      true,
				Bidirectional: true,
				Webhooks:      true,
				Polling:       true,
			},
			Status: domain.ConnectorStatus_Active,
		},
		{
			ID:          domain.ConnectorType_Jira,
			Name:        "Jira",
			Description: "Jira Cloud issue tracking",
			Category:    domain.ConnectorCategory_IssueTracker,
			APIKeyBased: true,
			Capabilities: domain.ConnectorCapabilities{
				Inbound:  true,
				Outbound: true,
				Polling:  true,
			},
			Status: domain.ConnectorStatus_Active,
		},
		{
			ID:               domain.ConnectorType_Mailjet,
			Name:             "Mailjet",
			Description:      "Transactional mail delivery events",
			Category:         domain.ConnectorCategory_Mail,
			APIKeyBased:      true,
			SupportsWebhooks: true,
			Capabilities: domain.ConnectorCapabilities{
				Inbound:  true,
				Webhooks: true,
			},
			Status: domain.ConnectorStatus_Beta,
		},
	}
}
