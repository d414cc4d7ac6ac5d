package controllers

import (
	"errors"

	"github.com/hivedesk/hivedesk/internal/domain"
	"github.com/hivedesk/hivedesk/internal/managers"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// OAuthController handles the authorization-code flow endpoints.
type OAuthController struct {
	manager managers.IntegrationManager
}

type OAuthControllerDependencies struct {
	Manager managers.IntegrationManager
}

func NewOAuthController(deps OAuthControllerDependencies) *OAuthController {
	return &OAuthController{manager: deps.Manager}
}

type authorizeRequest struct {
	ConnectorID string `json:"connector_id"`
	RedirectURL string `json:"redirect_url"`
}

// Authorize mints a state token and returns the provider authorization URL.
func (c *OAuthController) Authorize(ctx fiber.Ctx) error {
	var req authorizeRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	url, err := c.manager.AuthorizeURL(ctx.RequestCtx(), managers.AuthorizeParams{
		TenantID:    ctx.Params("tenantID"),
		ConnectorID: req.ConnectorID,
		UserID:      actor(ctx),
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "unknown connector")
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return ctx.JSON(fiber.Map{"authorize_url": url})
}

// Callback completes the code flow. The provider redirects the user here;
// the state token carries the tenant and connector.
func (c *OAuthController) Callback(ctx fiber.Ctx) error {
	state := ctx.Query("state")
	code := ctx.Query("code")

	if providerErr := ctx.Query("error"); providerErr != "" {
		log.Warn().Str("error", providerErr).Msg("oauth flow denied by provider")
		return fiber.NewError(fiber.StatusBadRequest, "authorization was denied")
	}
	if state == "" || code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing state or code")
	}

	integration, redirectURL, err := c.manager.CompleteOAuth(ctx.RequestCtx(), managers.CompleteOAuthParams{
		State: state,
		Code:  code,
	})
	if err != nil {
		// When the state told us where the tenant came from, send the user
		// back there with an error indicator instead of a bare error page.
		if redirectURL != "" {
			log.Warn().Err(err).Msg("oauth callback failed, redirecting back")
			return ctx.Redirect().To(redirectURL + "?error=" + errorIndicator(err))
		}

		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fiber.NewError(fiber.StatusBadRequest, "state is invalid, expired or already used")
		case errors.Is(err, domain.ErrAuthFailed):
			return fiber.NewError(fiber.StatusBadGateway, "code exchange failed")
		default:
			log.Error().Err(err).Msg("oauth callback failed")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to complete authorization")
		}
	}

	if redirectURL != "" {
		return ctx.Redirect().To(redirectURL + "?connected=" + integration.ConnectorID)
	}

	return ctx.JSON(integration)
}

func errorIndicator(err error) string {
	if errors.Is(err, domain.ErrAuthFailed) {
		return "exchange_failed"
	}
	return "connect_failed"
}
