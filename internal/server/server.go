package server

import (
	"context"
	"time"

	"github.com/hivedesk/hivedesk/internal/controllers"
	"github.com/hivedesk/hivedesk/internal/observability"
	"github.com/hivedesk/hivedesk/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerDependencies struct {
	WebhookController     *controllers.WebhookController
	IntegrationController *controllers.IntegrationController
	OAuthController       *controllers.OAuthController
	Metrics               *observability.Metrics
}

func NewHTTPServer(ctx context.Context, deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "hivedesk-connectors",
	})

	// Add basic middleware
	router.Use(cors.New())
	router.Use(logger.New())

	// Health check endpoint (no authentication required)
	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "hivedesk-connectors",
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	if deps.Metrics != nil {
		router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
			deps.Metrics.Registry,
			promhttp.HandlerOpts{},
		)))
	}

	// Provider deliveries; intentionally outside the tenant API group since
	// providers authenticate with signatures, not platform auth.
	router.Post("/webhooks/:connectorID/:tenantID", deps.WebhookController.HandleDelivery)

	// Provider OAuth redirect target.
	router.Get("/connectors/oauth/callback", deps.OAuthController.Callback)

	// Connector catalog.
	router.Get("/connectors", deps.IntegrationController.ListConnectors)
	router.Get("/connectors/:connectorID", deps.IntegrationController.GetConnector)

	// Tenant management API.
	tenant := router.Group("/tenants/:tenantID")

	tenant.Post("/oauth/authorize", deps.OAuthController.Authorize)

	tenant.Get("/integrations", deps.IntegrationController.ListIntegrations)
	tenant.Post("/integrations", deps.IntegrationController.ConnectIntegration)
	tenant.Get("/integrations/:integrationID", deps.IntegrationController.GetIntegration)
	tenant.Delete("/integrations/:integrationID", deps.IntegrationController.DisconnectIntegration)
	tenant.Post("/integrations/:integrationID/test", deps.IntegrationController.TestIntegration)
	tenant.Post("/integrations/:integrationID/refresh", deps.IntegrationController.RefreshIntegration)
	tenant.Post("/integrations/:integrationID/actions", deps.IntegrationController.ExecuteAction)
	tenant.Get("/integrations/:integrationID/metrics", deps.IntegrationController.GetIntegrationMetrics)

	tenant.Post("/integrations/:integrationID/sync", deps.IntegrationController.StartSync)
	tenant.Get("/sync-jobs/:jobID", deps.IntegrationController.GetSyncJob)
	tenant.Post("/sync-jobs/:jobID/cancel", deps.IntegrationController.CancelSyncJob)

	tenant.Get("/logs", deps.IntegrationController.ListLogs)
	tenant.Get("/alerts", deps.IntegrationController.ListAlerts)
	tenant.Post("/alerts/:alertID/ack", deps.IntegrationController.AcknowledgeAlert)

	return router
}
