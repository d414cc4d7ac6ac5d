package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/hivedesk/hivedesk/internal/domain"
	"github.com/hivedesk/hivedesk/internal/managers"
	"github.com/hivedesk/hivedesk/internal/observability"
	"github.com/hivedesk/hivedesk/internal/syncworker"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// IntegrationController handles the tenant-scoped management API.
type IntegrationController struct {
	manager       managers.IntegrationManager
	registry      domain.ConnectorRegistry
	worker        *syncworker.Worker
	observability *observability.Service
}

type IntegrationControllerDependencies struct {
	Manager       managers.IntegrationManager
	Registry      domain.ConnectorRegistry
	Worker        *syncworker.Worker
	Observability *observability.Service
}

func NewIntegrationController(deps IntegrationControllerDependencies) *IntegrationController {
	return &IntegrationController{
		manager:       deps.Manager,
		registry:      deps.Registry,
		worker:        deps.Worker,
		observability: deps.Observability,
	}
}

// ListConnectors returns the connector catalog, optionally filtered by
// category.
func (c *IntegrationController) ListConnectors(ctx fiber.Ctx) error {
	if category := ctx.Query("category"); category != "" {
		return ctx.JSON(c.registry.ListByCategory(domain.ConnectorCategory(category)))
	}

	return ctx.JSON(c.registry.ListActive())
}

func (c *IntegrationController) GetConnector(ctx fiber.Ctx) error {
	connector, ok := c.registry.Get(ctx.Params("connectorID"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown connector")
	}

	return ctx.JSON(connector)
}

type connectRequest struct {
	ConnectorID string                   `json:"connector_id"`
	Credentials map[string]string        `json:"credentials"`
	Config      domain.IntegrationConfig `json:"config"`
}

// ConnectIntegration connects an API-key connector with tenant-supplied
// credentials. OAuth connectors go through the authorize/callback flow
// instead.
func (c *IntegrationController) ConnectIntegration(ctx fiber.Ctx) error {
	var req connectRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	// OAuth connectors with no credentials supplied start the code flow
	// instead of connecting directly.
	if connector, ok := c.registry.Get(req.ConnectorID); ok && connector.IsOAuth() && len(req.Credentials) == 0 {
		url, err := c.manager.AuthorizeURL(ctx.RequestCtx(), managers.AuthorizeParams{
			TenantID:    ctx.Params("tenantID"),
			ConnectorID: req.ConnectorID,
			UserID:      actor(ctx),
		})
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return ctx.JSON(fiber.Map{"authorize_url": url})
	}

	integration, err := c.manager.ConnectIntegration(ctx.RequestCtx(), managers.ConnectParams{
		TenantID:    ctx.Params("tenantID"),
		ConnectorID: req.ConnectorID,
		Credentials: req.Credentials,
		Config:      req.Config,
		Actor:       actor(ctx),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "unknown connector")
		case errors.Is(err, domain.ErrAuthFailed):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("failed to connect integration")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to connect integration")
		}
	}

	return ctx.Status(fiber.StatusCreated).JSON(integration)
}

func (c *IntegrationController) ListIntegrations(ctx fiber.Ctx) error {
	integrations, err := c.manager.ListIntegrations(ctx.RequestCtx(), ctx.Params("tenantID"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list integrations")
	}

	return ctx.JSON(integrations)
}

func (c *IntegrationController) GetIntegration(ctx fiber.Ctx) error {
	integration, err := c.manager.GetIntegration(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("integrationID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load integration")
	}

	return ctx.JSON(integration)
}

func (c *IntegrationController) DisconnectIntegration(ctx fiber.Ctx) error {
	err := c.manager.DisconnectIntegration(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("integrationID"), actor(ctx))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to disconnect integration")
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *IntegrationController) TestIntegration(ctx fiber.Ctx) error {
	err := c.manager.TestIntegration(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("integrationID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		}
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}

	return ctx.JSON(fiber.Map{"ok": true})
}

func (c *IntegrationController) RefreshIntegration(ctx fiber.Ctx) error {
	err := c.manager.RefreshIntegrationTokens(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("integrationID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		case errors.Is(err, domain.ErrRefreshUnsupported):
			return fiber.NewError(fiber.StatusBadRequest, "connector does not support token refresh")
		default:
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
	}

	return ctx.JSON(fiber.Map{"ok": true})
}

type actionRequest struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

// ExecuteAction pushes data to the provider through the integration's
// adapter.
func (c *IntegrationController) ExecuteAction(ctx fiber.Ctx) error {
	var req actionRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Action == "" {
		return fiber.NewError(fiber.StatusBadRequest, "action is required")
	}

	result, err := c.manager.ExecuteAction(ctx.RequestCtx(), managers.ActionParams{
		TenantID:      ctx.Params("tenantID"),
		IntegrationID: ctx.Params("integrationID"),
		Action:        req.Action,
		Data:          req.Data,
		Actor:         actor(ctx),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		case errors.Is(err, domain.ErrNotConnected):
			return fiber.NewError(fiber.StatusConflict, "integration is not connected")
		case errors.Is(err, domain.ErrAuthFailed):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		default:
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	return ctx.JSON(fiber.Map{"ok": true, "result": result})
}

type startSyncRequest struct {
	Type domain.SyncType `json:"type"`
}

// StartSync creates and launches a sync job for the integration.
func (c *IntegrationController) StartSync(ctx fiber.Ctx) error {
	var req startSyncRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Type == "" {
		req.Type = domain.SyncType_Incremental
	}

	job, err := c.worker.CreateJob(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("integrationID"), req.Type)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		case errors.Is(err, domain.ErrSyncInProgress):
			return fiber.NewError(fiber.StatusConflict, "a sync job is already in progress")
		case errors.Is(err, domain.ErrNotConnected):
			return fiber.NewError(fiber.StatusConflict, "integration is not connected")
		default:
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	// detached from the request context so the job survives the response
	runCtx := context.WithoutCancel(ctx.RequestCtx())
	go func() {
		if err := c.worker.Run(runCtx, job); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("sync job failed")
		}
	}()

	return ctx.Status(fiber.StatusAccepted).JSON(job)
}

func (c *IntegrationController) GetSyncJob(ctx fiber.Ctx) error {
	job, err := c.worker.GetJob(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("jobID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "sync job not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load sync job")
	}

	return ctx.JSON(job)
}

func (c *IntegrationController) CancelSyncJob(ctx fiber.Ctx) error {
	err := c.worker.CancelJob(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("jobID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "sync job not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to cancel sync job")
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *IntegrationController) GetIntegrationMetrics(ctx fiber.Ctx) error {
	metrics, err := c.observability.IntegrationMetrics(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("integrationID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "integration not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to compute metrics")
	}

	return ctx.JSON(metrics)
}

func (c *IntegrationController) ListLogs(ctx fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "100"))

	logs, err := c.observability.ListLogs(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Query("integration_id"), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list logs")
	}

	return ctx.JSON(logs)
}

func (c *IntegrationController) ListAlerts(ctx fiber.Ctx) error {
	openOnly := ctx.Query("open", "true") != "false"

	alerts, err := c.observability.ListAlerts(ctx.RequestCtx(), ctx.Params("tenantID"), openOnly)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list alerts")
	}

	return ctx.JSON(alerts)
}

func (c *IntegrationController) AcknowledgeAlert(ctx fiber.Ctx) error {
	err := c.observability.Acknowledge(ctx.RequestCtx(), ctx.Params("tenantID"), ctx.Params("alertID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "alert not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to acknowledge alert")
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// actor returns the authenticated caller identity set by the edge gateway.
func actor(ctx fiber.Ctx) string {
	if user := ctx.Get("X-User-Id"); user != "" {
		return user
	}
	return "api"
}
