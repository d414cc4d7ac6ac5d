package controllers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/hivedesk/hivedesk/internal/domain"
	"github.com/hivedesk/hivedesk/internal/ingestion"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// WebhookController terminates provider webhook deliveries.
type WebhookController struct {
	pipeline *ingestion.Pipeline
}

type WebhookControllerDependencies struct {
	Pipeline *ingestion.Pipeline
}

func NewWebhookController(deps WebhookControllerDependencies) *WebhookController {
	return &WebhookController{pipeline: deps.Pipeline}
}

// HandleDelivery ingests one provider delivery. Providers retry on non-2xx,
// so the response code is the retry contract: signature failures are
// terminal 401s, unknown routes 404, and internal failures 500 so the
// provider redelivers.
func (c *WebhookController) HandleDelivery(ctx fiber.Ctx) error {
	connectorID := ctx.Params("connectorID")
	tenantID := ctx.Params("tenantID")
	payload := ctx.Body()

	delivery := ingestion.Delivery{
		TenantID:        tenantID,
		ConnectorID:     connectorID,
		ProviderEventID: extractProviderEventID(ctx, payload),
		EventType:       extractEventType(ctx, connectorID, payload),
		Payload:         payload,
		Headers:         extractSignatureHeaders(ctx, connectorID),
	}

	result, err := c.pipeline.Ingest(ctx.RequestCtx(), delivery)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
		case errors.Is(err, domain.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "no integration for this connector")
		case errors.Is(err, domain.ErrNotConnected):
			return fiber.NewError(fiber.StatusConflict, "integration is not connected")
		default:
			log.Error().Err(err).
				Str("tenant_id", tenantID).
				Str("connector_id", connectorID).
				Msg("webhook ingestion failed")
			return fiber.NewError(fiber.StatusInternalServerError, "ingestion failed")
		}
	}

	// A fresh delivery that failed normalization gets a 500 carrying the
	// stored webhook id; the provider's retry then lands on the dedup path.
	if !result.Duplicate && result.Event.Status == domain.WebhookEventStatus_Failed {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok":         false,
			"webhook_id": result.Event.ID,
			"error":      result.Event.Error,
		})
	}

	delivered := 0
	if result.Event.Status == domain.WebhookEventStatus_Processed {
		delivered = 1
	}

	body := fiber.Map{
		"ok":         true,
		"delivered":  delivered,
		"webhook_id": result.Event.ID,
	}
	if result.Duplicate {
		body["duplicate"] = true
	}

	return ctx.Status(fiber.StatusOK).JSON(body)
}

// extractProviderEventID pulls the provider's delivery id from headers or
// well-known body fields, falling back to a payload hash so every delivery
// has a stable idempotency key.
func extractProviderEventID(ctx fiber.Ctx, payload []byte) string {
	for _, header := range []string{"X-Github-Delivery", "X-Request-Id"} {
		if id := ctx.Get(header); id != "" {
			return id
		}
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err == nil {
		for _, field := range []string{"event_id", "id", "MessageID"} {
			switch id := body[field].(type) {
			case string:
				if id != "" {
					return id
				}
			case float64:
				return strconv.FormatInt(int64(id), 10)
			}
		}
	}

	sum := sha256.Sum256(payload)
	return "payload-" + hex.EncodeToString(sum[:16])
}

// extractEventType pulls the provider's event type hint from the transport
// envelope where providers send one out-of-band (GitHub's header); the
// adapter refines it from the body otherwise.
func extractEventType(ctx fiber.Ctx, connectorID string, payload []byte) string {
	if connectorID == domain.ConnectorType_Github {
		return ctx.Get("X-Github-Event")
	}

	var body struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Type != "" {
			return body.Type
		}
		return body.Event
	}

	return ""
}

func extractSignatureHeaders(ctx fiber.Ctx, connectorID string) ingestion.SignatureHeaders {
	switch connectorID {
	case domain.ConnectorType_Slack:
		return ingestion.SignatureHeaders{
			Signature: ctx.Get("X-Slack-Signature"),
			Timestamp: ctx.Get("X-Slack-Request-Timestamp"),
		}
	case domain.ConnectorType_Stripe:
		return ingestion.SignatureHeaders{Signature: ctx.Get("Stripe-Signature")}
	default:
		signature := ctx.Get("X-Hub-Signature-256")
		if signature == "" {
			signature = ctx.Get("X-Hub-Signature")
		}
		return ingestion.SignatureHeaders{Signature: signature}
	}
}
