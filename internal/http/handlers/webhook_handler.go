// Messaging provider webhook endpoints.
//
//   - GET  /webhook  (subscription verification handshake)
//   - POST /webhook  (inbound message events)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vendra-ai/go-agent-backend/internal/services"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

// InboundProcessor consumes a parsed webhook payload. An error means a
// transient processing failure; the handler answers non-2xx so the provider
// redelivers the event.
type InboundProcessor interface {
	HandleEvent(ctx context.Context, payload *whatsapp.WebhookPayload) error
}

// ProvisioningService manages a tenant's channel connection lifecycle.
type ProvisioningService interface {
	Connect(ctx context.Context, tenantID, code, wabaID string) (*services.ConnectResult, error)
	Disconnect(ctx context.Context, tenantID string) error
	RequestVerificationCode(ctx context.Context, tenantID, method string) error
	RegisterPhone(ctx context.Context, tenantID, pin string) error
}

// CampaignSender delivers a template batch on behalf of a tenant.
type CampaignSender interface {
	Send(ctx context.Context, tenantID string, req services.CampaignSend) ([]services.RecipientResult, error)
}

// Handlers groups the HTTP endpoints: webhook intake, channel provisioning,
// and campaign sends. Dependencies are abstract so transport stays separate
// from the flows behind it.
type Handlers struct {
	inbound      InboundProcessor
	provisioning ProvisioningService
	campaigns    CampaignSender
	verifyToken  string
}

// New constructs a Handlers instance bound to the given services. The verify
// token is the shared secret the provider echoes during the GET handshake.
func New(inbound InboundProcessor, prov ProvisioningService, camp CampaignSender, verifyToken string) *Handlers {
	return &Handlers{
		inbound:      inbound,
		provisioning: prov,
		campaigns:    camp,
		verifyToken:  verifyToken,
	}
}

// VerifyWebhook answers the provider's subscription handshake: the challenge
// is echoed back verbatim when the mode and shared token match, anything else
// is refused.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken && challenge != "" {
		c.String(http.StatusOK, "%s", challenge)
		return
	}
	fail(c, http.StatusForbidden, ErrCodeUnauthorized, "verification failed")
}

// ReceiveWebhook ingests an inbound event batch.
//
// A malformed body is answered 400 and never retried here; the provider gives
// up on its own. A transient store failure is answered 503 so the provider
// redelivers, which the dedup table makes safe. Everything else, including
// events for unknown numbers, is acknowledged 200.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	var payload whatsapp.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid webhook payload")
		return
	}

	// HandleEvent errors are transient-infra only by contract; answer 503
	// so the provider redelivers.
	if err := h.inbound.HandleEvent(c.Request.Context(), &payload); err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "temporarily unable to process events")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "received"})
}
