// Channel provisioning endpoints (embedded-signup flow):
//
//   - POST   /tenants/{id}/channel                    (connect via auth code)
//   - DELETE /tenants/{id}/channel                    (disconnect)
//   - POST   /tenants/{id}/channel/verification-code  (request SMS/voice code)
//   - POST   /tenants/{id}/channel/register           (register number with PIN)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vendra-ai/go-agent-backend/internal/http/middleware"
	"github.com/vendra-ai/go-agent-backend/internal/services"
)

// ConnectRequest is the JSON payload for connecting a tenant's channel.
type ConnectRequest struct {
	// Code is the short-lived authorization code from embedded signup.
	Code string `json:"code" binding:"required"`
	// WABAID is the business account whose numbers will be connected.
	WABAID string `json:"waba_id" binding:"required"`
}

// RequestCodeRequest selects the delivery method for the verification code.
type RequestCodeRequest struct {
	Method string `json:"method"` // "SMS" (default) or "VOICE"
}

// RegisterRequest carries the PIN received out-of-band.
type RegisterRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// ConnectChannel exchanges the signup authorization code, stores the token
// encrypted, and subscribes the app to the tenant's business account.
func (h *Handlers) ConnectChannel(c *gin.Context) {
	tenantID := c.Param("tenantID")
	middleware.SetTenantID(c, tenantID)

	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "code and waba_id are required")
		return
	}

	res, err := h.provisioning.Connect(c.Request.Context(), tenantID, req.Code, req.WABAID)
	if err != nil {
		failProvisioning(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// DisconnectChannel deactivates the tenant's connected number. Inbound events
// for it stop resolving as soon as the mapping cache entry drops.
func (h *Handlers) DisconnectChannel(c *gin.Context) {
	tenantID := c.Param("tenantID")
	middleware.SetTenantID(c, tenantID)

	if err := h.provisioning.Disconnect(c.Request.Context(), tenantID); err != nil {
		failProvisioning(c, err)
		return
	}
	noContent(c)
}

// RequestVerificationCode asks the provider to deliver a verification code to
// the tenant's number via SMS or voice call.
func (h *Handlers) RequestVerificationCode(c *gin.Context) {
	tenantID := c.Param("tenantID")
	middleware.SetTenantID(c, tenantID)

	var req RequestCodeRequest
	_ = c.ShouldBindJSON(&req) // body optional, method defaults to SMS
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "SMS"
	}
	if method != "SMS" && method != "VOICE" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "method must be SMS or VOICE")
		return
	}

	if err := h.provisioning.RequestVerificationCode(c.Request.Context(), tenantID, method); err != nil {
		failProvisioning(c, err)
		return
	}
	ok(c, http.StatusAccepted, gin.H{"status": "code_requested"})
}

// RegisterPhone completes number registration with the received PIN and
// activates the account.
func (h *Handlers) RegisterPhone(c *gin.Context) {
	tenantID := c.Param("tenantID")
	middleware.SetTenantID(c, tenantID)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pin is required")
		return
	}

	if err := h.provisioning.RegisterPhone(c.Request.Context(), tenantID, req.PIN); err != nil {
		failProvisioning(c, err)
		return
	}
	noContent(c)
}

// failProvisioning maps the onboarding sentinels to the HTTP taxonomy.
func failProvisioning(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTenantNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "tenant not found")
	case errors.Is(err, services.ErrAccountNotFound):
		fail(c, http.StatusConflict, ErrCodeNotConnected, "no channel connected for tenant")
	case errors.Is(err, services.ErrCodeExchange):
		fail(c, http.StatusBadGateway, ErrCodeProviderRejected, "authorization code exchange failed")
	case errors.Is(err, services.ErrNoPhoneNumbers):
		fail(c, http.StatusUnprocessableEntity, ErrCodeNoPhoneNumbers, "business account has no phone numbers")
	case errors.Is(err, services.ErrProviderRejected):
		fail(c, http.StatusBadGateway, ErrCodeProviderRejected, "provider rejected the request")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
