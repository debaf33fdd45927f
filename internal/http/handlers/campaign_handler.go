// Campaign endpoint:
//
//   - POST /tenants/{id}/campaigns  (template batch send)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vendra-ai/go-agent-backend/internal/http/middleware"
	"github.com/vendra-ai/go-agent-backend/internal/services"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

// maxCampaignRecipients bounds one synchronous batch; larger campaigns are
// the caller's job to chunk.
const maxCampaignRecipients = 500

// CampaignRequest is the JSON payload for a template batch send.
type CampaignRequest struct {
	Template   string                       `json:"template" binding:"required"`
	Language   string                       `json:"language"`
	Components []whatsapp.TemplateComponent `json:"components"`
	Recipients []string                     `json:"recipients" binding:"required,min=1"`
}

// CampaignResponse reports the per-recipient provider outcome.
type CampaignResponse struct {
	Results []services.RecipientResult `json:"results"`
}

// SendCampaign delivers a pre-approved template to each recipient on the
// tenant's connected number and reports per-recipient outcomes. Individual
// delivery failures come back in the result list, not as an HTTP error.
func (h *Handlers) SendCampaign(c *gin.Context) {
	tenantID := c.Param("tenantID")
	middleware.SetTenantID(c, tenantID)

	var req CampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "template and at least one recipient are required")
		return
	}
	if len(req.Recipients) > maxCampaignRecipients {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "too many recipients in one batch")
		return
	}

	results, err := h.campaigns.Send(c.Request.Context(), tenantID, services.CampaignSend{
		Template:   req.Template,
		Language:   req.Language,
		Components: req.Components,
		Recipients: req.Recipients,
	})
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			fail(c, http.StatusConflict, ErrCodeNotConnected, "no channel connected for tenant")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, CampaignResponse{Results: results})
}
