package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/dispatch"
	"github.com/vendra-ai/go-agent-backend/internal/domain"
	"github.com/vendra-ai/go-agent-backend/internal/resolver"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

// CampaignAccountRepo is the persistence slice a campaign send needs.
type CampaignAccountRepo interface {
	FindActiveAccountByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ChannelAccount, error)
}

// TemplateSender sends one pre-approved template message. Implemented by
// dispatch.Dispatcher.
type TemplateSender interface {
	SendTemplate(ctx context.Context, creds *resolver.Credentials, to, name, language string, components []whatsapp.TemplateComponent) dispatch.TemplateResult
}

// CampaignSend describes one outbound template batch. Only pre-approved
// templates may open conversations outside the provider's service window,
// so campaigns are template-only.
type CampaignSend struct {
	Template   string
	Language   string // defaults to pt_BR
	Components []whatsapp.TemplateComponent
	Recipients []string
}

// RecipientResult is the per-recipient outcome of a campaign send.
type RecipientResult struct {
	To string `json:"to"`
	dispatch.TemplateResult
}

// CampaignService sends template campaigns on behalf of a tenant, using the
// tenant's own connected number and decrypted token.
type CampaignService struct {
	DB     *gorm.DB
	Repo   CampaignAccountRepo
	Vault  *vault.Vault
	Sender TemplateSender
}

// Send delivers the template to every recipient sequentially and reports the
// provider outcome per recipient. Delivery failures never abort the batch.
//
// Errors are reserved for preconditions: ErrAccountNotFound when the tenant
// has no active number, or a vault failure on the stored token.
func (s *CampaignService) Send(ctx context.Context, tenantID string, req CampaignSend) ([]RecipientResult, error) {
	tr := otel.Tracer("services")
	ctx, span := tr.Start(ctx, "CampaignSend", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("template.name", req.Template),
		attribute.Int("campaign.recipients", len(req.Recipients)),
	))
	defer span.End()

	acc, err := s.Repo.FindActiveAccountByTenant(ctx, s.DB, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	token, err := s.Vault.Decrypt(acc.AccessTokenEnc)
	if err != nil {
		return nil, err
	}

	creds := &resolver.Credentials{
		TenantID:           acc.TenantID,
		PhoneNumberID:      acc.PhoneNumberID,
		AccessToken:        token,
		SubscriptionActive: acc.Tenant.SubscriptionIsActive(),
		Settings:           acc.Tenant.ParseSettings(),
	}

	lang := normalizeLanguage(req.Language)

	results := make([]RecipientResult, 0, len(req.Recipients))
	for _, to := range req.Recipients {
		res := s.Sender.SendTemplate(ctx, creds, to, req.Template, lang, req.Components)
		results = append(results, RecipientResult{To: to, TemplateResult: res})
	}
	return results, nil
}

// normalizeLanguage canonicalizes a BCP 47 tag in either hyphen or
// underscore form to the provider's underscore convention ("pt-br" and
// "pt_br" both become "pt_BR"). Empty or unparseable input falls back to
// pt_BR, the product's default locale.
func normalizeLanguage(raw string) string {
	if raw == "" {
		return "pt_BR"
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return "pt_BR"
	}
	return strings.ReplaceAll(tag.String(), "-", "_")
}
