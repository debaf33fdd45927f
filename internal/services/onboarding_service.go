// Package services coordinates the domain flows between the HTTP layer and
// the repositories and provider adapters: channel onboarding and inbound
// message processing.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/domain"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

// Onboarding error sentinels, mapped to HTTP results by the handlers.
var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrAccountNotFound  = errors.New("channel account not found")
	ErrCodeExchange     = errors.New("authorization code exchange failed")
	ErrNoPhoneNumbers   = errors.New("business account has no phone numbers")
	ErrProviderRejected = errors.New("provider rejected the request")
)

// AccountRepo is the persistence contract for channel accounts.
type AccountRepo interface {
	GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error)
	FindAccountByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ChannelAccount, error)
	UpsertChannelAccount(ctx context.Context, db *gorm.DB, tenantID, wabaID, phoneNumberID, displayNumber, tokenEnc string) (*domain.ChannelAccount, error)
	SetAccountStatus(ctx context.Context, db *gorm.DB, accountID, status string) error
}

// OnboardingGraph is the slice of the messaging provider API used while
// connecting and registering a tenant's number.
type OnboardingGraph interface {
	ExchangeCode(ctx context.Context, appID, appSecret, code string) (*whatsapp.TokenExchange, error)
	ListPhoneNumbers(ctx context.Context, token, wabaID string) ([]whatsapp.PhoneNumber, error)
	SubscribeApp(ctx context.Context, token, wabaID string) error
	RequestCode(ctx context.Context, token, phoneNumberID, method, language string) error
	RegisterPhone(ctx context.Context, token, phoneNumberID, pin string) error
}

// CacheInvalidator drops resolver cache entries when a channel mapping
// changes.
type CacheInvalidator interface {
	Invalidate(phoneNumberID string)
}

// OnboardingService connects a tenant's business account to the platform:
// it exchanges the embedded-signup authorization code for a long-lived
// token, discovers the account's phone numbers, stores the token encrypted,
// and subscribes the application to the account's webhooks.
type OnboardingService struct {
	DB    *gorm.DB
	Repo  AccountRepo
	Graph OnboardingGraph
	Vault *vault.Vault
	Cache CacheInvalidator

	AppID     string
	AppSecret string
}

// NewOnboardingService wires an OnboardingService.
func NewOnboardingService(db *gorm.DB, r AccountRepo, g OnboardingGraph, v *vault.Vault, c CacheInvalidator, appID, appSecret string) *OnboardingService {
	return &OnboardingService{DB: db, Repo: r, Graph: g, Vault: v, Cache: c, AppID: appID, AppSecret: appSecret}
}

// ConnectResult describes the channel account created or updated by Connect.
type ConnectResult struct {
	AccountID     string `json:"account_id"`
	PhoneNumberID string `json:"phone_number_id"`
	DisplayNumber string `json:"display_number"`
	VerifiedName  string `json:"verified_name"`
}

// Connect finishes the embedded-signup flow for a tenant. The access token
// is encrypted before it touches the database and the resolver cache entry
// for the phone number is dropped so the next inbound message sees the new
// mapping immediately.
func (s *OnboardingService) Connect(ctx context.Context, tenantID, code, wabaID string) (*ConnectResult, error) {
	ctx, span := otel.Tracer("services").Start(ctx, "Onboarding.Connect")
	span.SetAttributes(attribute.String("tenant_id", tenantID))
	defer span.End()

	if _, err := s.Repo.GetTenant(ctx, s.DB, tenantID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	tok, err := s.Graph.ExchangeCode(ctx, s.AppID, s.AppSecret, code)
	if err != nil {
		log.Warn().Str("tenant_id", tenantID).Err(err).Msg("code exchange failed")
		return nil, fmt.Errorf("%w: %v", ErrCodeExchange, err)
	}

	numbers, err := s.Graph.ListPhoneNumbers(ctx, tok.AccessToken, wabaID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	if len(numbers) == 0 {
		return nil, ErrNoPhoneNumbers
	}
	number := numbers[0]

	tokenEnc, err := s.Vault.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, err
	}

	acc, err := s.Repo.UpsertChannelAccount(ctx, s.DB, tenantID, wabaID, number.ID, number.DisplayNumber, tokenEnc)
	if err != nil {
		return nil, err
	}

	// Webhook subscription failure leaves the account connected but flagged,
	// so the dashboard can prompt a retry instead of repeating the whole flow.
	if err := s.Graph.SubscribeApp(ctx, tok.AccessToken, wabaID); err != nil {
		log.Error().Str("tenant_id", tenantID).Str("waba_id", wabaID).Err(err).
			Msg("webhook subscription failed after connect")
		if serr := s.Repo.SetAccountStatus(ctx, s.DB, acc.ID, domain.AccountError); serr != nil {
			log.Error().Str("account_id", acc.ID).Err(serr).Msg("status update failed")
		}
	}

	s.Cache.Invalidate(number.ID)

	return &ConnectResult{
		AccountID:     acc.ID,
		PhoneNumberID: number.ID,
		DisplayNumber: number.DisplayNumber,
		VerifiedName:  number.VerifiedName,
	}, nil
}

// Disconnect deactivates the tenant's channel account and drops its resolver
// cache entry. The stored token is kept so a reconnect can reuse it if the
// provider still honors it.
func (s *OnboardingService) Disconnect(ctx context.Context, tenantID string) error {
	ctx, span := otel.Tracer("services").Start(ctx, "Onboarding.Disconnect")
	defer span.End()

	acc, err := s.Repo.FindAccountByTenant(ctx, s.DB, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := s.Repo.SetAccountStatus(ctx, s.DB, acc.ID, domain.AccountInactive); err != nil {
		return err
	}
	s.Cache.Invalidate(acc.PhoneNumberID)
	return nil
}

// RequestVerificationCode asks the provider to send a registration code to
// the tenant's number. method is "SMS" or "VOICE"; empty selects SMS.
func (s *OnboardingService) RequestVerificationCode(ctx context.Context, tenantID, method string) error {
	acc, token, err := s.accountToken(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.Graph.RequestCode(ctx, token, acc.PhoneNumberID, method, "pt_BR"); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	return nil
}

// RegisterPhone completes number registration with the two-step PIN and
// marks the account active.
func (s *OnboardingService) RegisterPhone(ctx context.Context, tenantID, pin string) error {
	acc, token, err := s.accountToken(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.Graph.RegisterPhone(ctx, token, acc.PhoneNumberID, pin); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	if err := s.Repo.SetAccountStatus(ctx, s.DB, acc.ID, domain.AccountActive); err != nil {
		return err
	}
	s.Cache.Invalidate(acc.PhoneNumberID)
	return nil
}

// accountToken loads the tenant's account and decrypts its stored token.
func (s *OnboardingService) accountToken(ctx context.Context, tenantID string) (*domain.ChannelAccount, string, error) {
	acc, err := s.Repo.FindAccountByTenant(ctx, s.DB, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrAccountNotFound
		}
		return nil, "", err
	}
	token, err := s.Vault.Decrypt(acc.AccessTokenEnc)
	if err != nil {
		return nil, "", err
	}
	return acc, token, nil
}
