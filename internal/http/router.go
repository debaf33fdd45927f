// Package httpapi wires the HTTP transport (Gin) to the application services,
// middleware, and route handlers: the messaging provider webhook, the tenant
// provisioning API, and campaign sends.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The webhook path is never rate limited: the provider controls that
//     traffic and throttling only causes redelivery storms
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/vendra-ai/go-agent-backend/internal/calcom"
	"github.com/vendra-ai/go-agent-backend/internal/config"
	"github.com/vendra-ai/go-agent-backend/internal/dispatch"
	"github.com/vendra-ai/go-agent-backend/internal/domain"
	"github.com/vendra-ai/go-agent-backend/internal/http/handlers"
	"github.com/vendra-ai/go-agent-backend/internal/http/middleware"
	"github.com/vendra-ai/go-agent-backend/internal/payments"
	"github.com/vendra-ai/go-agent-backend/internal/repo"
	"github.com/vendra-ai/go-agent-backend/internal/resolver"
	"github.com/vendra-ai/go-agent-backend/internal/services"
	"github.com/vendra-ai/go-agent-backend/internal/tools"
	"github.com/vendra-ai/go-agent-backend/internal/transcribe"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

// accountStoreShim adapts the repository free functions to the
// resolver.AccountStore interface. This keeps the resolver decoupled from the
// concrete repo package while reusing existing functions.
type accountStoreShim struct {
	db *gorm.DB
}

// FindActive proxies repo.FindActiveAccount.
func (s accountStoreShim) FindActive(ctx context.Context, phoneNumberID string) (*domain.ChannelAccount, error) {
	return repo.FindActiveAccount(ctx, s.db, phoneNumberID)
}

// FetchToken proxies repo.GetActiveAccountForTenant.
func (s accountStoreShim) FetchToken(ctx context.Context, tenantID, phoneNumberID string) (*domain.ChannelAccount, error) {
	return repo.GetActiveAccountForTenant(ctx, s.db, tenantID, phoneNumberID)
}

// accountRepoShim adapts the repo free functions to the onboarding contract.
type accountRepoShim struct{}

func (accountRepoShim) GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	return repo.GetTenant(ctx, db, id)
}

func (accountRepoShim) FindAccountByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ChannelAccount, error) {
	return repo.FindAccountByTenant(ctx, db, tenantID)
}

func (accountRepoShim) UpsertChannelAccount(ctx context.Context, db *gorm.DB, tenantID, wabaID, phoneNumberID, displayNumber, tokenEnc string) (*domain.ChannelAccount, error) {
	return repo.UpsertChannelAccount(ctx, db, tenantID, wabaID, phoneNumberID, displayNumber, tokenEnc)
}

func (accountRepoShim) SetAccountStatus(ctx context.Context, db *gorm.DB, accountID, status string) error {
	return repo.SetAccountStatus(ctx, db, accountID, status)
}

// dedupRepoShim adapts the dedup free functions to the inbound contract.
type dedupRepoShim struct{}

func (dedupRepoShim) SeenMessage(ctx context.Context, db *gorm.DB, messageID string, now time.Time) (bool, error) {
	return repo.SeenMessage(ctx, db, messageID, now)
}

func (dedupRepoShim) MarkMessageProcessed(ctx context.Context, db *gorm.DB, messageID, tenantID string, ttl time.Duration) error {
	return repo.MarkMessageProcessed(ctx, db, messageID, tenantID, ttl)
}

// campaignRepoShim adapts the repo free functions to the campaign contract.
type campaignRepoShim struct{}

func (campaignRepoShim) FindActiveAccountByTenant(ctx context.Context, db *gorm.DB, tenantID string) (*domain.ChannelAccount, error) {
	return repo.FindActiveAccountByTenant(ctx, db, tenantID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, constructing the provider clients and application services from
// the configuration.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//
// The rate limiter mounts on the provisioning API group only; webhook
// traffic is exempt.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, v *vault.Vault, decider services.Decider, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())

	// 3) Structured logging with redaction. The signature header carries a
	// provider-derived HMAC, masked like the built-in auth headers.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Hub-Signature-256"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; webhook batches stay far below it)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture for the dashboard-facing API
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:        cfg.Security.EnableHSTS,
		HSTSMaxAgeSeconds: int(cfg.Security.HSTSMaxAge / time.Second),
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Provider clients
	waClient := whatsapp.New(cfg.WhatsApp.GraphBaseURL, cfg.WhatsApp.APIVersion, cfg.WhatsApp.Timeout)

	calClient := calcom.New(cfg.Calendar.BaseURL, cfg.Calendar.Timezone, cfg.Calendar.FallbackOffset, cfg.Calendar.Timeout)
	calClient.MockMode = cfg.Calendar.MockMode
	if cfg.Calendar.APIKey != "" {
		calClient.Default = &calcom.Credential{
			APIKey:      cfg.Calendar.APIKey,
			EventTypeID: cfg.Calendar.EventTypeID,
		}
	}

	payClient := payments.New(cfg.Payments.BaseURL, cfg.WhatsApp.Timeout)
	payClient.MockMode = cfg.Payments.MockMode
	if cfg.Payments.APIKey != "" {
		payClient.Default = &payments.Credential{
			APIKey:  cfg.Payments.APIKey,
			PriceID: cfg.Payments.PriceID,
		}
	}

	transcriber := transcribe.New(waClient, cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.Timeout)

	dispatcher := &dispatch.Dispatcher{
		Client:               waClient,
		DefaultToken:         cfg.WhatsApp.DefaultToken,
		DefaultPhoneNumberID: cfg.WhatsApp.DefaultPhoneNumberID,
		FallbackOperator:     cfg.WhatsApp.FallbackOperator,
		AllowInactive:        cfg.WhatsApp.AllowInactive,
	}

	// Dependency injection: services ← repos/clients
	res := resolver.New(accountStoreShim{db: db}, v, cfg.ResolverCacheTTL)

	inbound := &services.InboundService{
		DB:          db,
		Dedup:       dedupRepoShim{},
		Resolver:    res,
		Dispatcher:  dispatcher,
		Transcriber: transcriber,
		Decider:     decider,
		Tools: &tools.Executor{
			Calendar: calClient,
			Payments: payClient,
			Notifier: dispatcher,
		},
		DedupTTL: cfg.DedupTTL,
	}

	onboarding := services.NewOnboardingService(db, accountRepoShim{}, waClient, v, res,
		cfg.WhatsApp.AppID, cfg.WhatsApp.AppSecret)

	campaigns := &services.CampaignService{
		DB:     db,
		Repo:   campaignRepoShim{},
		Vault:  v,
		Sender: dispatcher,
	}

	h := handlers.New(inbound, onboarding, campaigns, cfg.WhatsApp.VerifyToken)

	// Webhook (not rate limited)
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.ReceiveWebhook)

	// Provisioning and campaign API, rate limited per tenant/IP.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTenantOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler())
	{
		api.POST("/tenants/:tenantID/channel", h.ConnectChannel)
		api.DELETE("/tenants/:tenantID/channel", h.DisconnectChannel)
		api.POST("/tenants/:tenantID/channel/verification-code", h.RequestVerificationCode)
		api.POST("/tenants/:tenantID/channel/register", h.RegisterPhone)

		api.POST("/tenants/:tenantID/campaigns", h.SendCampaign)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader. Requests exceeding the cap fail on body read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
