package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vendra-ai/go-agent-backend/internal/config"
	"github.com/vendra-ai/go-agent-backend/internal/domain"
	"github.com/vendra-ai/go-agent-backend/internal/repo"
	"github.com/vendra-ai/go-agent-backend/internal/services"
	"github.com/vendra-ai/go-agent-backend/internal/vault"
)

const testVaultKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func newRouterDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// replyDecider answers every turn with one fixed text reply.
type replyDecider struct {
	reply string
}

func (d replyDecider) Decide(context.Context, services.DecisionInput) (services.Decision, error) {
	return services.Decision{Reply: d.reply}, nil
}

// fakeGraphServer accepts any provider call and answers a canned message id.
func fakeGraphServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messages":[{"id":"wamid.fake"}],"success":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(graphURL string) config.Config {
	return config.Config{
		GinMode:          gin.TestMode,
		APIBasePath:      "/api/v1",
		VaultKey:         testVaultKey,
		ResolverCacheTTL: time.Minute,
		DedupTTL:         time.Hour,
		RateRPS:          100,
		RateBurst:        100,
		WhatsApp: config.WhatsAppConfig{
			GraphBaseURL: graphURL,
			APIVersion:   "v20.0",
			VerifyToken:  "verify-secret",
			Timeout:      2 * time.Second,
		},
		Calendar: config.CalendarConfig{
			Timezone:       "America/Sao_Paulo",
			FallbackOffset: "-03:00",
			MockMode:       true,
			Timeout:        time.Second,
		},
		Payments: config.PaymentsConfig{MockMode: true},
		Speech:   config.SpeechConfig{Timeout: time.Second}, // no key: transcription disabled
	}
}

func newTestEngine(t *testing.T, db *gorm.DB, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	r := gin.New()
	RegisterRoutes(r, db, v, replyDecider{reply: "Olá! Como posso ajudar?"}, cfg)
	return r
}

func seedConnectedTenant(t *testing.T, db *gorm.DB, phoneNumberID string) *domain.Tenant {
	t.Helper()
	ctx := context.Background()
	tn, err := repo.CreateTenant(ctx, db, "Acme", "ops@acme.test")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	if err := repo.SetSubscriptionStatus(ctx, db, tn.ID, domain.SubscriptionActive); err != nil {
		t.Fatalf("subscription: %v", err)
	}
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	enc, err := v.Encrypt("EAAG.tenant.token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	acc, err := repo.UpsertChannelAccount(ctx, db, tn.ID, "waba-1", phoneNumberID, "+55 11 4004-0000", enc)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if err := repo.SetAccountStatus(ctx, db, acc.ID, domain.AccountActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return tn
}

func webhookTextBody(phoneNumberID, messageID, from, text string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "waba-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "+55 11 4004-0000", "phone_number_id": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ana"}}],
					"messages": [{"from": %q, "id": %q, "timestamp": "1724700000", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, phoneNumberID, from, from, messageID, text)
}

func TestRouter_HealthMetricsAndFallbacks(t *testing.T) {
	srv, _ := fakeGraphServer(t)
	r := newTestEngine(t, newRouterDB(t), testConfig(srv.URL))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("metrics: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "not_found") {
		t.Fatalf("no-route fallback: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("no-method fallback: %d", w.Code)
	}
}

func TestRouter_WebhookHandshake(t *testing.T) {
	srv, _ := fakeGraphServer(t)
	r := newTestEngine(t, newRouterDB(t), testConfig(srv.URL))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=777", nil))
	if w.Code != http.StatusOK || w.Body.String() != "777" {
		t.Fatalf("handshake: %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=777", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad token: %d", w.Code)
	}
}

func TestRouter_InboundTurnEndToEnd(t *testing.T) {
	srv, calls := fakeGraphServer(t)
	db := newRouterDB(t)
	seedConnectedTenant(t, db, "555000")
	r := newTestEngine(t, db, testConfig(srv.URL))

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(webhookTextBody("555000", "wamid.in.1", "5511999990001", "Oi, quero saber mais"))
	if w.Code != http.StatusOK {
		t.Fatalf("inbound: %d %s", w.Code, w.Body.String())
	}
	// Read receipt + text reply both hit the fake provider.
	if got := calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d; want 2", got)
	}

	// Redelivery of the same message id is acknowledged without reprocessing.
	w = post(webhookTextBody("555000", "wamid.in.1", "5511999990001", "Oi, quero saber mais"))
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery: %d", w.Code)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("duplicate was reprocessed: provider calls = %d", got)
	}

	// Unknown number: acknowledged and dropped.
	w = post(webhookTextBody("999999", "wamid.in.2", "5511999990001", "oi"))
	if w.Code != http.StatusOK {
		t.Fatalf("unknown number: %d", w.Code)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("unknown number reached the provider: %d", got)
	}
}

func TestRouter_ProvisioningValidationUnderAPIBase(t *testing.T) {
	srv, _ := fakeGraphServer(t)
	r := newTestEngine(t, newRouterDB(t), testConfig(srv.URL))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/t-1/channel", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("connect validation: %d %s", w.Code, w.Body.String())
	}

	// Mounted only under the base path.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/tenants/t-1/channel", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unprefixed route: %d", w.Code)
	}
}

func TestRouter_CampaignNotConnected(t *testing.T) {
	srv, _ := fakeGraphServer(t)
	db := newRouterDB(t)
	r := newTestEngine(t, db, testConfig(srv.URL))

	tn, err := repo.CreateTenant(context.Background(), db, "Acme", "ops@acme.test")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/"+tn.ID+"/campaigns",
		strings.NewReader(`{"template":"promo","recipients":["5511999990001"]}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "not_connected") {
		t.Fatalf("campaign without channel: %d %s", w.Code, w.Body.String())
	}
}
