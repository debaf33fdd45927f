// Package payments issues checkout links through a Stripe-style billing
// provider. Like the calendar adapter, it resolves credentials per tenant
// with a global fallback and treats "unconfigured" as an expected state.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Credential is a per-tenant billing configuration.
type Credential struct {
	APIKey   string
	PriceID  string
	TenantID string
}

func (c Credential) complete() bool { return c.APIKey != "" && c.PriceID != "" }

// Link is the outcome of a payment-link request.
type Link struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the billing provider. Construct with New.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Default is the global fallback credential; nil means tenants without
	// their own configuration cannot issue links.
	Default *Credential

	// MockMode issues deterministic links without touching the provider.
	MockMode bool
}

// New returns a Client with production defaults. baseURL "" selects the real
// endpoint.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) credential(tenant *Credential) (Credential, bool) {
	if tenant != nil && tenant.complete() {
		return *tenant, true
	}
	if c.Default != nil && c.Default.complete() {
		return *c.Default, true
	}
	return Credential{}, false
}

// CreateLink issues a single-use checkout link for the tenant's configured
// price. customerRef is attached as metadata so the billing dashboard can be
// matched back to the conversation; it is never sent to the customer's bank.
func (c *Client) CreateLink(ctx context.Context, customerRef string, tenantCred *Credential) Link {
	if c.MockMode {
		id := "mock-" + uuid.NewString()
		return Link{Success: true, ID: id, URL: "https://pay.example.com/" + id}
	}
	cred, ok := c.credential(tenantCred)
	if !ok {
		return Link{Success: false, Error: "no billing configured"}
	}

	form := url.Values{}
	form.Set("line_items[0][price]", cred.PriceID)
	form.Set("line_items[0][quantity]", "1")
	if customerRef != "" {
		form.Set("metadata[customer_ref]", customerRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/payment_links", strings.NewReader(form.Encode()))
	if err != nil {
		return Link{Success: false, Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Error().Str("tenant_id", cred.TenantID).Err(err).Msg("payment link request failed")
		return Link{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Error().Str("tenant_id", cred.TenantID).
			Int("provider_status", resp.StatusCode).
			Str("provider_body", string(raw)).
			Msg("payment link rejected by provider")
		return Link{Success: false, Error: fmt.Sprintf("provider status %d", resp.StatusCode)}
	}

	var body struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.URL == "" {
		return Link{Success: false, Error: "unreadable provider response"}
	}
	return Link{Success: true, ID: body.ID, URL: body.URL}
}
