package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// TokenExchange is the result of trading an authorization code for a
// long-lived business token.
type TokenExchange struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// ExchangeCode trades the embedded-signup authorization code for a long-lived
// access token. Runs once per onboarding, never in the inbound hot path.
func (c *Client) ExchangeCode(ctx context.Context, appID, appSecret, code string) (*TokenExchange, error) {
	q := url.Values{}
	q.Set("client_id", appID)
	q.Set("client_secret", appSecret)
	q.Set("code", code)

	raw, err := c.get(ctx, "", "oauth/access_token?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var tok TokenExchange
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp: token exchange returned no access_token")
	}
	return &tok, nil
}

// PhoneNumber is one business number attached to a WABA.
type PhoneNumber struct {
	ID            string `json:"id"`
	DisplayNumber string `json:"display_phone_number"`
	VerifiedName  string `json:"verified_name"`
}

// ListPhoneNumbers discovers the business numbers of a WABA.
func (c *Client) ListPhoneNumbers(ctx context.Context, token, wabaID string) ([]PhoneNumber, error) {
	raw, err := c.get(ctx, token, wabaID+"/phone_numbers")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []PhoneNumber `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SubscribeApp subscribes the application to webhook updates for a WABA.
func (c *Client) SubscribeApp(ctx context.Context, token, wabaID string) error {
	_, err := c.post(ctx, token, wabaID+"/subscribed_apps", nil)
	return err
}

// RequestCode asks the platform to send a verification code to the business
// number. method is SMS or VOICE; language a locale like pt_BR.
func (c *Client) RequestCode(ctx context.Context, token, phoneNumberID, method, language string) error {
	if method == "" {
		method = "SMS"
	}
	if language == "" {
		language = "pt_BR"
	}
	payload := map[string]any{
		"code_method": method,
		"language":    language,
	}
	_, err := c.post(ctx, token, phoneNumberID+"/request_code", payload)
	return err
}

// RegisterPhone completes number registration on the Cloud API with the
// two-step verification PIN.
func (c *Client) RegisterPhone(ctx context.Context, token, phoneNumberID, pin string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"pin":               pin,
	}
	_, err := c.post(ctx, token, phoneNumberID+"/register", payload)
	return err
}
