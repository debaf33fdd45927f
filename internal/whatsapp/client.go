// Package whatsapp is a thin client for the WhatsApp Cloud (Graph) API.
// It speaks the wire format only; credential resolution, fail-soft policy
// and logging live in the dispatch package.
//
// All methods take the bearer token and phone-number ID per call because the
// backend acts on behalf of many tenants over one shared HTTP client.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"

	// Cloud API limits for interactive messages. Oversized input is
	// truncated rather than rejected: losing the 11th row beats losing
	// the whole message.
	maxListRows     = 10
	maxRowTitleLen  = 24
	maxRowDescLen   = 72
	maxButtonTitles = 20
)

// APIError is a non-2xx response from the Graph API. The body is kept
// verbatim for diagnostics and campaign failure reporting.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client issues Graph API calls. The zero value is not usable; call New.
type Client struct {
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// New returns a Client with production defaults. baseURL is overridable for
// tests; pass "" for the real endpoint.
func New(baseURL, apiVersion string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIVersion: apiVersion,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// ListItem is one selectable row of an interactive list message.
type ListItem struct {
	ID          string
	Title       string
	Description string
}

// TemplateComponent is one component of a pre-approved template message.
// Components whose parameters are all empty are stripped before sending;
// the API rejects templates with empty placeholders.
type TemplateComponent struct {
	Type       string              `json:"type"` // header | body | button
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

// TemplateParameter is a single placeholder value.
type TemplateParameter struct {
	Type string `json:"type"` // text
	Text string `json:"text"`
}

// sendResponse is the relevant slice of the messages endpoint response.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a plain text message and returns the provider message ID.
func (c *Client) SendText(ctx context.Context, token, phoneNumberID, to, body string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": body},
	}
	return c.sendMessage(ctx, token, phoneNumberID, payload)
}

// SendInteractiveList sends a list message. Rows beyond the provider cap are
// dropped and over-long titles/descriptions are clipped by rune count.
func (c *Client) SendInteractiveList(ctx context.Context, token, phoneNumberID, to, header, body string, items []ListItem) (string, error) {
	if len(items) > maxListRows {
		items = items[:maxListRows]
	}
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		row := map[string]any{
			"id":    it.ID,
			"title": clipRunes(it.Title, maxRowTitleLen),
		}
		if it.Description != "" {
			row["description"] = clipRunes(it.Description, maxRowDescLen)
		}
		rows = append(rows, row)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "list",
			"header": map[string]any{"type": "text", "text": header},
			"body":   map[string]any{"text": body},
			"action": map[string]any{
				"button": "Ver opções",
				"sections": []map[string]any{
					{"title": header, "rows": rows},
				},
			},
		},
	}
	return c.sendMessage(ctx, token, phoneNumberID, payload)
}

// Fixed reply IDs for SendConfirmationButtons. The conversation layer
// interprets them; the dispatcher is stateless.
const (
	ReplyConfirm     = "confirm_slot"
	ReplyAnotherTime = "request_another_time"
	labelConfirm     = "Confirmar"
	labelAnotherTime = "Outro horário"
)

// SendConfirmationButtons sends the fixed confirm / other-time button pair.
func (c *Client) SendConfirmationButtons(ctx context.Context, token, phoneNumberID, to, body string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]any{"text": body},
			"action": map[string]any{
				"buttons": []map[string]any{
					{"type": "reply", "reply": map[string]any{"id": ReplyConfirm, "title": clipRunes(labelConfirm, maxButtonTitles)}},
					{"type": "reply", "reply": map[string]any{"id": ReplyAnotherTime, "title": clipRunes(labelAnotherTime, maxButtonTitles)}},
				},
			},
		},
	}
	return c.sendMessage(ctx, token, phoneNumberID, payload)
}

// SendTemplate sends a pre-approved template message. Components whose
// parameters are all blank are omitted entirely.
func (c *Client) SendTemplate(ctx context.Context, token, phoneNumberID, to, name, language string, components []TemplateComponent) (string, error) {
	kept := make([]TemplateComponent, 0, len(components))
	for _, comp := range components {
		if hasContent(comp) {
			kept = append(kept, comp)
		}
	}

	tpl := map[string]any{
		"name":     name,
		"language": map[string]any{"code": language},
	}
	if len(kept) > 0 {
		tpl["components"] = kept
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          tpl,
	}
	return c.sendMessage(ctx, token, phoneNumberID, payload)
}

// MarkAsRead acknowledges an inbound message. Fire-and-forget at the
// dispatcher level; this method still reports the wire error.
func (c *Client) MarkAsRead(ctx context.Context, token, phoneNumberID, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	_, err := c.post(ctx, token, phoneNumberID+"/messages", payload)
	return err
}

// sendMessage posts to the messages endpoint and extracts the message ID.
func (c *Client) sendMessage(ctx context.Context, token, phoneNumberID string, payload map[string]any) (string, error) {
	raw, err := c.post(ctx, token, phoneNumberID+"/messages", payload)
	if err != nil {
		return "", err
	}
	var resp sendResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Messages) == 0 {
		return "", nil // accepted but no id; treat as success
	}
	return resp.Messages[0].ID, nil
}

// post issues an authenticated JSON POST to {base}/{version}/{path}.
func (c *Client) post(ctx context.Context, token, path string, payload any) ([]byte, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, err
		}
	}
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, c.APIVersion, strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// get issues an authenticated GET to {base}/{version}/{path}.
func (c *Client) get(ctx context.Context, token, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", c.BaseURL, c.APIVersion, strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// hasContent reports whether a component carries at least one non-empty
// parameter text.
func hasContent(comp TemplateComponent) bool {
	for _, p := range comp.Parameters {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// clipRunes truncates s to at most max runes.
func clipRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
