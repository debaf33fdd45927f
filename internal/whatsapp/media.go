package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// mediaInfo is the media metadata document returned by GET /{media-id}.
type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

// MediaURL resolves a media ID to a short-lived authenticated download URL.
func (c *Client) MediaURL(ctx context.Context, token, mediaID string) (string, string, error) {
	raw, err := c.get(ctx, token, mediaID)
	if err != nil {
		return "", "", err
	}
	var info mediaInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", "", err
	}
	if info.URL == "" {
		return "", "", fmt.Errorf("whatsapp: media %s has no download url", mediaID)
	}
	return info.URL, info.MimeType, nil
}

// DownloadMedia fetches the binary behind a URL returned by MediaURL. The
// same bearer token must be presented; the URL expires after a few minutes.
// The content is returned in memory and must not be persisted.
func (c *Client) DownloadMedia(ctx context.Context, token, url string) ([]byte, error) {
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

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return io.ReadAll(resp.Body)
}
