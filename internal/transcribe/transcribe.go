// Package transcribe turns inbound voice notes into text. The pipeline is
// media-id → provider media URL → authenticated download → speech-to-text,
// entirely in memory; audio bytes are never written to disk.
//
// The whole pipeline is fail-soft: any failure yields ("", false) so the
// conversation continues without a transcript instead of dropping the
// message.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/vendra-ai/go-agent-backend/internal/whatsapp"
)

const defaultBaseURL = "https://api.openai.com/v1"

var transcriptionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "transcriptions_total",
		Help: "Voice note transcription attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(transcriptionsTotal)
}

// MediaFetcher is the slice of the messaging client the transcriber needs.
type MediaFetcher interface {
	MediaURL(ctx context.Context, token, mediaID string) (url, mimeType string, err error)
	DownloadMedia(ctx context.Context, token, url string) ([]byte, error)
}

// Transcriber downloads channel media and sends it to a Whisper-style
// speech-to-text endpoint.
type Transcriber struct {
	Media      MediaFetcher
	BaseURL    string
	APIKey     string
	Model      string
	Language   string
	HTTPClient *http.Client
}

// New returns a Transcriber with production defaults. baseURL "" selects the
// real endpoint.
func New(media MediaFetcher, baseURL, apiKey string, timeout time.Duration) *Transcriber {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Transcriber{
		Media:      media,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      "whisper-1",
		Language:   "pt",
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe resolves and downloads the voice note identified by mediaID,
// then transcribes it. ok=false covers every failure mode, from a revoked
// media id to a speech-to-text outage.
func (t *Transcriber) Transcribe(ctx context.Context, token, mediaID string) (string, bool) {
	if t.APIKey == "" {
		return "", false
	}

	mediaURL, mimeType, err := t.Media.MediaURL(ctx, token, mediaID)
	if err != nil {
		log.Warn().Str("media_id", mediaID).Err(err).Msg("media url lookup failed")
		transcriptionsTotal.WithLabelValues("media_error").Inc()
		return "", false
	}
	audio, err := t.Media.DownloadMedia(ctx, token, mediaURL)
	if err != nil {
		log.Warn().Str("media_id", mediaID).Err(err).Msg("media download failed")
		transcriptionsTotal.WithLabelValues("media_error").Inc()
		return "", false
	}

	text, err := t.speechToText(ctx, audio, mimeType)
	if err != nil {
		log.Warn().Str("media_id", mediaID).Err(err).Msg("speech to text failed")
		transcriptionsTotal.WithLabelValues("stt_error").Inc()
		return "", false
	}
	transcriptionsTotal.WithLabelValues("ok").Inc()
	return text, true
}

func (t *Transcriber) speechToText(ctx context.Context, audio []byte, mimeType string) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", fileName(mimeType))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", t.Model)
	_ = mw.WriteField("language", t.Language)
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", &whatsapp.APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

// fileName picks an extension the speech-to-text endpoint accepts; WhatsApp
// voice notes arrive as audio/ogg with an opus codec suffix.
func fileName(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return "audio.ogg"
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return "audio.mp3"
	case strings.HasPrefix(mimeType, "audio/mp4"), strings.HasPrefix(mimeType, "audio/m4a"):
		return "audio.m4a"
	case strings.HasPrefix(mimeType, "audio/amr"):
		return "audio.amr"
	default:
		return "audio.ogg"
	}
}
