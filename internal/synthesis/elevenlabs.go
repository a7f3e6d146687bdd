package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ElevenLabsConfig configures the hosted TTS backend.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	ModelID string
}

// ElevenLabsBackend performs one-shot text-to-speech over the HTTP
// API, returning MP3 audio.
type ElevenLabsBackend struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsBackend(cfg ElevenLabsConfig) *ElevenLabsBackend {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	return &ElevenLabsBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *ElevenLabsBackend) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (b *ElevenLabsBackend) Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error) {
	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID)

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: b.cfg.ModelID})
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("xi-api-key", b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("text-to-speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("text-to-speech returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read audio payload: %w", err)
	}
	return audio, "mp3", nil
}
