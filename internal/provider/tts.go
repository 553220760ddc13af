package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loserbcc/openclaw-gateway/internal/config"
)

// TTS synthesizes speech from text via an OpenAI-compatible endpoint.
type TTS struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewTTS creates a TTS client for the given configuration.
func NewTTS(cfg *config.Config) *TTS {
	return &TTS{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether synthesis is configured.
func (t *TTS) Enabled() bool {
	switch t.cfg.TTSProvider {
	case "disabled":
		return false
	case "auto":
		return t.cfg.TTSBaseURL != "" || t.cfg.TTSAPIKey != ""
	default:
		return true
	}
}

// Synthesize converts text to MP3 audio. It returns (nil, nil) when synthesis
// is disabled or not configured; callers must treat any failure as
// "unavailable" rather than a fault.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !t.Enabled() {
		return nil, nil
	}

	baseURL := t.cfg.TTSBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	payload := map[string]string{
		"model":           "tts-1",
		"input":           text,
		"voice":           t.cfg.TTSVoice,
		"response_format": "mp3",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(baseURL, "/")+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.TTSAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.TTSAPIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS API error [%d]", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return audio, nil
}
