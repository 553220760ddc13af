package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loserbcc/openclaw-gateway/internal/config"
)

// ASR transcribes audio to text via a Whisper-compatible endpoint.
type ASR struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewASR creates an ASR client for the given configuration.
func NewASR(cfg *config.Config) *ASR {
	return &ASR{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether transcription is configured.
func (a *ASR) Enabled() bool {
	switch a.cfg.ASRProvider {
	case "disabled":
		return false
	case "auto":
		return a.cfg.ASRBaseURL != "" || a.cfg.ASRAPIKey != ""
	default:
		return true
	}
}

// Transcribe converts audio bytes to text. It returns ("", nil) when
// transcription is disabled or not configured.
func (a *ASR) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if filename == "" {
		filename = "audio.wav"
	}

	baseURL := a.cfg.ASRBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := writer.WriteField("model", "whisper-1"); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(baseURL, "/")+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if a.cfg.ASRAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.ASRAPIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ASR API error [%d]", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Text, nil
}
