// Package provider contains the HTTP clients for the external LLM, TTS and
// ASR collaborators.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loserbcc/openclaw-gateway/internal/config"
)

// Provider names resolved by detection.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultOllamaURL        = "http://localhost:11434"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
)

// FallbackReply is streamed as the single reply token when no generation
// backend is available.
const FallbackReply = "No LLM provider configured. Set OPENCLAW_LLM_API_KEY or run ollama locally."

// ChatMessage is one turn sent to the generation backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Info describes the resolved generation backend.
type Info struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
}

// LLM streams chat completions from the configured or auto-detected backend.
type LLM struct {
	cfg         *config.Config
	httpClient  *http.Client
	probeClient *http.Client
	ollamaURL   string

	detectOnce sync.Once
	detected   Info
}

// NewLLM creates an LLM client for the given configuration.
func NewLLM(cfg *config.Config) *LLM {
	return &LLM{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		probeClient: &http.Client{Timeout: 2 * time.Second},
		ollamaURL:   defaultOllamaURL,
	}
}

// Info returns the resolved backend for diagnostics.
func (l *LLM) Info(ctx context.Context) Info {
	return l.resolve(ctx)
}

// resolve picks the backend once per process when provider is "auto",
// otherwise maps the static configuration.
func (l *LLM) resolve(ctx context.Context) Info {
	if l.cfg.LLMProvider != "auto" {
		return l.staticInfo()
	}
	l.detectOnce.Do(func() {
		l.detected = l.detect(ctx)
	})
	return l.detected
}

func (l *LLM) staticInfo() Info {
	info := Info{Provider: l.cfg.LLMProvider, BaseURL: l.cfg.LLMBaseURL, Model: l.cfg.LLMModel}
	switch info.Provider {
	case ProviderAnthropic:
		if info.BaseURL == "" {
			info.BaseURL = defaultAnthropicBaseURL
		}
		if info.Model == "" {
			info.Model = defaultAnthropicModel
		}
	default:
		if info.BaseURL == "" {
			info.BaseURL = defaultOpenAIBaseURL
		}
		if info.Model == "" {
			info.Model = defaultOpenAIModel
		}
	}
	return info
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// detect probes for a local ollama, then falls back to the configured
// OpenAI-compatible endpoint, then to OpenAI itself.
func (l *LLM) detect(ctx context.Context) Info {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.ollamaURL+"/api/tags", nil)
	if err == nil {
		if resp, err := l.probeClient.Do(req); err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				var tags ollamaTagsResponse
				if err := json.NewDecoder(resp.Body).Decode(&tags); err == nil && len(tags.Models) > 0 {
					return Info{Provider: ProviderOllama, BaseURL: l.ollamaURL + "/v1", Model: tags.Models[0].Name}
				}
			}
		}
	}

	if l.cfg.LLMBaseURL != "" && l.cfg.LLMAPIKey != "" {
		model := l.cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return Info{Provider: ProviderOpenAI, BaseURL: l.cfg.LLMBaseURL, Model: model}
	}

	if l.cfg.LLMAPIKey != "" {
		model := l.cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return Info{Provider: ProviderOpenAI, BaseURL: defaultOpenAIBaseURL, Model: model}
	}

	return Info{Provider: ProviderNone}
}

// TokenFunc receives each streamed text fragment. Returning an error aborts
// the stream.
type TokenFunc func(token string) error

// ChatStream streams completion tokens for the given conversation. When no
// backend is available it yields a single explanatory fragment instead of
// failing.
func (l *LLM) ChatStream(ctx context.Context, messages []ChatMessage, system string, fn TokenFunc) error {
	info := l.resolve(ctx)

	switch info.Provider {
	case ProviderNone:
		return fn(FallbackReply)
	case ProviderAnthropic:
		return l.anthropicStream(ctx, info, messages, system, fn)
	default:
		return l.openAIStream(ctx, info, messages, system, fn)
	}
}

// openAIStream streams from any OpenAI-compatible API (OpenAI, ollama, vLLM,
// LM Studio).
func (l *LLM) openAIStream(ctx context.Context, info Info, messages []ChatMessage, system string, fn TokenFunc) error {
	apiMessages := make([]ChatMessage, 0, len(messages)+1)
	if system != "" {
		apiMessages = append(apiMessages, ChatMessage{Role: "system", Content: system})
	}
	apiMessages = append(apiMessages, messages...)

	payload := map[string]interface{}{
		"model":    info.Model,
		"messages": apiMessages,
		"stream":   true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(info.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.LLMAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.LLMAPIKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	type streamChunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}

	return readSSE(resp.Body, func(data string) error {
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks
			return nil
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return fn(content)
		}
		return nil
	})
}

// anthropicStream streams from Anthropic's Messages API.
func (l *LLM) anthropicStream(ctx context.Context, info Info, messages []ChatMessage, system string, fn TokenFunc) error {
	payload := map[string]interface{}{
		"model":      info.Model,
		"max_tokens": 4096,
		"messages":   messages,
		"stream":     true,
	}
	if system != "" {
		payload["system"] = system
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(info.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.cfg.LLMAPIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LLM API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	type anthropicEvent struct {
		Type  string `json:"type"`
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	}

	return readSSE(resp.Body, func(data string) error {
		var event anthropicEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil
		}
		if event.Type == "content_block_delta" && event.Delta.Text != "" {
			return fn(event.Delta.Text)
		}
		return nil
	})
}

// readSSE consumes a server-sent-event stream, calling fn with each data
// payload until [DONE] or EOF.
func readSSE(r io.Reader, fn func(data string) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}
