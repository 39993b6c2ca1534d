package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"content-forge/config"
)

// openAIProvider spricht die Chat-Completions-API über rohes net/http.
type openAIProvider struct {
	cfg        *config.Config
	log        *zap.Logger
	httpClient *http.Client
}

// NewOpenAIProvider erstellt den OpenAI-Adapter.
func NewOpenAIProvider(cfg *config.Config, log *zap.Logger) Provider {
	return &openAIProvider{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: cfg.LLMTimeout(),
		},
	}
}

func (p *openAIProvider) Name() string  { return "openai" }
func (p *openAIProvider) Model() string { return p.cfg.OpenAIModel }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete führt genau einen Aufruf aus. Retries macht das Gateway.
func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.OpenAIModel
	}
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	})
	if err != nil {
		return CompletionResult{}, err
	}

	url := strings.TrimRight(p.cfg.OpenAIBaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.OpenAIAPIKey)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Netzwerkfehler und Timeouts sind retrybar.
		return CompletionResult{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResult{}, &TransientError{Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return CompletionResult{}, &TransientError{
			Err: fmt.Errorf("openai status %d: %s", resp.StatusCode, truncateForLog(raw)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return CompletionResult{}, fmt.Errorf("openai status %d: %s", resp.StatusCode, truncateForLog(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return CompletionResult{}, fmt.Errorf("openai: invalid response body: %w", err)
	}
	if parsed.Error != nil {
		return CompletionResult{}, fmt.Errorf("openai: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("openai: empty choices")
	}

	choice := parsed.Choices[0]
	p.log.Debug("OpenAI-Aufruf abgeschlossen",
		zap.String("model", model),
		zap.String("finish_reason", choice.FinishReason),
		zap.Int("tokens_out", parsed.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)))

	return CompletionResult{
		Text:       choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
		TokensIn:   parsed.Usage.PromptTokens,
		TokensOut:  parsed.Usage.CompletionTokens,
	}, nil
}

// mapFinishReason übersetzt OpenAI-finish_reasons in die neutralen
// Stop-Reasons des Adapters.
func mapFinishReason(r string) string {
	switch r {
	case "stop":
		return StopReasonStop
	case "length":
		return StopReasonMaxTokens
	case "content_filter":
		return StopReasonSafety
	default:
		return StopReasonOther
	}
}

func truncateForLog(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
