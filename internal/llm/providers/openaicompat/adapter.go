// Package openaicompat talks to any server exposing the OpenAI
// chat.completions endpoint.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danshapiro/epic/internal/llm"
)

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Path         string
	Model        string
	ExtraHeaders map[string]string
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

var _ llm.Backend = (*Adapter)(nil)

const defaultRequestTimeout = 10 * time.Minute

func NewAdapter(cfg Config) *Adapter {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "openai_compat"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "/v1/chat/completions"
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string { return a.cfg.Provider }

func (a *Adapter) Send(ctx context.Context, systemPrompt, userContent string) (string, error) {
	if a.cfg.BaseURL == "" {
		return "", &llm.ConfigurationError{Message: "openai_compat backend requires base_url"}
	}
	requestCtx, cancel := withDefaultRequestDeadline(ctx)
	defer cancel()

	body, err := toChatCompletionsBody(a.cfg.Model, systemPrompt, userContent)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, a.cfg.BaseURL+a.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return "", llm.WrapContextError(a.cfg.Provider, err)
	}
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", llm.WrapContextError(a.cfg.Provider, err)
	}
	defer resp.Body.Close()
	return parseChatCompletionsResponse(a.cfg.Provider, resp)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toChatCompletionsBody(model, systemPrompt, userContent string) ([]byte, error) {
	msgs := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: userContent})
	return json.Marshal(map[string]any{
		"model":    model,
		"messages": msgs,
	})
}

type chatCompletionsResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseChatCompletionsResponse(provider string, resp *http.Response) (string, error) {
	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", llm.WrapContextError(provider, err)
	}
	var parsed chatCompletionsResponse
	decodeErr := json.Unmarshal(rawBytes, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "chat.completions failed"
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return "", llm.ErrorFromHTTPStatus(provider, resp.StatusCode, msg, ra)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%s: decode chat.completions response: %w", provider, decodeErr)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: chat.completions response has no choices", provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

func withDefaultRequestDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultRequestTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}
