// Package google adapts the Gemini API, through the genai SDK, to llm.Backend.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/danshapiro/epic/internal/llm"
)

const (
	provider     = "google"
	DefaultModel = "gemini-2.5-pro"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient overrides the SDK's default transport.
	HTTPClient *http.Client
}

// Adapter creates its genai client on first use so that constructing a
// backend for a run that never reaches a PROMPT node costs nothing.
type Adapter struct {
	cfg Config

	once   sync.Once
	client *genai.Client
	err    error
}

var _ llm.Backend = (*Adapter)(nil)

func NewAdapter(cfg Config) *Adapter {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Adapter{cfg: cfg}
}

// NewFromEnv reads the key from envVar, falling back to GEMINI_API_KEY and
// GOOGLE_API_KEY.
func NewFromEnv(envVar, model, baseURL string) (*Adapter, error) {
	var key string
	for _, name := range []string{envVar, "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if name == "" {
			continue
		}
		if key = strings.TrimSpace(os.Getenv(name)); key != "" {
			break
		}
	}
	if key == "" {
		return nil, &llm.ConfigurationError{Message: "gemini backend requires an API key (GEMINI_API_KEY)"}
	}
	return NewAdapter(Config{APIKey: key, Model: model, BaseURL: baseURL}), nil
}

func (a *Adapter) Name() string { return provider }

func (a *Adapter) genaiClient(ctx context.Context) (*genai.Client, error) {
	a.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     a.cfg.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: a.cfg.HTTPClient,
		}
		if a.cfg.BaseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: a.cfg.BaseURL}
		}
		a.client, a.err = genai.NewClient(ctx, cc)
		if a.err != nil {
			a.err = &llm.ConfigurationError{Message: fmt.Sprintf("create genai client: %v", a.err)}
		}
	})
	return a.client, a.err
}

func (a *Adapter) Send(ctx context.Context, systemPrompt, userContent string) (string, error) {
	client, err := a.genaiClient(ctx)
	if err != nil {
		return "", err
	}
	var cfg *genai.GenerateContentConfig
	if strings.TrimSpace(systemPrompt) != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}
	resp, err := client.Models.GenerateContent(ctx, a.cfg.Model, genai.Text(userContent), cfg)
	if err != nil {
		return "", mapError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%s: empty response from model %s", provider, a.cfg.Model)
	}
	return text, nil
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Status
		}
		return llm.ErrorFromHTTPStatus(provider, apiErr.Code, msg, nil)
	}
	return llm.WrapContextError(provider, err)
}
