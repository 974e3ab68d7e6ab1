package engine

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/llm"
	"github.com/danshapiro/epic/internal/llm/providers/google"
	"github.com/danshapiro/epic/internal/llm/providers/openaicompat"
)

// NewBackend builds the configured LLM backend wrapped in retry with
// backoff. An empty backend name yields a nil Backend; PROMPT and FIX nodes
// then fail with a configuration error when reached.
func NewBackend(cfg LLMConfig, logger *zap.Logger) (llm.Backend, error) {
	var base llm.Backend
	switch cfg.Backend {
	case "":
		return nil, nil
	case BackendGemini:
		a, err := google.NewFromEnv(cfg.APIKeyEnv, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		base = a
	case BackendOpenAICompat:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, &llm.ConfigurationError{Message: "openai_compat backend requires base_url"}
		}
		base = openaicompat.NewAdapter(openaicompat.Config{
			APIKey:  strings.TrimSpace(os.Getenv(cfg.APIKeyEnv)),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case BackendScripted:
		s, err := llm.LoadScripted(cfg.ScriptedResponses, "")
		if err != nil {
			return nil, err
		}
		// Replays are deterministic; retrying them would only skip replies.
		return s, nil
	default:
		return nil, &llm.ConfigurationError{Message: "unknown llm backend " + cfg.Backend}
	}

	backoff := llm.DefaultBackoff()
	backoff.InitialDelay = msDuration(cfg.RetryBaseDelayMS)
	backoff.Jitter = true
	if logger == nil {
		logger = zap.NewNop()
	}
	return &llm.Retrying{
		Backend:    base,
		MaxRetries: cfg.MaxRetries,
		Backoff:    backoff,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("llm request failed; retrying",
				zap.String("backend", cfg.Backend),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}, nil
}
