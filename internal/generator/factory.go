package generator

import (
	"fmt"
	"log/slog"
	"time"

	"awardbot/internal/config"
	"awardbot/internal/domain"
	"awardbot/internal/retry"
)

// New builds the configured generator. With content.fallback set, the
// template generator answers when the model fails.
func New(cfg config.ContentConfig, logger *slog.Logger) (domain.Generator, error) {
	var model Completer
	switch cfg.Provider {
	case "", "ollama":
		model = NewOllama(OllamaConfig{
			APIBase:     cfg.Ollama.APIBase,
			Model:       cfg.Ollama.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Logger:      logger,
		})
	case "openai":
		model = NewOpenAI(OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			APIBase:     cfg.OpenAI.APIBase,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unknown content provider %q", cfg.Provider)
	}

	retryCfg := retry.Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    20 * time.Second,
		Jitter:      0.2,
	}
	var gen domain.Generator = NewLLM(model, retryCfg, logger)
	if cfg.Fallback {
		gen = NewFailover([]domain.Generator{gen, NewTemplate()}, logger)
	}
	return gen, nil
}
