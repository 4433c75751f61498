package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"awardbot/internal/domain"
)

const openAIDefaultModel = "gpt-4o-mini"

// OpenAI uses the Chat Completions API, or any server compatible with it.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

type OpenAIConfig struct {
	APIKey      string
	APIBase     string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are done by the caller with the shared policy.
		option.WithMaxRetries(0),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai/" + o.model }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.Models.Get(ctx, o.model); err != nil {
		return o.wrap(ctx, err)
	}
	return nil
}

func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if o.temperature > 0 {
		params.Temperature = openai.Float(o.temperature)
	}
	if o.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", o.wrap(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", domain.ErrMalformedOutput)
	}
	return resp.Choices[0].Message.Content, nil
}

// wrap classifies API errors: rate limits and server errors are transient,
// other statuses (bad key, unknown model) are not.
func (o *OpenAI) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return classify(ctx, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		wrapped := fmt.Errorf("%w: openai returned %d: %v", domain.ErrGeneratorUnreachable, apiErr.StatusCode, err)
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return transient(wrapped)
		}
		return wrapped
	}
	o.logger.Warn("openai request failed", "err", err)
	return transient(fmt.Errorf("%w: %v", domain.ErrGeneratorUnreachable, err))
}
