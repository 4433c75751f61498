package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"awardbot/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "deepseek-r1:7b"
)

// Ollama talks to a local or remote Ollama server over its REST API.
type Ollama struct {
	apiBase     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
	logger      *slog.Logger
}

type OllamaConfig struct {
	APIBase     string
	Model       string
	Temperature float64
	MaxTokens   int
	Client      *http.Client
	Logger      *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	if cfg.Client == nil {
		// Generation time is bounded by the caller's context.
		cfg.Client = &http.Client{}
	}
	return &Ollama{
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama/" + o.model }

// Healthy checks that the server answers and the model has been pulled.
func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama not reachable: %v", domain.ErrGeneratorUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama returned status %d", domain.ErrGeneratorUnreachable, resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode model list: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == o.model || strings.TrimSuffix(m.Name, ":latest") == o.model {
			return nil
		}
	}
	return fmt.Errorf("model %s is not pulled on %s", o.model, o.apiBase)
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message    ollamaMsg `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason"`
}

// Complete sends one non-streaming chat request. Connection failures and
// server errors are transient; other statuses are not.
func (o *Ollama) Complete(ctx context.Context, system, user string) (string, error) {
	body := ollamaRequest{
		Model: o.model,
		Messages: []ollamaMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	options := map[string]any{}
	if o.temperature > 0 {
		options["temperature"] = o.temperature
	}
	if o.maxTokens > 0 {
		options["num_predict"] = o.maxTokens
	}
	if len(options) > 0 {
		body.Options = options
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", classify(ctx, err)
		}
		o.logger.Warn("ollama request failed", "err", err)
		return "", transient(fmt.Errorf("%w: %v", domain.ErrGeneratorUnreachable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: ollama returned %d: %s", domain.ErrGeneratorUnreachable, resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 {
			return "", transient(err)
		}
		return "", err
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrMalformedOutput, err)
	}
	if out.DoneReason == "length" {
		o.logger.Debug("ollama answer truncated at token limit", "model", o.model)
	}
	return out.Message.Content, nil
}
