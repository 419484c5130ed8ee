package loom

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/httputil"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Client is the capability handed to the orchestration loop: one request
// in, one response or a typed failure out.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

var constructors = map[string]func(cfg *Config) (Client, error){
	"openai": func(cfg *Config) (Client, error) {
		options := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.OpenAIAPIKey != "" {
			options = append(options, openai.WithToken(cfg.OpenAIAPIKey))
		}
		if cfg.Debug {
			options = append(options, openai.WithHTTPClient(httputil.DebugHTTPClient))
		}
		model, err := openai.New(options...)
		if err != nil {
			return nil, err
		}
		return &langchainClient{model: model}, nil
	},
	"anthropic": func(cfg *Config) (Client, error) {
		options := []anthropic.Option{anthropic.WithModel(cfg.Model)}
		if cfg.AnthropicAPIKey != "" {
			options = append(options, anthropic.WithToken(cfg.AnthropicAPIKey))
		}
		if cfg.Debug {
			options = append(options, anthropic.WithHTTPClient(httputil.DebugHTTPClient))
		}
		model, err := anthropic.New(options...)
		if err != nil {
			return nil, err
		}
		return &langchainClient{model: model}, nil
	},
	"ollama": func(cfg *Config) (Client, error) {
		options := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.Debug {
			options = append(options, ollama.WithHTTPClient(httputil.DebugHTTPClient))
		}
		model, err := ollama.New(options...)
		if err != nil {
			return nil, err
		}
		return &langchainClient{model: model}, nil
	},
	"dummy": func(cfg *Config) (Client, error) {
		return NewDummyClient(), nil
	},
}

// initializeClient builds the backend client named by cfg.Backend.
func initializeClient(cfg *Config) (Client, error) {
	constructor, ok := constructors[cfg.Backend]
	if !ok {
		return nil, newError(KindInvalidConfiguration, fmt.Errorf("unknown backend %q", cfg.Backend))
	}
	return constructor(cfg)
}

// langchainClient adapts a langchaingo model to the Client interface and
// maps provider errors onto the error taxonomy.
type langchainClient struct {
	model llms.Model
}

func (c *langchainClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}
	opts := []llms.CallOption{
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
		llms.WithN(req.N),
	}
	if req.TopP > 0 {
		opts = append(opts, llms.WithTopP(req.TopP))
	}
	if len(req.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(req.Stop))
	}
	if req.FrequencyPenalty != 0 {
		opts = append(opts, llms.WithFrequencyPenalty(req.FrequencyPenalty))
	}
	if req.PresencePenalty != 0 {
		opts = append(opts, llms.WithPresencePenalty(req.PresencePenalty))
	}

	result, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, classifyBackendError(err)
	}
	if len(result.Choices) == 0 {
		return nil, newError(KindServiceUnavailable, fmt.Errorf("no choices in model response"))
	}

	resp := &CompletionResponse{RequestID: req.ID}
	for _, choice := range result.Choices {
		resp.Choices = append(resp.Choices, Choice{
			Text:     choice.Content,
			Logprobs: extractLogprobs(choice.GenerationInfo),
		})
	}
	return resp, nil
}

// extractLogprobs pulls per-token log-probabilities out of a provider's
// generation info, when the provider reports them.
func extractLogprobs(info map[string]any) []TokenLogprob {
	if info == nil {
		return nil
	}
	switch v := info["logprobs"].(type) {
	case []TokenLogprob:
		return v
	case []any:
		var out []TokenLogprob
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			token, _ := m["token"].(string)
			logprob, _ := m["logprob"].(float64)
			out = append(out, TokenLogprob{Token: token, Logprob: logprob})
		}
		return out
	}
	return nil
}
