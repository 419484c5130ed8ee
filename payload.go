package loom

import (
	"fmt"

	"github.com/google/uuid"
)

// CompletionRequest carries the fully rendered text for one chunk plus the
// generation parameters. Build one with newCompletionRequest and treat it
// as immutable afterwards; exactly one request is issued per chunk.
type CompletionRequest struct {
	ID         string `json:"id"`
	ChunkIndex int    `json:"chunkIndex"`
	Prompt     string `json:"prompt"`

	Model            string             `json:"model"`
	Temperature      float64            `json:"temperature"`
	TopP             float64            `json:"topP,omitempty"`
	MaxTokens        int                `json:"maxTokens"`
	N                int                `json:"n"`
	Stop             []string           `json:"stop,omitempty"`
	FrequencyPenalty float64            `json:"frequencyPenalty,omitempty"`
	PresencePenalty  float64            `json:"presencePenalty,omitempty"`
	LogitBias        map[string]float64 `json:"logitBias,omitempty"`
	Logprobs         bool               `json:"logprobs,omitempty"`
}

// TokenLogprob annotates one generated token with its log-probability.
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Choice is one generated alternative.
type Choice struct {
	Text     string         `json:"text"`
	Logprobs []TokenLogprob `json:"logprobs,omitempty"`
}

// CompletionResponse holds the alternatives generated for one request. It
// is created by the client and not mutated after that.
type CompletionResponse struct {
	RequestID string   `json:"requestId"`
	Choices   []Choice `json:"choices"`
}

// First returns the text of the first choice, or "" when there is none.
func (r *CompletionResponse) First() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Text
}

func newCompletionRequest(cfg *Config, chunkIndex int, prompt string) (*CompletionRequest, error) {
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, newError(KindInvalidConfiguration, fmt.Errorf("temperature %v outside [0,2]", cfg.Temperature))
	}
	if cfg.NCompletions < 1 {
		return nil, newError(KindInvalidConfiguration, fmt.Errorf("completion count must be at least 1, got %d", cfg.NCompletions))
	}
	return &CompletionRequest{
		ID:               uuid.NewString(),
		ChunkIndex:       chunkIndex,
		Prompt:           prompt,
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		MaxTokens:        cfg.maxTokensFor(prompt),
		N:                cfg.NCompletions,
		Stop:             cfg.Stop,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		LogitBias:        cfg.LogitBias,
		Logprobs:         cfg.Logprobs,
	}, nil
}
