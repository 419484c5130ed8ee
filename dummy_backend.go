package loom

import (
	"context"
	"math"
	"strings"
	"sync"
)

var dummyDefaultText = "This is a dummy backend response. It exists so the tool can be exercised end to end without network access or credentials."

// DummyClient is an offline Client used by tests and the "dummy" backend.
// GenerateText controls the produced text and Failures lets tests inject a
// scripted sequence of errors ahead of the successful responses.
type DummyClient struct {
	GenerateText func(req *CompletionRequest) string

	mu       sync.Mutex
	failures []error
	requests []*CompletionRequest
}

// NewDummyClient returns a DummyClient that echoes a canned response.
func NewDummyClient() *DummyClient {
	return &DummyClient{
		GenerateText: func(*CompletionRequest) string { return dummyDefaultText },
	}
}

// FailWith queues errors to be returned, in order, before any request
// succeeds.
func (d *DummyClient) FailWith(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Requests returns the requests seen so far, including failed attempts.
func (d *DummyClient) Requests() []*CompletionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*CompletionRequest(nil), d.requests...)
}

func (d *DummyClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	var fail error
	if len(d.failures) > 0 {
		fail, d.failures = d.failures[0], d.failures[1:]
	}
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	text := d.GenerateText(req)
	resp := &CompletionResponse{RequestID: req.ID}
	n := req.N
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		choice := Choice{Text: text}
		if req.Logprobs {
			choice.Logprobs = dummyLogprobs(text)
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}

// dummyLogprobs fabricates plausible per-token scores: longer tokens get
// lower log-probabilities.
func dummyLogprobs(text string) []TokenLogprob {
	var out []TokenLogprob
	for _, tok := range strings.SplitAfter(text, " ") {
		if tok == "" {
			continue
		}
		out = append(out, TokenLogprob{
			Token:   tok,
			Logprob: -0.05 * math.Sqrt(float64(len(tok))),
		})
	}
	return out
}
