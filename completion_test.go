package loom

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testConfig() *Config {
	return &Config{
		Backend:      "dummy",
		Model:        "dummy",
		MaxTokens:    64,
		Temperature:  1.0,
		NCompletions: 1,
		ChunkSize:    1000,
		Template:     "raw",
		Format:       "clean",
	}
}

func newTestService(t *testing.T, cfg *Config, client Client, opts ...ServiceOption) *CompletionService {
	t.Helper()
	opts = append([]ServiceOption{
		WithClient(client),
		WithTemplateStore(mapStore{
			"raw":    "{{.Prompt}}",
			"tagged": "[{{.Tag}}] {{.Prompt}}",
			"chain":  "prev({{.Previous}}) cur({{.Prompt}})",
		}),
	}, opts...)
	s, err := NewCompletionService(cfg, opts...)
	if err != nil {
		t.Fatalf("NewCompletionService: %v", err)
	}
	return s
}

func TestRunOnce(t *testing.T) {
	t.Run("SingleChunk", func(t *testing.T) {
		client := NewDummyClient()
		client.GenerateText = func(req *CompletionRequest) string { return "echo: " + req.Prompt }
		s := newTestService(t, testConfig(), client)

		var out bytes.Buffer
		err := s.RunOnce(context.Background(), "hello there", RunOptions{Stdout: &out})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := out.String(); got != "echo: hello there\n" {
			t.Errorf("got output %q", got)
		}
		if n := len(client.Requests()); n != 1 {
			t.Errorf("expected 1 request, got %d", n)
		}
	})

	t.Run("EmptyInputProducesNoOutput", func(t *testing.T) {
		client := NewDummyClient()
		s := newTestService(t, testConfig(), client)

		var out bytes.Buffer
		if err := s.RunOnce(context.Background(), "", RunOptions{Stdout: &out}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Len() != 0 {
			t.Errorf("expected empty output, got %q", out.String())
		}
		if n := len(client.Requests()); n != 0 {
			t.Errorf("expected no requests, got %d", n)
		}
	})

	t.Run("ChunksProcessedInOrder", func(t *testing.T) {
		cfg := testConfig()
		cfg.ChunkSize = 4
		client := NewDummyClient()
		client.GenerateText = func(req *CompletionRequest) string { return "r:" + req.Prompt }
		s := newTestService(t, cfg, client)

		var out bytes.Buffer
		if err := s.RunOnce(context.Background(), "a. b. c.", RunOptions{Stdout: &out}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var prompts []string
		for _, req := range client.Requests() {
			prompts = append(prompts, req.Prompt)
		}
		want := []string{"a. ", "b. ", "c."}
		if diff := cmp.Diff(want, prompts); diff != "" {
			t.Errorf("request order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("PreviousKeyCarriesPriorOutput", func(t *testing.T) {
		cfg := testConfig()
		cfg.ChunkSize = 4
		cfg.Template = "chain"
		client := NewDummyClient()
		client.GenerateText = func(req *CompletionRequest) string { return "out" + req.Prompt[:5] }
		s := newTestService(t, cfg, client)

		if err := s.RunOnce(context.Background(), "a. b. c.", RunOptions{Stdout: &bytes.Buffer{}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reqs := client.Requests()
		if len(reqs) != 3 {
			t.Fatalf("expected 3 requests, got %d", len(reqs))
		}
		if !strings.HasPrefix(reqs[0].Prompt, "prev() ") {
			t.Errorf("first chunk should see empty Previous: %q", reqs[0].Prompt)
		}
		if !strings.Contains(reqs[1].Prompt, "prev(out") {
			t.Errorf("second chunk should see the first chunk's completion: %q", reqs[1].Prompt)
		}
	})

	t.Run("TemplateVarsReachThePrompt", func(t *testing.T) {
		cfg := testConfig()
		cfg.Template = "tagged"
		client := NewDummyClient()
		s := newTestService(t, cfg, client)

		err := s.RunOnce(context.Background(), "body", RunOptions{
			Stdout:       &bytes.Buffer{},
			TemplateVars: map[string]string{"Tag": "x"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := client.Requests()[0].Prompt; got != "[x] body" {
			t.Errorf("got prompt %q", got)
		}
	})

	t.Run("MissingTemplateKeyBeforeAnyRequest", func(t *testing.T) {
		cfg := testConfig()
		cfg.Template = "tagged"
		client := NewDummyClient()
		s := newTestService(t, cfg, client)

		err := s.RunOnce(context.Background(), "body", RunOptions{Stdout: &bytes.Buffer{}})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := KindOf(err); got != KindMissingTemplateKey {
			t.Errorf("expected KindMissingTemplateKey, got %v", got)
		}
		if n := len(client.Requests()); n != 0 {
			t.Errorf("expected no requests before template failure, got %d", n)
		}
	})

	t.Run("RateLimitedThenSuccessRetries", func(t *testing.T) {
		client := NewDummyClient()
		client.FailWith(newError(KindRateLimited, errors.New("429 too many requests")))
		s := newTestService(t, testConfig(), client, WithRetryConfig(fastRetryConfig))

		var out bytes.Buffer
		if err := s.RunOnce(context.Background(), "hello", RunOptions{Stdout: &out}); err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if n := len(client.Requests()); n != 2 {
			t.Errorf("expected 2 attempts, got %d", n)
		}
		if len(s.Results()) != 1 {
			t.Errorf("expected one collected result, got %d", len(s.Results()))
		}
	})

	t.Run("RetriesExhaustedReportsChunkIndex", func(t *testing.T) {
		client := NewDummyClient()
		client.FailWith(
			newError(KindServiceUnavailable, errors.New("503")),
			newError(KindServiceUnavailable, errors.New("503")),
		)
		retryOnce := fastRetryConfig
		retryOnce.MaxAttempts = 2
		s := newTestService(t, testConfig(), client, WithRetryConfig(retryOnce))

		err := s.RunOnce(context.Background(), "hello", RunOptions{Stdout: &bytes.Buffer{}})
		if err == nil {
			t.Fatal("expected error")
		}
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if e.ChunkIndex != 0 {
			t.Errorf("expected failing chunk index 0, got %d", e.ChunkIndex)
		}
	})

	t.Run("AuthErrorsAreNotRetried", func(t *testing.T) {
		client := NewDummyClient()
		client.FailWith(newError(KindAuthInvalid, errors.New("401 unauthorized")))
		s := newTestService(t, testConfig(), client, WithRetryConfig(fastRetryConfig))

		err := s.RunOnce(context.Background(), "hello", RunOptions{Stdout: &bytes.Buffer{}})
		if err == nil {
			t.Fatal("expected error")
		}
		if got := KindOf(err); got != KindAuthInvalid {
			t.Errorf("expected KindAuthInvalid, got %v", got)
		}
		if n := len(client.Requests()); n != 1 {
			t.Errorf("expected a single attempt, got %d", n)
		}
	})

	t.Run("FailFastStopsLaterChunks", func(t *testing.T) {
		cfg := testConfig()
		cfg.ChunkSize = 4
		client := NewDummyClient()
		client.FailWith(nil, newError(KindAuthInvalid, errors.New("401")))
		s := newTestService(t, cfg, client, WithRetryConfig(fastRetryConfig))

		err := s.RunOnce(context.Background(), "a. b. c.", RunOptions{Stdout: &bytes.Buffer{}})
		if err == nil {
			t.Fatal("expected error")
		}
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("expected *Error, got %T", err)
		}
		if e.ChunkIndex != 1 {
			t.Errorf("expected failing chunk index 1, got %d", e.ChunkIndex)
		}
		// Chunk 0 succeeded, chunk 1 failed, chunk 2 never attempted.
		if n := len(client.Requests()); n != 2 {
			t.Errorf("expected 2 requests, got %d", n)
		}
		if len(s.Results()) != 1 {
			t.Errorf("expected 1 collected result, got %d", len(s.Results()))
		}
	})

	t.Run("PartialOutputFlushedOnFailure", func(t *testing.T) {
		cfg := testConfig()
		cfg.ChunkSize = 4
		client := NewDummyClient()
		client.GenerateText = func(req *CompletionRequest) string { return "ok:" + req.Prompt }
		client.FailWith(nil, newError(KindAuthInvalid, errors.New("401")))
		s := newTestService(t, cfg, client)

		var out, errOut bytes.Buffer
		err := s.RunOnce(context.Background(), "a. b. c.", RunOptions{
			Stdout:        &out,
			Stderr:        &errOut,
			PartialOutput: true,
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(out.String(), "ok:a. ") {
			t.Errorf("expected partial output for chunk 0, got %q", out.String())
		}
	})

	t.Run("EncoderRoundTrips", func(t *testing.T) {
		client := NewDummyClient()
		// The dummy model parrots the (encoded) prompt back.
		client.GenerateText = func(req *CompletionRequest) string { return req.Prompt }
		s := newTestService(t, testConfig(), client)

		var out bytes.Buffer
		err := s.RunOnce(context.Background(), "hello world", RunOptions{Stdout: &out, Encode: "rot13"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := client.Requests()[0].Prompt; got != "uryyb jbeyq" {
			t.Errorf("prompt was not encoded: %q", got)
		}
		if got := out.String(); got != "hello world\n" {
			t.Errorf("output was not decoded: %q", got)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		client := NewDummyClient()
		s := newTestService(t, testConfig(), client)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.RunOnce(ctx, "hello", RunOptions{Stdout: &bytes.Buffer{}})
		if err == nil {
			t.Fatal("expected error from cancelled context")
		}
	})
}

func TestNewCompletionServiceRejectsUnknownFormat(t *testing.T) {
	cfg := testConfig()
	cfg.Format = "xml"
	_, err := NewCompletionService(cfg, WithClient(NewDummyClient()))
	if err == nil {
		t.Fatal("expected error before any request is made")
	}
	if got := KindOf(err); got != KindInvalidConfiguration {
		t.Errorf("expected KindInvalidConfiguration, got %v", got)
	}
}

func TestWithRetryConfigAlignsPolicy(t *testing.T) {
	s := newTestService(t, testConfig(), NewDummyClient(), WithRetryConfig(fastRetryConfig))
	if s.retryCfg != fastRetryConfig {
		t.Errorf("retryCfg not applied: %+v", s.retryCfg)
	}
	p, ok := s.policy.(BackoffPolicy)
	if !ok {
		t.Fatalf("expected BackoffPolicy, got %T", s.policy)
	}
	if p.Config != fastRetryConfig {
		t.Errorf("policy config not aligned: %+v", p.Config)
	}
}

func TestServiceCloseStopsOwnedStore(t *testing.T) {
	cfg := testConfig()
	cfg.TemplatePath = t.TempDir()
	s, err := NewCompletionService(cfg, WithClient(NewDummyClient()))
	if err != nil {
		t.Fatalf("NewCompletionService: %v", err)
	}
	if s.store == nil {
		t.Fatal("expected service to own its default template store")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.store != nil {
		t.Error("store not released on Close")
	}

	// With an injected store, Close is a no-op.
	s2 := newTestService(t, testConfig(), NewDummyClient())
	if s2.store != nil {
		t.Error("injected store should not be owned")
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRunCombinesInputSources(t *testing.T) {
	client := NewDummyClient()
	client.GenerateText = func(req *CompletionRequest) string { return "got:" + req.Prompt }
	s := newTestService(t, testConfig(), client)

	var out bytes.Buffer
	err := s.Run(context.Background(), RunOptions{
		InputString:    "first ",
		PositionalArgs: []string{"second"},
		Stdout:         &out,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := client.Requests()[0].Prompt; got != "first second" {
		t.Errorf("combined input mismatch: %q", got)
	}
}
