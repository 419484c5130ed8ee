package loom

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// runState names the stages of the orchestration loop.
type runState int

const (
	stateIdle runState = iota
	stateChunking
	stateRendering
	stateRequesting
	stateCollecting
	stateFormatting
	stateDone
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateChunking:
		return "chunking"
	case stateRendering:
		return "rendering"
	case stateRequesting:
		return "requesting"
	case stateCollecting:
		return "collecting"
	case stateFormatting:
		return "formatting"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// ChunkResult pairs a chunk with its rendered prompt and the response it
// produced.
type ChunkResult struct {
	Chunk    Chunk               `json:"chunk"`
	Prompt   string              `json:"prompt"`
	Response *CompletionResponse `json:"response"`
}

// CompletionService drives input through chunking, template rendering, the
// backend client, and the formatter. Chunks are processed strictly in
// order: a later chunk's template may reference the previous chunk's
// output, so no request starts before the prior one resolves.
type CompletionService struct {
	cfg      *Config
	client   Client
	renderer *Renderer
	store    *FileStore
	logger   *zap.SugaredLogger

	policy   RetryPolicy
	retryCfg RetryConfig

	state       runState
	results     []*ChunkResult
	showSpinner bool

	stdout io.Writer
	stderr io.Writer
}

// ServiceOption mutates a CompletionService during construction.
type ServiceOption func(*CompletionService)

// WithClient substitutes the backend client; tests use this to inject the
// dummy client.
func WithClient(client Client) ServiceOption {
	return func(s *CompletionService) { s.client = client }
}

// WithRetryPolicy substitutes the retry strategy.
func WithRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(s *CompletionService) { s.policy = policy }
}

// WithRetryConfig substitutes the backoff tuning. The default policy is
// rebuilt on the same config so its attempt bound and the sleep schedule
// stay in agreement.
func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *CompletionService) {
		s.retryCfg = cfg
		if p, ok := s.policy.(BackoffPolicy); ok {
			p.Config = cfg
			s.policy = p
		}
	}
}

// WithLogger substitutes the logger.
func WithLogger(logger *zap.SugaredLogger) ServiceOption {
	return func(s *CompletionService) { s.logger = logger }
}

// WithTemplateStore substitutes the template lookup collaborator.
func WithTemplateStore(store TemplateStore) ServiceOption {
	return func(s *CompletionService) { s.renderer = NewRenderer(store) }
}

// NewCompletionService creates a CompletionService for the configured
// backend.
func NewCompletionService(cfg *Config, opts ...ServiceOption) (*CompletionService, error) {
	if !Format(cfg.Format).valid() {
		return nil, newError(KindInvalidConfiguration, fmt.Errorf("unknown output format %q", cfg.Format))
	}
	s := &CompletionService{
		cfg:      cfg,
		logger:   zap.NewNop().Sugar(),
		policy:   BackoffPolicy{Config: DefaultRetryConfig},
		retryCfg: DefaultRetryConfig,
		state:    stateIdle,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.renderer == nil {
		s.store = NewFileStore(cfg.TemplatePath)
		s.renderer = NewRenderer(s.store)
	}
	if s.client == nil {
		client, err := initializeClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backend: %w", err)
		}
		s.client = client
	}
	return s, nil
}

// Close releases resources the service created itself; an injected
// template store stays the caller's to close.
func (s *CompletionService) Close() error {
	if s.store != nil {
		s.store.Close()
		s.store = nil
	}
	return nil
}

// Results returns the chunk results collected so far. After a failure it
// holds the successful prefix, usable for partial output.
func (s *CompletionService) Results() []*ChunkResult { return s.results }

// Run executes one full pass over the combined input, or an interactive
// session when Continuous is set.
func (s *CompletionService) Run(ctx context.Context, opts RunOptions) error {
	if opts.Stdout != nil {
		s.stdout = opts.Stdout
	}
	if opts.Stderr != nil {
		s.stderr = opts.Stderr
	}
	if opts.Continuous {
		return s.runContinuous(ctx, opts)
	}

	reader, err := opts.GetCombinedInputReader(ctx)
	if err != nil {
		return err
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return s.RunOnce(ctx, string(b), opts)
}

// RunOnce drives a single input through the loop and writes formatted
// output. On failure the collected prefix is flushed first when
// PartialOutput is set.
func (s *CompletionService) RunOnce(ctx context.Context, input string, opts RunOptions) error {
	s.showSpinner = opts.ShowSpinner && isOutputTerminal()
	err := s.process(ctx, input, opts)
	if err != nil {
		s.transition(stateFailed)
		if opts.PartialOutput && len(s.results) > 0 {
			fmt.Fprintln(s.stderr, "loom: flushing partial results")
			if ferr := s.writeOutput(opts); ferr != nil {
				s.logger.Warnw("failed to flush partial results", "error", ferr)
			}
		}
		return err
	}

	s.transition(stateFormatting)
	if err := s.writeOutput(opts); err != nil {
		s.transition(stateFailed)
		return err
	}
	if opts.HistoryOut != "" {
		if err := s.saveHistory(opts.HistoryOut); err != nil {
			s.logger.Warnw("failed to save history", "error", err)
		}
	}
	s.transition(stateDone)
	return nil
}

func (s *CompletionService) process(ctx context.Context, input string, opts RunOptions) error {
	s.results = nil

	encoder, err := GetEncoder(opts.Encode)
	if err != nil {
		return err
	}

	s.transition(stateChunking)
	chunks, err := SplitText(input, ChunkOptions{MaxSize: s.cfg.ChunkSize, Force: opts.ForceChunk})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		s.logger.Debug("no chunks, nothing to do")
		return nil
	}
	s.logger.Infow("input chunked", "chunks", len(chunks), "chunkSize", s.cfg.ChunkSize)

	previous := ""
	for _, chunk := range chunks {
		s.transition(stateRendering)
		vars := make(map[string]string, len(opts.TemplateVars)+1)
		for k, v := range opts.TemplateVars {
			vars[k] = v
		}
		vars[PreviousKey] = previous

		prompt, err := s.renderer.Render(s.cfg.Template, encoder.Apply(chunk.Text), vars)
		if err != nil {
			return err
		}

		req, err := newCompletionRequest(s.cfg, chunk.Index, prompt)
		if err != nil {
			return err
		}

		s.transition(stateRequesting)
		resp, err := s.performRequest(ctx, req)
		if err != nil {
			return &Error{Kind: KindOf(err), ChunkIndex: chunk.Index, Err: err}
		}

		s.transition(stateCollecting)
		resp = encoder.decodeResponse(resp)
		s.results = append(s.results, &ChunkResult{Chunk: chunk, Prompt: prompt, Response: resp})
		previous = resp.First()
		s.logger.Debugw("chunk completed", "chunk", chunk.Index, "choices", len(resp.Choices))
	}
	return nil
}

// performRequest issues one request with the retry policy, bounding each
// attempt by the configured completion timeout.
func (s *CompletionService) performRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if s.showSpinner {
		stop := spin(0)
		defer stop()
	}
	return WithRetry(ctx, func(ctx context.Context) (*CompletionResponse, error) {
		if s.cfg.CompletionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.CompletionTimeout)
			defer cancel()
		}
		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			s.logger.Infow("request attempt failed", "chunk", req.ChunkIndex, "error", err)
			return nil, err
		}
		return resp, nil
	}, s.policy, s.retryCfg)
}

func (s *CompletionService) writeOutput(opts RunOptions) error {
	if opts.EchoPrompt {
		for _, r := range s.results {
			fmt.Fprintln(s.stdout, r.Prompt)
		}
	}
	return RenderOutput(s.stdout, s.results, Format(s.cfg.Format))
}

func (s *CompletionService) transition(to runState) {
	if s.state == to {
		return
	}
	s.logger.Debugw("state transition", "from", s.state.String(), "to", to.String())
	s.state = to
}

// runContinuous runs the interactive shell, feeding each line through the
// same chunk/render/request loop.
func (s *CompletionService) runContinuous(ctx context.Context, opts RunOptions) error {
	fmt.Fprintln(s.stderr, "Running in continuous mode. Press ctrl+c to exit.")
	session, err := newInteractiveSession(interactiveConfig{
		Prompt:      ">>> ",
		HistoryFile: expandTilde("~/.loom_history"),
		ProcessFn: func(line string) error {
			start := time.Now()
			if err := s.RunOnce(ctx, line, opts); err != nil {
				fmt.Fprintln(s.stderr, err)
				return nil
			}
			s.logger.Debugw("turn complete", "elapsed", time.Since(start))
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run(ctx)
}
