package loom

import (
	"context"
	"io"
	"os"
	"strings"
	"time"
)

// RunOptions bundles everything the front-end hands to a run.
type RunOptions struct {
	*Config `json:"config,omitempty"`

	// Input options
	InputString    string   `json:"inputString,omitempty"`
	InputFiles     []string `json:"inputFiles,omitempty"`
	PositionalArgs []string `json:"positionalArgs,omitempty"`

	// Template options
	TemplateVars map[string]string `json:"templateVars,omitempty"`

	// Chunking options
	ForceChunk bool `json:"forceChunk,omitempty"`

	// Output options
	EchoPrompt    bool   `json:"echoPrompt,omitempty"`
	PartialOutput bool   `json:"partialOutput,omitempty"`
	ShowSpinner   bool   `json:"showSpinner,omitempty"`
	Encode        string `json:"encode,omitempty"`

	// Modes
	Continuous bool `json:"continuous,omitempty"`
	Verbose    bool `json:"verbose,omitempty"`
	DebugMode  bool `json:"debugMode,omitempty"`

	// History options
	HistoryOut string `json:"historyOut,omitempty"`

	// I/O
	Stdout io.Writer `json:"-"`
	Stderr io.Writer `json:"-"`
	Stdin  io.Reader `json:"-"`

	MaximumTimeout time.Duration `json:"maximumTimeout,omitempty"`
}

// GetCombinedInputReader returns an io.Reader combining all input sources.
func (ro *RunOptions) GetCombinedInputReader(ctx context.Context) (io.Reader, error) {
	handler := &InputHandler{
		Files:   ro.InputFiles,
		Strings: nil,
		Args:    ro.PositionalArgs,
		Stdin:   ro.Stdin,
	}
	if ro.InputString != "" {
		handler.Strings = []string{ro.InputString}
	}
	return handler.Process(ctx)
}

// InputHandler manages multiple input sources.
type InputHandler struct {
	Files   []string
	Strings []string
	Args    []string
	Stdin   io.Reader
}

// Process reads the set of inputs; it will block on stdin if '-' is among
// the files. The order of precedence is files, then strings, then args.
func (h *InputHandler) Process(ctx context.Context) (io.Reader, error) {
	var readers []io.Reader
	for _, file := range h.Files {
		if file == "-" {
			if h.Stdin != nil {
				readers = append(readers, h.Stdin)
			} else {
				readers = append(readers, strings.NewReader(""))
			}
			continue
		}
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		readers = append(readers, f)
	}
	for _, s := range h.Strings {
		readers = append(readers, strings.NewReader(s))
	}
	for _, arg := range h.Args {
		readers = append(readers, strings.NewReader(arg))
	}
	return io.MultiReader(readers...), nil
}
