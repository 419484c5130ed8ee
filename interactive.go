package loom

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// interactiveConfig configures the continuous-mode shell.
type interactiveConfig struct {
	Prompt      string
	AltPrompt   string
	HistoryFile string
	ProcessFn   func(input string) error
}

// interactiveSession is a thin readline loop feeding lines to ProcessFn.
// It is presentation only: all completion semantics live in the service.
type interactiveSession struct {
	reader *readline.Instance
	cfg    interactiveConfig
}

func newInteractiveSession(cfg interactiveConfig) (*interactiveSession, error) {
	if cfg.AltPrompt == "" {
		cfg.AltPrompt = "... "
	}
	reader, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &interactiveSession{reader: reader, cfg: cfg}, nil
}

// Run reads lines until EOF or cancellation. A trailing backslash
// continues the input on the next line.
func (s *interactiveSession) Run(ctx context.Context) error {
	var pending strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := s.reader.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if pending.Len() > 0 {
				pending.Reset()
				s.reader.SetPrompt(s.cfg.Prompt)
				continue
			}
			return nil
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			pending.WriteString("\n")
			s.reader.SetPrompt(s.cfg.AltPrompt)
			continue
		}
		pending.WriteString(line)
		input := strings.TrimSpace(pending.String())
		pending.Reset()
		s.reader.SetPrompt(s.cfg.Prompt)
		if input == "" {
			continue
		}
		if err := s.cfg.ProcessFn(input); err != nil {
			return err
		}
	}
}

func (s *interactiveSession) Close() error {
	return s.reader.Close()
}
