// Command loom is a command line client for hosted text-generation APIs.
// It templates and chunks long prompts, sends one request per chunk, and
// renders the collected completions.
//
// Usage:
//
//	loom [flags] [prompt...]
//
// Flags:
//
//	-b, --backend string       The backend to use (default "openai")
//	-m, --model string         The model to use (default per backend)
//	-i, --input string         Direct string input
//	-f, --file strings         Input file path(s). Use '-' for stdin
//	-T, --template string      Template name (default "raw")
//	    --set strings          Template variable, key=value (repeatable)
//	    --chunk-size int       Maximum chunk size in runes (default 4000)
//	    --force-chunk          Chunk input even when it fits the budget
//	-n, --completions int      Number of completions per chunk (default 1)
//	-t, --max-tokens int       Maximum tokens to generate (default 256)
//	    --temperature float    Sampling temperature in [0,2] (default 0.9)
//	    --stop strings         Stop sequence (repeatable)
//	-o, --format string        Output format: clean, json, logprobs
//	    --logprobs             Request per-token log-probabilities
//	    --echo                 Echo the rendered prompt before the output
//	    --encode string        Word cipher: rot13, caesarN, base64, reverse
//	    --partial              Flush collected results when a later chunk fails
//	-O, --history-save string  File to save the run transcript to ('-' for default dir)
//	    --list-transcripts     List saved transcripts and exit
//	-c, --continuous           Run in continuous mode (interactive)
//	    --config string        Path to the configuration file
//	-v, --verbose              Verbose output
//	    --debug                Debug output
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tmc/loom"
)

// errNoInput is returned when there is nothing to read and stdin is a
// terminal; main turns it into a usage exit.
var errNoInput = errors.New("no input provided")

// cliFlags holds the parsed flag values for one invocation.
type cliFlags struct {
	backend string
	model   string

	inputString string
	inputFiles  []string

	template     string
	templateVars []string
	templateDir  string

	chunkSize  int
	forceChunk bool

	nCompletions int
	maxTokens    int
	temperature  float64
	topP         float64
	freqPenalty  float64
	presPenalty  float64
	stop         []string

	format   string
	logprobs bool
	echo     bool
	encode   string
	partial  bool

	historyOut      string
	listTranscripts bool
	continuous      bool

	config  string
	verbose bool
	debug   bool
	timeout time.Duration

	showSpinner bool
}

func main() {
	cf, fs, err := initFlags(os.Args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cf.listTranscripts {
		paths, err := loom.ListTranscripts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cf, fs, os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errNoInput) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "loom:", err)
		os.Exit(1)
	}
}

// run wires the parsed flags into a CompletionService and executes it.
func run(ctx context.Context, cf *cliFlags, fs *flag.FlagSet, stdin io.Reader, stdout, stderr io.Writer) error {
	logger, err := NewLogger(stderr, cf.verbose, cf.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := loom.LoadConfig(cf.config, stderr, fs)
	if err != nil {
		return err
	}
	vars, err := parseTemplateVars(cf.templateVars)
	if err != nil {
		return err
	}

	s, err := loom.NewCompletionService(cfg, loom.WithLogger(logger))
	if err != nil {
		return err
	}
	defer s.Close()

	files := cf.inputFiles
	if len(files) == 0 && cf.inputString == "" && fs.NArg() == 0 && !cf.continuous {
		// No explicit input: read stdin when piped, else show usage.
		if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fs.Usage()
			return errNoInput
		}
		files = []string{"-"}
	}

	return s.Run(ctx, loom.RunOptions{
		Config:         cfg,
		InputString:    cf.inputString,
		InputFiles:     files,
		PositionalArgs: fs.Args(),
		TemplateVars:   vars,
		ForceChunk:     cf.forceChunk,
		EchoPrompt:     cf.echo,
		PartialOutput:  cf.partial,
		ShowSpinner:    cf.showSpinner && !cf.continuous,
		Encode:         cf.encode,
		Continuous:     cf.continuous,
		Verbose:        cf.verbose,
		DebugMode:      cf.debug,
		HistoryOut:     cf.historyOut,
		Stdout:         stdout,
		Stderr:         stderr,
		Stdin:          stdin,
	})
}

func parseTemplateVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad --set value %q, want key=value", pair)
		}
		vars[k] = v
	}
	return vars, nil
}

// initFlags builds a fresh flag set for args and parses it. args[0] is the
// program name.
func initFlags(args []string) (*cliFlags, *flag.FlagSet, error) {
	cf := &cliFlags{}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&cf.backend, "backend", "b", "openai", "The backend to use")
	fs.StringVarP(&cf.model, "model", "m", "", "The model to use")

	fs.StringVarP(&cf.inputString, "input", "i", "", "Direct string input")
	fs.StringSliceVarP(&cf.inputFiles, "file", "f", nil, "Input file path. Use '-' for stdin")

	fs.StringVarP(&cf.template, "template", "T", "raw", "Template name")
	fs.StringArrayVar(&cf.templateVars, "set", nil, "Template variable, key=value (repeatable)")
	fs.StringVar(&cf.templateDir, "template-path", "~/.loom/templates", "Directory holding *.tmpl template files")

	fs.IntVar(&cf.chunkSize, "chunk-size", 4000, "Maximum chunk size in runes")
	fs.BoolVar(&cf.forceChunk, "force-chunk", false, "Chunk input even when it fits the budget")

	fs.IntVarP(&cf.nCompletions, "completions", "n", 1, "Number of completions per chunk")
	fs.IntVarP(&cf.maxTokens, "max-tokens", "t", 256, "Maximum tokens to generate")
	fs.Float64Var(&cf.temperature, "temperature", 0.9, "Sampling temperature in [0,2]")
	fs.Float64Var(&cf.topP, "top-p", 1.0, "Nucleus sampling probability mass")
	fs.Float64Var(&cf.freqPenalty, "frequency-penalty", 0, "Frequency penalty")
	fs.Float64Var(&cf.presPenalty, "presence-penalty", 0, "Presence penalty")
	fs.StringSliceVar(&cf.stop, "stop", nil, "Stop sequence (repeatable)")

	fs.StringVarP(&cf.format, "format", "o", "clean", "Output format: clean, json, logprobs")
	fs.BoolVar(&cf.logprobs, "logprobs", false, "Request per-token log-probabilities")
	fs.BoolVar(&cf.echo, "echo", false, "Echo the rendered prompt before the output")
	fs.StringVar(&cf.encode, "encode", "", "Word cipher applied to the prompt: rot13, caesarN, base64, reverse")
	fs.BoolVar(&cf.partial, "partial", false, "Flush collected results when a later chunk fails")

	fs.StringVarP(&cf.historyOut, "history-save", "O", "", "File to save the run transcript to ('-' for the default directory)")
	fs.BoolVar(&cf.listTranscripts, "list-transcripts", false, "List saved transcripts and exit")
	fs.BoolVarP(&cf.continuous, "continuous", "c", false, "Run in continuous mode (interactive)")

	fs.StringVar(&cf.config, "config", "", "Path to the configuration file")
	fs.BoolVarP(&cf.verbose, "verbose", "v", false, "Verbose output")
	fs.BoolVar(&cf.debug, "debug", false, "Debug output")
	fs.DurationVar(&cf.timeout, "completion-timeout", 2*time.Minute, "Maximum time to wait for a response")

	// hidden flags
	fs.BoolVar(&cf.showSpinner, "show-spinner", true, "Show spinner while waiting for completion")
	fs.MarkHidden("show-spinner")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "loom templates and chunks prompts for generative AI models")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", args[0])
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, `
Examples:
	$ echo "explain plan 9 in one sentence" | loom
	$ loom -T summarize --chunk-size 2000 -f book.txt
	$ loom -T assist --set Style=terse "why is the sky blue?"`)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, nil, err
	}
	return cf, fs, nil
}
