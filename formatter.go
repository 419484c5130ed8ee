package loom

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Format selects how collected responses are rendered.
type Format string

const (
	FormatClean    Format = "clean"
	FormatJSON     Format = "json"
	FormatLogprobs Format = "logprobs"
)

func (f Format) valid() bool {
	switch f {
	case FormatClean, FormatJSON, FormatLogprobs, "":
		return true
	}
	return false
}

// RenderOutput writes the ordered chunk results to w in the selected
// format.
func RenderOutput(w io.Writer, results []*ChunkResult, format Format) error {
	switch format {
	case FormatClean, "":
		return renderClean(w, results)
	case FormatJSON:
		return renderJSON(w, results)
	case FormatLogprobs:
		return renderLogprobs(w, results)
	}
	return newError(KindInvalidConfiguration, fmt.Errorf("unknown output format %q", format))
}

func renderClean(w io.Writer, results []*ChunkResult) error {
	for _, r := range results {
		if r.Response == nil {
			continue
		}
		if len(r.Response.Choices) == 1 {
			if _, err := fmt.Fprintln(w, r.Response.Choices[0].Text); err != nil {
				return err
			}
			continue
		}
		for i, choice := range r.Response.Choices {
			if _, err := fmt.Fprintf(w, "%d: %s\n", i+1, choice.Text); err != nil {
				return err
			}
		}
	}
	return nil
}

type jsonChunkOutput struct {
	Index       int      `json:"index"`
	Prompt      string   `json:"prompt"`
	Completions []Choice `json:"completions"`
}

func renderJSON(w io.Writer, results []*ChunkResult) error {
	out := make([]jsonChunkOutput, 0, len(results))
	for _, r := range results {
		entry := jsonChunkOutput{Index: r.Chunk.Index, Prompt: r.Prompt}
		if r.Response != nil {
			entry.Completions = r.Response.Choices
		}
		out = append(out, entry)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Logprob color scale, most to least confident.
var logprobStyles = []lipgloss.Style{
	lipgloss.NewStyle().Foreground(lipgloss.Color("10")), // green
	lipgloss.NewStyle().Foreground(lipgloss.Color("14")), // cyan
	lipgloss.NewStyle().Foreground(lipgloss.Color("11")), // yellow
	lipgloss.NewStyle().Foreground(lipgloss.Color("9")),  // red
}

// styleForLogprob buckets a log-probability onto the color scale. The
// thresholds correspond to roughly >60%, >22%, and >8% token probability.
func styleForLogprob(lp float64) lipgloss.Style {
	switch {
	case lp > -0.5:
		return logprobStyles[0]
	case lp > -1.5:
		return logprobStyles[1]
	case lp > -2.5:
		return logprobStyles[2]
	}
	return logprobStyles[3]
}

func renderLogprobs(w io.Writer, results []*ChunkResult) error {
	for _, r := range results {
		if r.Response == nil {
			continue
		}
		for _, choice := range r.Response.Choices {
			if len(choice.Logprobs) == 0 {
				// Backend reported no logprobs for this choice.
				if _, err := fmt.Fprintln(w, choice.Text); err != nil {
					return err
				}
				continue
			}
			for _, tok := range choice.Logprobs {
				if _, err := io.WriteString(w, styleForLogprob(tok.Logprob).Render(tok.Token)); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}
	return nil
}
