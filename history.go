package loom

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// history is the on-disk transcript of one run.
type history struct {
	Backend  string         `json:"backend"`
	Model    string         `json:"model"`
	Template string         `json:"template"`
	Chunks   []*ChunkResult `json:"chunks"`
}

// saveHistory writes the collected results to path as YAML. A path of "-"
// writes to the default transcript directory under the home directory.
func (s *CompletionService) saveHistory(path string) error {
	if path == "-" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir := filepath.Join(home, ".loom", "transcripts")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path = filepath.Join(dir, defaultTranscriptName(s.results))
	}

	h := history{
		Backend:  s.cfg.Backend,
		Model:    s.cfg.Model,
		Template: s.cfg.Template,
		Chunks:   s.results,
	}
	b, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(expandTilde(path), b, 0o644); err != nil {
		return fmt.Errorf("failed to write history file %q: %w", path, err)
	}
	return nil
}

// defaultTranscriptName derives a short kebab-case filename from the first
// chunk's text.
func defaultTranscriptName(results []*ChunkResult) string {
	words := []string{"transcript"}
	if len(results) > 0 {
		fields := strings.Fields(results[0].Chunk.Text)
		if len(fields) > 4 {
			fields = fields[:4]
		}
		for _, f := range fields {
			f = strings.ToLower(wordRe.FindString(f))
			if f != "" {
				words = append(words, f)
			}
		}
	}
	return strings.Join(words, "-") + ".yaml"
}

// ListTranscripts returns the saved transcript filenames, newest last.
func ListTranscripts() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(home, ".loom", "transcripts", "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
