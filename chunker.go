package loom

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Chunk is one bounded, contiguous slice of the source text. Start and End
// are byte offsets into the original string; concatenating the Text of all
// chunks in Index order reproduces the source exactly.
type Chunk struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Index int    `json:"index"`
}

// ChunkOptions control how SplitText divides its input.
type ChunkOptions struct {
	// MaxSize is the chunk size budget, measured in runes.
	MaxSize int
	// Force splits input that would otherwise fit in a single chunk.
	Force bool
}

// SplitText splits text into ordered chunks of at most MaxSize runes,
// preferring paragraph boundaries, then sentence boundaries, then
// whitespace. A run with no break point at all (one unbroken word longer
// than the budget) is emitted as a single oversized chunk rather than cut
// mid-word.
//
// Input that already fits the budget is returned as one chunk unless Force
// is set. Empty input yields no chunks.
func SplitText(text string, opts ChunkOptions) ([]Chunk, error) {
	if opts.MaxSize <= 0 {
		return nil, newError(KindInvalidConfiguration, fmt.Errorf("chunk size must be positive, got %d", opts.MaxSize))
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	if len(runes) <= opts.MaxSize && !opts.Force {
		return []Chunk{{Text: text, Start: 0, End: len(text), Index: 0}}, nil
	}

	// Byte offset of each rune, plus the end of the string.
	offsets := make([]int, len(runes)+1)
	for i, r := range runes {
		offsets[i+1] = offsets[i] + utf8.RuneLen(r)
	}

	var chunks []Chunk
	pos := 0
	for pos < len(runes) {
		var end int
		if len(runes)-pos <= opts.MaxSize {
			end = len(runes)
		} else {
			end = findBreak(runes, pos, pos+opts.MaxSize)
		}
		chunks = append(chunks, Chunk{
			Text:  string(runes[pos:end]),
			Start: offsets[pos],
			End:   offsets[end],
			Index: len(chunks),
		})
		pos = end
	}
	return chunks, nil
}

// findBreak returns the end position of the next chunk starting at start,
// with limit = start+MaxSize. Break positions sit after the boundary, so
// separators attach to the chunk they terminate.
func findBreak(runes []rune, start, limit int) int {
	if end := paragraphBreak(runes, start, limit); end > start {
		return end
	}
	if end := sentenceBreak(runes, start, limit); end > start {
		return end
	}
	if end := whitespaceBreak(runes, start, limit); end > start {
		return end
	}
	// No boundary inside the budget: emit the whole unbroken run as one
	// oversized chunk, up to and including the whitespace that ends it.
	end := limit
	for end < len(runes) && !unicode.IsSpace(runes[end]) {
		end++
	}
	for end < len(runes) && unicode.IsSpace(runes[end]) {
		end++
	}
	return end
}

// paragraphBreak finds the last blank-line separator within the window and
// returns the position just past it.
func paragraphBreak(runes []rune, start, limit int) int {
	for i := limit; i >= start+2; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	return start
}

// sentenceBreak finds the last sentence terminator within the window that
// is followed by whitespace, and returns the position past that whitespace
// run (capped at limit so the chunk stays within budget).
func sentenceBreak(runes []rune, start, limit int) int {
	for j := limit - 1; j >= start; j-- {
		if !isSentenceEnd(runes[j]) {
			continue
		}
		if j+1 >= len(runes) || !unicode.IsSpace(runes[j+1]) {
			continue
		}
		end := j + 1
		for end < limit && end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		return end
	}
	return start
}

func whitespaceBreak(runes []rune, start, limit int) int {
	for i := limit; i > start; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return start
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
