package loom

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Encoder applies a reversible word-level cipher to prompt text before it
// is sent, and inverts it on the returned completions. Punctuation and
// whitespace pass through untouched.
type Encoder struct {
	name   string
	encode func(string) string
	decode func(string) string
}

var wordRe = regexp.MustCompile(`[[:alnum:]]+`)

var rotRe = regexp.MustCompile(`^(?:rot|caesar)(\d+)$`)

// GetEncoder resolves an encoder by name: "none" (or empty), "base64"/
// "b64", "reverse"/"rev", and "rotN"/"caesarN" for a shift of N.
func GetEncoder(name string) (*Encoder, error) {
	switch name {
	case "", "none":
		return &Encoder{name: "none", encode: identity, decode: identity}, nil
	case "base64", "b64":
		return &Encoder{name: "base64", encode: base64Encode, decode: base64Decode}, nil
	case "reverse", "rev":
		return &Encoder{name: "reverse", encode: reverse, decode: reverse}, nil
	}
	if m := rotRe.FindStringSubmatch(name); m != nil {
		shift, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, newError(KindInvalidConfiguration, fmt.Errorf("bad cipher shift in %q", name))
		}
		return &Encoder{
			name:   name,
			encode: func(s string) string { return caesar(s, shift) },
			decode: func(s string) string { return caesar(s, -shift) },
		}, nil
	}
	return nil, newError(KindInvalidConfiguration, fmt.Errorf("unknown encoder %q", name))
}

// Name returns the encoder's canonical name.
func (e *Encoder) Name() string { return e.name }

// Apply encodes each word of s.
func (e *Encoder) Apply(s string) string { return mapWords(s, e.encode) }

// Invert decodes each word of s.
func (e *Encoder) Invert(s string) string { return mapWords(s, e.decode) }

// decodeResponse returns a copy of resp with every choice's text decoded.
// The input response is left untouched.
func (e *Encoder) decodeResponse(resp *CompletionResponse) *CompletionResponse {
	if e.name == "none" || resp == nil {
		return resp
	}
	out := &CompletionResponse{RequestID: resp.RequestID}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, Choice{
			Text:     e.Invert(choice.Text),
			Logprobs: choice.Logprobs,
		})
	}
	return out
}

func mapWords(s string, fn func(string) string) string {
	return wordRe.ReplaceAllStringFunc(s, fn)
}

func identity(s string) string { return s }

func base64Encode(s string) string {
	return base64.RawStdEncoding.EncodeToString([]byte(s))
}

func base64Decode(s string) string {
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(b)
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

// caesar shifts ASCII letters by n positions, wrapping within the
// alphabet. Digits and non-ASCII runes pass through.
func caesar(s string, n int) string {
	n = ((n % 26) + 26) % 26
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			r = 'a' + (r-'a'+rune(n))%26
		case r >= 'A' && r <= 'Z':
			r = 'A' + (r-'A'+rune(n))%26
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
