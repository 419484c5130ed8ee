package loom

import (
	"testing"
)

func TestGetEncoder(t *testing.T) {
	for _, name := range []string{"", "none", "base64", "b64", "reverse", "rev", "rot13", "caesar5"} {
		if _, err := GetEncoder(name); err != nil {
			t.Errorf("GetEncoder(%q): %v", name, err)
		}
	}
	if _, err := GetEncoder("vigenere"); KindOf(err) != KindInvalidConfiguration {
		t.Errorf("expected KindInvalidConfiguration for unknown encoder, got %v", err)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	inputs := []string{
		"hello world",
		"Punctuation, stays! where? it... is",
		"Numbers 123 and MixedCase Words",
		"",
	}
	for _, name := range []string{"rot13", "caesar7", "reverse", "base64"} {
		enc, err := GetEncoder(name)
		if err != nil {
			t.Fatalf("GetEncoder(%q): %v", name, err)
		}
		for _, input := range inputs {
			encoded := enc.Apply(input)
			if got := enc.Invert(encoded); got != input {
				t.Errorf("%s: round trip of %q gave %q (encoded %q)", name, input, got, encoded)
			}
		}
	}
}

func TestEncoderTransforms(t *testing.T) {
	cases := []struct {
		encoder string
		in      string
		want    string
	}{
		{"rot13", "Hello, World!", "Uryyb, Jbeyq!"},
		{"caesar1", "abc zoo.", "bcd app."},
		{"reverse", "abc def", "cba fed"},
		{"none", "left alone", "left alone"},
	}
	for _, tc := range cases {
		enc, err := GetEncoder(tc.encoder)
		if err != nil {
			t.Fatalf("GetEncoder(%q): %v", tc.encoder, err)
		}
		if got := enc.Apply(tc.in); got != tc.want {
			t.Errorf("%s.Apply(%q) = %q, want %q", tc.encoder, tc.in, got, tc.want)
		}
	}
}

func TestEncoderPreservesPunctuation(t *testing.T) {
	enc, err := GetEncoder("rot13")
	if err != nil {
		t.Fatal(err)
	}
	got := enc.Apply("a, b. c! d?")
	want := "n, o. p! q?"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecodeResponseDoesNotMutate(t *testing.T) {
	enc, err := GetEncoder("rot13")
	if err != nil {
		t.Fatal(err)
	}
	orig := &CompletionResponse{
		RequestID: "r",
		Choices:   []Choice{{Text: "uryyb"}},
	}
	decoded := enc.decodeResponse(orig)
	if decoded.Choices[0].Text != "hello" {
		t.Errorf("decoded text = %q", decoded.Choices[0].Text)
	}
	if orig.Choices[0].Text != "uryyb" {
		t.Errorf("original response was mutated: %q", orig.Choices[0].Text)
	}
}
