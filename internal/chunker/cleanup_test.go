package chunker

import (
	"testing"
)

func TestCleanTextStripsMarkdown(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bold", "this is **important** text", "this is important text"},
		{"emphasis", "this is *emphasized* text", "this is emphasized text"},
		{"underscore", "this is __bold__ and _italic_ text", "this is bold and italic text"},
		{"backtick", "run `make build` now", "run make build now"},
		{"header", "# Heading text", "Heading text"},
		{"list marker", "- first item", "first item"},
		{"colon run", "note:: remember this", "note: remember this"},
		{"trailing colon", "here is the list:", "here is the list"},
		{"whitespace collapse", "too   many \t spaces", "too many spaces"},
		{"surrounding whitespace", "  padded  ", "padded"},
	}

	for _, tc := range cases {
		got := CleanText(tc.input)
		if got != tc.want {
			t.Errorf("%s: CleanText(%q) = %q, want %q", tc.name, tc.input, got, tc.want)
		}
	}
}

func TestIsValidText(t *testing.T) {
	valid := []string{
		"hello",
		"one 2 three",
		"it's fine",
		"привіт світ", // non-Latin letters count as content
		"42",
	}
	for _, s := range valid {
		if !IsValidText(s) {
			t.Errorf("Expected %q to be valid", s)
		}
	}

	invalid := []string{
		"",
		"   ",
		",.!?",
		"- - -",
		"***",
		"...",
	}
	for _, s := range invalid {
		if IsValidText(s) {
			t.Errorf("Expected %q to be invalid", s)
		}
	}
}
