package textutil

import (
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	got := SanitizeFileName(` a/b:c*d?"e" `)
	if got != "a-b-c-de" {
		t.Fatalf("SanitizeFileName = %q", got)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"How to fix a leaky faucet":   "how-to-fix-a-leaky-faucet",
		"Crème brûlée, step by step!": "creme-brulee-step-by-step",
		"   ":                         "video",
		"C++ & Go: 101":               "c-go-101",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlugIsBounded(t *testing.T) {
	got := Slug(strings.Repeat("word ", 40))
	if len(got) > maxSlugLength || strings.HasSuffix(got, "-") {
		t.Fatalf("slug not bounded: %q (%d)", got, len(got))
	}
}
