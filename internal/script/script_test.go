package script_test

import (
	"errors"
	"path/filepath"
	"testing"

	"narrasync/internal/script"
	"narrasync/internal/services"
	"narrasync/internal/testsupport"
)

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "Hello world. How are you? Fine!", []string{"Hello world.", "How are you?", "Fine!"}},
		{"quotes", `She said "stop." Then left.`, []string{`She said "stop."`, "Then left."}},
		{"decimals", "Pi is 3.14 roughly. Yes.", []string{"Pi is 3.14 roughly.", "Yes."}},
		{"paragraphs", "First line\nstill first\n\nSecond paragraph", []string{"First line still first", "Second paragraph"}},
		{"ellipsis", "Wait... what?", []string{"Wait...", "what?"}},
		{"empty", "  \n\n ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := script.SplitSentences(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("sentence %d: expected %q, got %q", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestParseYAMLBreakdown(t *testing.T) {
	data := []byte(`title: Product tour
segments:
  - text: "Welcome  to the tour."
    caption_style:
      active_color: "#ffcc00"
  - text: ""
  - text: Let's begin.
`)
	breakdown, err := script.Parse(data, script.FormatGuess)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if breakdown.Title != "Product tour" || len(breakdown.Segments) != 2 {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}
	if breakdown.Segments[0].Text != "Welcome to the tour." {
		t.Fatalf("text not normalized: %q", breakdown.Segments[0].Text)
	}
	if style := breakdown.Segments[0].CaptionStyle; style == nil || style.ActiveColor != "#ffcc00" {
		t.Fatalf("caption style lost: %+v", style)
	}
}

func TestParseJSONBreakdown(t *testing.T) {
	data := []byte(`{"title":"Intro","segments":[{"text":"Cafe\u0301 time."}]}`)
	breakdown, err := script.Parse(data, script.FormatGuess)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := breakdown.Segments[0].Text; got != "Caf\u00e9 time." {
		t.Fatalf("expected NFC text, got %q", got)
	}
}

func TestParseRejectsEmptyScript(t *testing.T) {
	if _, err := script.Parse([]byte("segments: []"), script.FormatYAML); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := script.Parse([]byte("{not json"), script.FormatJSON); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadFileUsesFileNameAsTitle(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteFile(t, filepath.Join(dir, "launch_day-teaser.txt"), "One. Two.")
	breakdown, err := script.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if breakdown.Title != "Launch Day Teaser" {
		t.Fatalf("unexpected title %q", breakdown.Title)
	}
	if len(breakdown.Texts()) != 2 {
		t.Fatalf("unexpected texts %v", breakdown.Texts())
	}
}
