// Package script turns an external script breakdown into segment texts.
//
// Three inputs are accepted: a YAML or JSON breakdown document
// ({title, segments: [{text, caption_style}]}) and plain text, which is split
// into sentences. All text is NFC-normalized on the way in.
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"narrasync/internal/segments"
	"narrasync/internal/services"
)

const component = "script"

// Format identifies a breakdown encoding.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatGuess Format = ""
)

// Entry is one segment of a breakdown.
type Entry struct {
	Text         string                 `json:"text"`
	CaptionStyle *segments.CaptionStyle `json:"caption_style,omitempty"`
}

// Breakdown is a parsed script.
type Breakdown struct {
	Title    string  `json:"title"`
	Segments []Entry `json:"segments"`
}

// Texts returns the segment texts in order.
func (b Breakdown) Texts() []string {
	out := make([]string, len(b.Segments))
	for i, entry := range b.Segments {
		out[i] = entry.Text
	}
	return out
}

// yamlStyle mirrors CaptionStyle with yaml tags; the segments package only
// carries json tags.
type yamlStyle struct {
	ActiveColor   string `yaml:"active_color"`
	AppearedColor string `yaml:"appeared_color"`
	DefaultColor  string `yaml:"default_color"`
	Font          string `yaml:"font"`
}

type yamlEntry struct {
	Text         string     `yaml:"text"`
	CaptionStyle *yamlStyle `yaml:"caption_style"`
}

type yamlBreakdown struct {
	Title    string      `yaml:"title"`
	Segments []yamlEntry `yaml:"segments"`
}

// LoadFile reads and parses a breakdown, guessing the format from the
// extension. The title defaults to a cleaned-up file name.
func LoadFile(path string) (Breakdown, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Breakdown{}, fmt.Errorf("read script: %w", err)
	}
	format := FormatText
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	}
	breakdown, err := Parse(data, format)
	if err != nil {
		return Breakdown{}, err
	}
	if breakdown.Title == "" {
		breakdown.Title = TitleFromPath(path)
	}
	return breakdown, nil
}

// Parse decodes data in the given format. FormatGuess sniffs JSON by its
// leading brace, YAML by a top-level "segments:" key, and falls back to text.
func Parse(data []byte, format Format) (Breakdown, error) {
	if format == FormatGuess {
		format = guessFormat(data)
	}
	var (
		breakdown Breakdown
		err       error
	)
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &breakdown)
	case FormatYAML:
		breakdown, err = parseYAML(data)
	case FormatText:
		for _, sentence := range SplitSentences(string(data)) {
			breakdown.Segments = append(breakdown.Segments, Entry{Text: sentence})
		}
	default:
		return Breakdown{}, services.Wrap(services.ErrValidation, component, "parse", "unknown format "+string(format), nil)
	}
	if err != nil {
		return Breakdown{}, services.Wrap(services.ErrValidation, component, "parse", string(format)+" breakdown", err)
	}
	return clean(breakdown)
}

func parseYAML(data []byte) (Breakdown, error) {
	var raw yamlBreakdown
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Breakdown{}, err
	}
	out := Breakdown{Title: raw.Title}
	for _, entry := range raw.Segments {
		converted := Entry{Text: entry.Text}
		if entry.CaptionStyle != nil {
			converted.CaptionStyle = &segments.CaptionStyle{
				ActiveColor:   entry.CaptionStyle.ActiveColor,
				AppearedColor: entry.CaptionStyle.AppearedColor,
				DefaultColor:  entry.CaptionStyle.DefaultColor,
				Font:          entry.CaptionStyle.Font,
			}
		}
		out.Segments = append(out.Segments, converted)
	}
	return out, nil
}

func clean(b Breakdown) (Breakdown, error) {
	out := Breakdown{Title: segments.NormalizeText(b.Title)}
	for _, entry := range b.Segments {
		entry.Text = segments.NormalizeText(entry.Text)
		if entry.Text == "" {
			continue
		}
		if entry.CaptionStyle != nil && entry.CaptionStyle.IsZero() {
			entry.CaptionStyle = nil
		}
		out.Segments = append(out.Segments, entry)
	}
	if len(out.Segments) == 0 {
		return Breakdown{}, services.Wrap(services.ErrValidation, component, "parse", "script has no segments", nil)
	}
	return out, nil
}

func guessFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	for _, line := range strings.Split(string(trimmed), "\n") {
		if strings.HasPrefix(line, "segments:") || strings.HasPrefix(line, "title:") {
			return FormatYAML
		}
	}
	return FormatText
}

// SplitSentences splits prose into sentences on terminal punctuation
// followed by whitespace, and on blank lines. Closing quotes and brackets
// stay with their sentence.
func SplitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if sentence := segments.NormalizeText(current.String()); sentence != "" {
			out = append(out, sentence)
		}
		current.Reset()
	}
	for _, paragraph := range splitParagraphs(text) {
		runes := []rune(paragraph)
		for i := 0; i < len(runes); i++ {
			current.WriteRune(runes[i])
			if !isTerminal(runes[i]) {
				continue
			}
			j := i + 1
			for j < len(runes) && isCloser(runes[j]) {
				current.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) || unicode.IsSpace(runes[j]) {
				flush()
			}
			i = j - 1
		}
		flush()
	}
	return out
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		out   []string
		lines []string
	)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(lines) > 0 {
				out = append(out, strings.Join(lines, " "))
				lines = nil
			}
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > 0 {
		out = append(out, strings.Join(lines, " "))
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return isTerminal(r)
}

// TitleFromPath derives a display title from a file name.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var cleaned strings.Builder
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Untitled"
	}
	return cases.Title(language.Und).String(title)
}
