// Package timing estimates narration length from text before real voice
// timings exist.
package timing

import "strings"

const (
	// DefaultWordsPerMinute is the speaking rate assumed when none is configured.
	DefaultWordsPerMinute = 150
	// MinimumSeconds is the floor for any estimated segment; downstream
	// compositing rejects instant cuts.
	MinimumSeconds = 3.0
	// BreathSeconds pads every estimate for the pause around a sentence.
	BreathSeconds = 0.5
)

// EstimateDuration returns the estimated speech duration of text in seconds:
// max(3, words/wpm*60 + 0.5). A non-positive wpm falls back to the default.
func EstimateDuration(text string, wordsPerMinute float64) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	words := WordCount(text)
	seconds := float64(words)/wordsPerMinute*60 + BreathSeconds
	if seconds < MinimumSeconds {
		return MinimumSeconds
	}
	return seconds
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Estimator binds a speaking rate so callers can share one formula version.
type Estimator struct {
	WordsPerMinute float64
}

// NewEstimator returns an Estimator for the given rate.
func NewEstimator(wordsPerMinute float64) Estimator {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	return Estimator{WordsPerMinute: wordsPerMinute}
}

// Duration estimates a single text.
func (e Estimator) Duration(text string) float64 {
	return EstimateDuration(text, e.WordsPerMinute)
}

// TotalDuration previews the timeline length for the supplied texts.
func (e Estimator) TotalDuration(texts ...string) float64 {
	var total float64
	for _, text := range texts {
		total += e.Duration(text)
	}
	return total
}
