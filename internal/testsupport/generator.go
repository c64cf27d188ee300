package testsupport

import (
	"context"
	"strings"
	"sync"

	"narrasync/internal/segments"
)

// FakeGenerator is a scripted voice generator. By default it returns one
// 300ms word per token of the input text.
type FakeGenerator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	gate  chan struct{}
}

// NewFakeGenerator returns a generator that answers immediately.
func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{calls: make(map[string]int), fail: make(map[string]error)}
}

// FailOn makes requests for text return err.
func (g *FakeGenerator) FailOn(text string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[text] = err
}

// Hold blocks every request until Release is called.
func (g *FakeGenerator) Hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
}

// Release unblocks held requests.
func (g *FakeGenerator) Release() {
	g.mu.Lock()
	gate := g.gate
	g.gate = nil
	g.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Calls returns how many requests were made for text.
func (g *FakeGenerator) Calls(text string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[text]
}

// Generate implements the regeneration Generator interface.
func (g *FakeGenerator) Generate(ctx context.Context, text string) (segments.GeneratedVoice, error) {
	g.mu.Lock()
	g.calls[text]++
	gate := g.gate
	err := g.fail[text]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return segments.GeneratedVoice{}, ctx.Err()
		}
	}
	if err != nil {
		return segments.GeneratedVoice{}, err
	}
	return WordsFor(text, 300), nil
}

// WordsFor builds back-to-back word timings of wordMs each.
func WordsFor(text string, wordMs int64) segments.GeneratedVoice {
	fields := strings.Fields(text)
	timings := make([]segments.WordTiming, len(fields))
	for i, word := range fields {
		timings[i] = segments.WordTiming{Word: word, Start: int64(i) * wordMs, End: int64(i+1) * wordMs}
	}
	return segments.GeneratedVoice{
		URL:         "https://voice.test/" + segments.TextFingerprint(text) + ".mp3",
		WordTimings: timings,
		DurationMs:  int64(len(fields))*wordMs + 200,
	}
}
