package segments

import (
	"math"
	"strings"
)

// VoiceStatus represents the lifecycle of a segment's generated voice asset.
type VoiceStatus string

const (
	VoicePending    VoiceStatus = "pending"
	VoiceGenerating VoiceStatus = "generating"
	VoiceReady      VoiceStatus = "ready"
	VoiceFailed     VoiceStatus = "failed"
)

var voiceStatusSet = map[VoiceStatus]struct{}{
	VoicePending:    {},
	VoiceGenerating: {},
	VoiceReady:      {},
	VoiceFailed:     {},
}

// ParseVoiceStatus converts a string into a known VoiceStatus.
func ParseVoiceStatus(value string) (VoiceStatus, bool) {
	normalized := VoiceStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := voiceStatusSet[normalized]
	return normalized, ok
}

// WordTiming is one spoken word with offsets in milliseconds relative to the
// start of its segment.
type WordTiming struct {
	Word  string `json:"word"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Valid reports whether the word satisfies 0 <= start <= end.
func (w WordTiming) Valid() bool {
	return w.Start >= 0 && w.Start <= w.End
}

// VoiceAsset captures the generated narration for a segment.
type VoiceAsset struct {
	Status      VoiceStatus  `json:"status"`
	URL         string       `json:"url,omitempty"`
	WordTimings []WordTiming `json:"word_timings,omitempty"`
	// TextHash fingerprints the text the current timings were generated from.
	TextHash   string `json:"text_hash,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	// RequestID identifies the in-flight generation; completions carrying any
	// other ID are stale.
	RequestID string `json:"request_id,omitempty"`
}

// HasTimings reports whether word-level timings are available.
func (v VoiceAsset) HasTimings() bool {
	return len(v.WordTimings) > 0
}

// CaptionStyle holds optional per-segment caption overrides.
type CaptionStyle struct {
	ActiveColor   string `json:"active_color,omitempty"`
	AppearedColor string `json:"appeared_color,omitempty"`
	DefaultColor  string `json:"default_color,omitempty"`
	Font          string `json:"font,omitempty"`
}

// IsZero reports whether no override is set.
func (c CaptionStyle) IsZero() bool {
	return c == CaptionStyle{}
}

// Segment is one narration unit of the script.
type Segment struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Text  string `json:"text"`
	// Duration is in seconds, estimated until a voice asset is ready.
	Duration float64 `json:"duration"`
	// StartTime is the stored absolute offset in seconds.
	StartTime    float64       `json:"start_time"`
	Voice        VoiceAsset    `json:"voice"`
	CaptionStyle *CaptionStyle `json:"caption_style,omitempty"`
}

// NeedsVoice reports whether the segment's voice asset is missing, failed, or
// stale relative to the current text. Segments currently generating are not
// counted; they are already being handled.
func (s Segment) NeedsVoice() bool {
	switch s.Voice.Status {
	case VoicePending, VoiceFailed:
		return true
	case VoiceGenerating:
		return false
	case VoiceReady:
		return s.Voice.TextHash != TextFingerprint(s.Text)
	default:
		return true
	}
}

// StartMs returns the absolute start in integer milliseconds.
func (s Segment) StartMs() int64 {
	return secondsToMs(s.StartTime)
}

// DurationMs returns the segment length in integer milliseconds.
func (s Segment) DurationMs() int64 {
	return secondsToMs(s.Duration)
}

// EndMs returns the exclusive absolute end in integer milliseconds.
func (s Segment) EndMs() int64 {
	return s.StartMs() + s.DurationMs()
}

func secondsToMs(seconds float64) int64 {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

// clone returns a copy that shares no mutable state with the receiver except
// the word timing backing array, which the store never mutates in place.
func (s *Segment) clone() Segment {
	out := *s
	if s.CaptionStyle != nil {
		style := *s.CaptionStyle
		out.CaptionStyle = &style
	}
	return out
}
