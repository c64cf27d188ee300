package voice

import (
	"math"
	"strings"

	"narrasync/internal/segments"
)

// alignmentWord mirrors one word of a WhisperX alignment.
type alignmentWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

type alignmentSegment struct {
	Text  string          `json:"text"`
	Start float64         `json:"start"`
	End   float64         `json:"end"`
	Words []alignmentWord `json:"words"`
}

// alignmentTimings flattens WhisperX segments into millisecond word timings.
// Words the aligner could not place (no start or end) are dropped.
func alignmentTimings(segs []alignmentSegment) []segments.WordTiming {
	var out []segments.WordTiming
	for _, seg := range segs {
		for _, w := range seg.Words {
			word := strings.TrimSpace(w.Word)
			if word == "" || w.Start == nil || w.End == nil {
				continue
			}
			out = append(out, segments.WordTiming{
				Word:  word,
				Start: secondsToMs(*w.Start),
				End:   secondsToMs(*w.End),
			})
		}
	}
	return out
}

func alignmentEndMs(segs []alignmentSegment) int64 {
	var end float64
	for _, seg := range segs {
		end = math.Max(end, seg.End)
	}
	return secondsToMs(end)
}

func secondsToMs(value float64) int64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return -1
	}
	return int64(math.Round(value * 1000))
}
