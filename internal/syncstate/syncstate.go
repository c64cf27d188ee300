// Package syncstate derives the whole-timeline sync status from segment
// voice state and detects start-time drift.
//
// Everything here is a pure read of segment values; nothing is stored.
package syncstate

import (
	"math"

	"narrasync/internal/segments"
)

// Status is the derived whole-timeline sync indicator.
type Status string

const (
	StatusSynced       Status = "synced"
	StatusOutOfSync    Status = "out_of_sync"
	StatusRegenerating Status = "regenerating"
)

// DefaultResyncThresholdMs is the drift tolerance used when none is configured.
const DefaultResyncThresholdMs int64 = 500

// Derive evaluates, in priority order: any segment generating means
// regenerating, any segment needing voice means out of sync, otherwise synced.
func Derive(segs []segments.Segment) Status {
	outOfSync := false
	for _, seg := range segs {
		if seg.Voice.Status == segments.VoiceGenerating {
			return StatusRegenerating
		}
		if seg.NeedsVoice() {
			outOfSync = true
		}
	}
	if outOfSync {
		return StatusOutOfSync
	}
	return StatusSynced
}

// SegmentsNeedingVoice recomputes, from segment state alone, the ids whose
// voice is missing, failed, or stale. It must always agree with the store's
// cached set.
func SegmentsNeedingVoice(segs []segments.Segment) []string {
	var ids []string
	for _, seg := range segs {
		if seg.NeedsVoice() {
			ids = append(ids, seg.ID)
		}
	}
	return ids
}

// Summary counts segments per voice status alongside the derived status.
type Summary struct {
	Status     Status `json:"status"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	Generating int    `json:"generating"`
	Ready      int    `json:"ready"`
	Failed     int    `json:"failed"`
	// Stale counts ready segments whose text changed after generation.
	Stale           int      `json:"stale"`
	NeedingVoice    []string `json:"segments_needing_voice"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Summarize builds a Summary for the given segments.
func Summarize(segs []segments.Segment) Summary {
	summary := Summary{
		Status:       Derive(segs),
		Total:        len(segs),
		NeedingVoice: SegmentsNeedingVoice(segs),
	}
	if summary.NeedingVoice == nil {
		summary.NeedingVoice = []string{}
	}
	for _, seg := range segs {
		summary.DurationSeconds += seg.Duration
		switch seg.Voice.Status {
		case segments.VoicePending:
			summary.Pending++
		case segments.VoiceGenerating:
			summary.Generating++
		case segments.VoiceReady:
			summary.Ready++
			if seg.NeedsVoice() {
				summary.Stale++
			}
		case segments.VoiceFailed:
			summary.Failed++
		}
	}
	return summary
}

// DriftedSegment is one segment whose stored start differs from the sum of
// its predecessors' durations by more than the threshold.
type DriftedSegment struct {
	SegmentID  string `json:"segment_id"`
	ExpectedMs int64  `json:"expected_ms"`
	ActualMs   int64  `json:"actual_ms"`
}

// DeltaMs is actual minus expected.
func (d DriftedSegment) DeltaMs() int64 {
	return d.ActualMs - d.ExpectedMs
}

// DriftReport is the result of a drift scan.
type DriftReport struct {
	ThresholdMs int64            `json:"threshold_ms"`
	Drifted     []DriftedSegment `json:"drifted"`
	MaxDeltaMs  int64            `json:"max_delta_ms"`
}

// NeedsResync reports whether any segment drifted past the threshold.
func (r DriftReport) NeedsResync() bool {
	return len(r.Drifted) > 0
}

// DetectDrift walks segments in order accumulating expected start times and
// flags every segment whose stored start differs by more than thresholdMs.
// A negative threshold falls back to the default.
func DetectDrift(segs []segments.Segment, thresholdMs int64) DriftReport {
	if thresholdMs < 0 {
		thresholdMs = DefaultResyncThresholdMs
	}
	report := DriftReport{ThresholdMs: thresholdMs}
	expected := ExpectedStarts(segs)
	for i, seg := range segs {
		actual := seg.StartMs()
		delta := actual - expected[i]
		abs := int64(math.Abs(float64(delta)))
		if abs > report.MaxDeltaMs {
			report.MaxDeltaMs = abs
		}
		if abs > thresholdMs {
			report.Drifted = append(report.Drifted, DriftedSegment{
				SegmentID:  seg.ID,
				ExpectedMs: expected[i],
				ActualMs:   actual,
			})
		}
	}
	return report
}

// ExpectedStarts returns each segment's start in ms as implied by the
// durations of the segments before it.
func ExpectedStarts(segs []segments.Segment) []int64 {
	starts := make([]int64, len(segs))
	var cursor float64
	for i, seg := range segs {
		starts[i] = int64(math.Round(cursor * 1000))
		cursor += seg.Duration
	}
	return starts
}
