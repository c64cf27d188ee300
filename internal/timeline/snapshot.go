package timeline

import (
	"encoding/json"
	"fmt"

	"narrasync/internal/config"
	"narrasync/internal/segments"
	"narrasync/internal/services"
	"narrasync/internal/syncstate"
)

// Settings are the per-project knobs; zero values fall back to config.
// ResyncThresholdMs is a pointer because zero is a valid threshold.
type Settings struct {
	WordsPerMinute    float64 `json:"words_per_minute,omitempty"`
	ResyncThresholdMs *int64  `json:"resync_threshold_ms,omitempty"`
	MaxWordsPerChunk  int     `json:"max_words_per_chunk,omitempty"`
}

// Threshold returns a Settings-ready pointer for ms.
func Threshold(ms int64) *int64 {
	return &ms
}

// ThresholdMs returns the effective drift tolerance.
func (s Settings) ThresholdMs() int64 {
	if s.ResyncThresholdMs == nil || *s.ResyncThresholdMs < 0 {
		return syncstate.DefaultResyncThresholdMs
	}
	return *s.ResyncThresholdMs
}

// SettingsFromConfig extracts the timeline defaults from config.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{}
	}
	return Settings{
		WordsPerMinute:    cfg.Timeline.WordsPerMinute,
		ResyncThresholdMs: Threshold(cfg.Timeline.ResyncThresholdMs),
		MaxWordsPerChunk:  cfg.Captions.MaxWordsPerChunk,
	}
}

// Merge returns s with zero fields filled from fallback.
func (s Settings) Merge(fallback Settings) Settings {
	if s.WordsPerMinute <= 0 {
		s.WordsPerMinute = fallback.WordsPerMinute
	}
	if s.ResyncThresholdMs == nil {
		s.ResyncThresholdMs = fallback.ResyncThresholdMs
	}
	if s.MaxWordsPerChunk <= 0 {
		s.MaxWordsPerChunk = fallback.MaxWordsPerChunk
	}
	return s
}

// State is the aggregate timeline view stored next to the segments.
type State struct {
	CurrentTime          float64          `json:"current_time"`
	IsPlaying            bool             `json:"is_playing"`
	SegmentsNeedingVoice []string         `json:"segments_needing_voice"`
	SyncStatus           syncstate.Status `json:"sync_status"`
	Settings             Settings         `json:"settings"`
}

// Snapshot is the persisted document for one project.
type Snapshot struct {
	ProjectID string             `json:"project_id"`
	Title     string             `json:"title"`
	Segments  []segments.Segment `json:"segments"`
	Timeline  State              `json:"timeline"`
}

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	if s.Segments == nil {
		s.Segments = []segments.Segment{}
	}
	if s.Timeline.SegmentsNeedingVoice == nil {
		s.Timeline.SegmentsNeedingVoice = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a stored document. Structural validation happens
// when the snapshot is restored into an engine.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, services.Wrap(services.ErrValidation, component, "decode snapshot", "", err)
	}
	return snap, nil
}
