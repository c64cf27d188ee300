package segments

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"narrasync/internal/services"
	"narrasync/internal/timing"
)

const component = "segments"

// Store holds the ordered segments of one project.
type Store struct {
	ordered   []*Segment
	byID      map[string]*Segment
	needing   map[string]struct{}
	estimator timing.Estimator
	newID     func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator overrides how segment identifiers are minted (used in tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore returns an empty store that seeds durations with the estimator.
func NewStore(estimator timing.Estimator, opts ...Option) *Store {
	store := &Store{
		byID:      make(map[string]*Segment),
		needing:   make(map[string]struct{}),
		estimator: estimator,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Len returns the number of segments.
func (s *Store) Len() int {
	return len(s.ordered)
}

// Segments returns the segments in playback order. Word timing slices are
// shared with the store and must be treated as read-only.
func (s *Store) Segments() []Segment {
	out := make([]Segment, len(s.ordered))
	for i, seg := range s.ordered {
		out[i] = seg.clone()
	}
	return out
}

// Get returns the segment with the given id.
func (s *Store) Get(id string) (Segment, bool) {
	seg, ok := s.byID[id]
	if !ok {
		return Segment{}, false
	}
	return seg.clone(), true
}

// SegmentsNeedingVoice returns the cached set of segment ids whose voice is
// missing, failed, or stale, in playback order.
func (s *Store) SegmentsNeedingVoice() []string {
	ids := make([]string, 0, len(s.needing))
	for _, seg := range s.ordered {
		if _, ok := s.needing[seg.ID]; ok {
			ids = append(ids, seg.ID)
		}
	}
	return ids
}

// IsNeedingVoice reports whether id is in the needs-voice set.
func (s *Store) IsNeedingVoice(id string) bool {
	_, ok := s.needing[id]
	return ok
}

// Append adds a new pending segment at the end of the timeline.
func (s *Store) Append(text string) Segment {
	seg, _ := s.Insert(len(s.ordered), text)
	return seg
}

// Insert adds a new pending segment at the given order, shifting later
// segments down by one.
func (s *Store) Insert(order int, text string) (Segment, error) {
	if order < 0 || order > len(s.ordered) {
		return Segment{}, services.Wrap(services.ErrOrderConflict, component, "insert",
			fmt.Sprintf("order %d outside 0..%d", order, len(s.ordered)), nil)
	}
	text = NormalizeText(text)
	seg := &Segment{
		ID:       s.newID(),
		Text:     text,
		Duration: s.estimator.Duration(text),
		Voice:    VoiceAsset{Status: VoicePending},
	}
	if _, exists := s.byID[seg.ID]; exists {
		return Segment{}, services.Wrap(services.ErrValidation, component, "insert", "duplicate segment id "+seg.ID, nil)
	}
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[order+1:], s.ordered[order:])
	s.ordered[order] = seg
	s.byID[seg.ID] = seg
	s.renumber()
	s.refreshNeeding(seg)
	s.Ripple()
	return seg.clone(), nil
}

// Delete removes a segment and stops tracking it.
func (s *Store) Delete(id string) error {
	seg, ok := s.byID[id]
	if !ok {
		return notFound("delete", id)
	}
	idx := seg.Order
	s.ordered = append(s.ordered[:idx], s.ordered[idx+1:]...)
	delete(s.byID, id)
	delete(s.needing, id)
	s.renumber()
	s.Ripple()
	return nil
}

// Move places the segment at newOrder, shifting the segments in between.
// Voice assets are untouched: timings are segment-relative.
func (s *Store) Move(id string, newOrder int) error {
	seg, ok := s.byID[id]
	if !ok {
		return notFound("move", id)
	}
	if newOrder < 0 || newOrder >= len(s.ordered) {
		return services.Wrap(services.ErrOrderConflict, component, "move",
			fmt.Sprintf("order %d outside 0..%d", newOrder, len(s.ordered)-1), nil)
	}
	from := seg.Order
	if from == newOrder {
		return nil
	}
	s.ordered = append(s.ordered[:from], s.ordered[from+1:]...)
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[newOrder+1:], s.ordered[newOrder:])
	s.ordered[newOrder] = seg
	s.renumber()
	s.Ripple()
	return nil
}

// Reorder applies a complete new ordering. ids must list every segment
// exactly once; otherwise the call is rejected and the prior order retained.
func (s *Store) Reorder(ids []string) error {
	if len(ids) != len(s.ordered) {
		return services.Wrap(services.ErrOrderConflict, component, "reorder",
			fmt.Sprintf("expected %d ids, got %d", len(s.ordered), len(ids)), nil)
	}
	next := make([]*Segment, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seg, ok := s.byID[id]
		if !ok {
			return notFound("reorder", id)
		}
		if _, dup := seen[id]; dup {
			return services.Wrap(services.ErrOrderConflict, component, "reorder", "segment "+id+" listed twice", nil)
		}
		seen[id] = struct{}{}
		next = append(next, seg)
	}
	s.ordered = next
	s.renumber()
	s.Ripple()
	return nil
}

// ApplyOrders assigns explicit order values. Two segments claiming the same
// order, or a set of orders that is not dense from zero, is rejected as an
// order conflict and nothing changes.
func (s *Store) ApplyOrders(orders map[string]int) error {
	if len(orders) != len(s.ordered) {
		return services.Wrap(services.ErrOrderConflict, component, "apply orders",
			fmt.Sprintf("expected %d entries, got %d", len(s.ordered), len(orders)), nil)
	}
	next := make([]*Segment, len(s.ordered))
	for id, order := range orders {
		seg, ok := s.byID[id]
		if !ok {
			return notFound("apply orders", id)
		}
		if order < 0 || order >= len(next) {
			return services.Wrap(services.ErrOrderConflict, component, "apply orders",
				fmt.Sprintf("order %d outside 0..%d", order, len(next)-1), nil)
		}
		if next[order] != nil {
			return services.Wrap(services.ErrOrderConflict, component, "apply orders",
				fmt.Sprintf("segments %s and %s both claim order %d", next[order].ID, id, order), nil)
		}
		next[order] = seg
	}
	s.ordered = next
	s.renumber()
	s.Ripple()
	return nil
}

// EditText replaces a segment's narration. When the normalized text is
// unchanged nothing happens and false is returned. A ready or generating
// asset falls back to pending but keeps its url and timings so playback can
// show stale captions until regeneration completes.
func (s *Store) EditText(id, text string) (bool, error) {
	seg, ok := s.byID[id]
	if !ok {
		return false, notFound("edit text", id)
	}
	text = NormalizeText(text)
	if text == seg.Text {
		return false, nil
	}
	seg.Text = text
	switch {
	case seg.Voice.HasTimings() && seg.Voice.TextHash == TextFingerprint(text):
		// Reverted to the text the kept asset was generated from.
		seg.Voice.Status = VoiceReady
		seg.Voice.RequestID = ""
		seg.Voice.Error = ""
	case seg.Voice.Status == VoiceReady, seg.Voice.Status == VoiceGenerating:
		seg.Voice.Status = VoicePending
		seg.Voice.RequestID = ""
	}
	if !seg.Voice.HasTimings() {
		seg.Duration = s.estimator.Duration(text)
		s.Ripple()
	}
	s.refreshNeeding(seg)
	return true, nil
}

// SetCaptionStyle replaces the caption overrides; a nil or empty style clears them.
func (s *Store) SetCaptionStyle(id string, style *CaptionStyle) error {
	seg, ok := s.byID[id]
	if !ok {
		return notFound("caption style", id)
	}
	if style == nil || style.IsZero() {
		seg.CaptionStyle = nil
		return nil
	}
	cp := *style
	seg.CaptionStyle = &cp
	return nil
}

// SetDuration applies an external duration correction to one segment without
// rippling later start times. Drift detection reports the resulting mismatch.
func (s *Store) SetDuration(id string, seconds float64) error {
	seg, ok := s.byID[id]
	if !ok {
		return notFound("set duration", id)
	}
	if seconds <= 0 {
		return services.Wrap(services.ErrValidation, component, "set duration", "duration must be positive", nil)
	}
	seg.Duration = seconds
	return nil
}

// Ripple recomputes every start time from the preceding durations.
func (s *Store) Ripple() {
	var cursor float64
	for _, seg := range s.ordered {
		seg.StartTime = cursor
		cursor += seg.Duration
	}
}

// TotalDuration returns the summed segment durations in seconds.
func (s *Store) TotalDuration() float64 {
	var total float64
	for _, seg := range s.ordered {
		total += seg.Duration
	}
	return total
}

// MarkGenerating transitions a segment to generating for the given request.
// It fails when the segment is already generating; callers use that to keep
// a single in-flight request per segment.
func (s *Store) MarkGenerating(id, requestID string) error {
	seg, ok := s.byID[id]
	if !ok {
		return notFound("mark generating", id)
	}
	if seg.Voice.Status == VoiceGenerating {
		return services.Wrap(services.ErrValidation, component, "mark generating",
			"segment "+id+" already generating", nil)
	}
	seg.Voice.Status = VoiceGenerating
	seg.Voice.RequestID = requestID
	seg.Voice.Error = ""
	s.refreshNeeding(seg)
	return nil
}

// GeneratedVoice is a successful generation result.
type GeneratedVoice struct {
	URL         string
	WordTimings []WordTiming
	DurationMs  int64
}

// CompleteVoice records a successful generation. Completions for unknown
// segments, for segments not generating, or for a request other than the one
// in flight are ignored and reported with applied=false. Words violating
// start <= end are dropped; a result with no usable words fails the segment
// with an invalid timing error.
func (s *Store) CompleteVoice(id, requestID string, result GeneratedVoice) (bool, error) {
	seg, ok := s.acceptCompletion(id, requestID)
	if !ok {
		return false, nil
	}
	timings := SanitizeTimings(result.WordTimings)
	if len(timings) == 0 {
		err := services.Wrap(services.ErrInvalidTiming, component, "complete voice",
			"generation returned no usable word timings", nil)
		s.fail(seg, err)
		return true, err
	}
	seg.Voice = VoiceAsset{
		Status:      VoiceReady,
		URL:         strings.TrimSpace(result.URL),
		WordTimings: timings,
		TextHash:    TextFingerprint(seg.Text),
	}
	durationMs := result.DurationMs
	if end := maxEnd(timings); durationMs < end {
		durationMs = end
	}
	seg.Voice.DurationMs = durationMs
	if durationMs > 0 {
		seg.Duration = float64(durationMs) / 1000
	}
	s.refreshNeeding(seg)
	return true, nil
}

// FailVoice records a failed generation. The prior url and timings are kept
// but the segment is visibly failed and stays in the needs-voice set.
func (s *Store) FailVoice(id, requestID string, cause error) bool {
	seg, ok := s.acceptCompletion(id, requestID)
	if !ok {
		return false
	}
	s.fail(seg, cause)
	return true
}

// ResetGenerating returns every generating segment to pending. It is used
// after restoring a snapshot written while requests were in flight.
func (s *Store) ResetGenerating() int {
	count := 0
	for _, seg := range s.ordered {
		if seg.Voice.Status != VoiceGenerating {
			continue
		}
		seg.Voice.Status = VoicePending
		seg.Voice.RequestID = ""
		s.refreshNeeding(seg)
		count++
	}
	return count
}

func (s *Store) acceptCompletion(id, requestID string) (*Segment, bool) {
	seg, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if seg.Voice.Status != VoiceGenerating || seg.Voice.RequestID != requestID {
		return nil, false
	}
	return seg, true
}

func (s *Store) fail(seg *Segment, cause error) {
	seg.Voice.Status = VoiceFailed
	seg.Voice.RequestID = ""
	if cause != nil {
		seg.Voice.Error = cause.Error()
	} else {
		seg.Voice.Error = services.ErrGenerationFailed.Error()
	}
	s.refreshNeeding(seg)
}

func (s *Store) refreshNeeding(seg *Segment) {
	if seg.NeedsVoice() {
		s.needing[seg.ID] = struct{}{}
		return
	}
	delete(s.needing, seg.ID)
}

func (s *Store) renumber() {
	for i, seg := range s.ordered {
		seg.Order = i
	}
}

// SanitizeTimings drops words violating start <= end and returns the rest
// sorted by start. Overlap between neighbours is kept.
func SanitizeTimings(in []WordTiming) []WordTiming {
	out := make([]WordTiming, 0, len(in))
	for _, w := range in {
		if !w.Valid() {
			continue
		}
		w.Word = strings.TrimSpace(w.Word)
		out = append(out, w)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func maxEnd(timings []WordTiming) int64 {
	var end int64
	for _, w := range timings {
		if w.End > end {
			end = w.End
		}
	}
	return end
}

func notFound(operation, id string) error {
	return services.Wrap(services.ErrNotFound, component, operation, "segment "+id, nil)
}
