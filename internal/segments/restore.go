package segments

import (
	"fmt"
	"sort"
	"strings"

	"narrasync/internal/services"
)

// Restore replaces the store contents with previously snapshotted segments.
//
// Input is validated at this boundary: ids must be non-empty and unique and
// orders must form a dense zero-based sequence. Word timings are sanitized; a
// ready asset left without usable timings drops back to pending, and a
// generating segment (its request died with the previous process) is reset
// to pending. Stored start times are kept as-is so drift remains detectable.
func (s *Store) Restore(in []Segment) error {
	if err := Validate(in); err != nil {
		return err
	}
	restored := make([]*Segment, len(in))
	byID := make(map[string]*Segment, len(in))
	for i := range in {
		seg := in[i].clone()
		seg.Text = NormalizeText(seg.Text)
		if _, ok := ParseVoiceStatus(string(seg.Voice.Status)); !ok {
			seg.Voice.Status = VoicePending
		}
		if len(seg.Voice.WordTimings) > 0 {
			seg.Voice.WordTimings = SanitizeTimings(seg.Voice.WordTimings)
		}
		switch seg.Voice.Status {
		case VoiceGenerating:
			seg.Voice.Status = VoicePending
			seg.Voice.RequestID = ""
		case VoiceReady:
			if !seg.Voice.HasTimings() {
				seg.Voice.Status = VoicePending
			}
		}
		if seg.Duration <= 0 {
			seg.Duration = s.estimator.Duration(seg.Text)
		}
		ptr := &seg
		restored[seg.Order] = ptr
		byID[seg.ID] = ptr
	}

	s.ordered = restored
	s.byID = byID
	s.needing = make(map[string]struct{}, len(restored))
	for _, seg := range s.ordered {
		s.refreshNeeding(seg)
	}
	return nil
}

// Validate checks that ids are unique and non-empty and that orders are
// dense from zero with no two segments sharing a position.
func Validate(in []Segment) error {
	ids := make(map[string]struct{}, len(in))
	orders := make([]int, 0, len(in))
	for _, seg := range in {
		id := strings.TrimSpace(seg.ID)
		if id == "" {
			return services.Wrap(services.ErrValidation, component, "validate", "segment id is empty", nil)
		}
		if _, dup := ids[id]; dup {
			return services.Wrap(services.ErrValidation, component, "validate", "duplicate segment id "+id, nil)
		}
		ids[id] = struct{}{}
		orders = append(orders, seg.Order)
	}
	sort.Ints(orders)
	for i, order := range orders {
		if order != i {
			return services.Wrap(services.ErrOrderConflict, component, "validate",
				fmt.Sprintf("order sequence broken at position %d (found %d)", i, order), nil)
		}
	}
	return nil
}
