package timeline

import (
	"narrasync/internal/logging"
	"narrasync/internal/segments"
	"narrasync/internal/syncstate"
)

// engineLedger gives the orchestrator mutex-guarded access to the store.
type engineLedger struct {
	e *Engine
}

func (l engineLedger) Begin(segmentID, requestID string) (string, error) {
	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.MarkGenerating(segmentID, requestID); err != nil {
		return "", err
	}
	seg, _ := e.store.Get(segmentID)
	_ = e.persistLocked(e.ctx, "regeneration started")
	return seg.Text, nil
}

func (l engineLedger) Complete(segmentID, requestID string, result segments.GeneratedVoice) (bool, error) {
	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	applied, err := e.store.CompleteVoice(segmentID, requestID, result)
	if !applied {
		return false, err
	}
	e.afterCompletionLocked()
	_ = e.persistLocked(e.ctx, "regeneration completed")
	return true, err
}

func (l engineLedger) Fail(segmentID, requestID string, cause error) bool {
	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.store.FailVoice(segmentID, requestID, cause) {
		return false
	}
	_ = e.persistLocked(e.ctx, "regeneration failed")
	return true
}

func (l engineLedger) Current(segmentID, requestID string) bool {
	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	seg, ok := e.store.Get(segmentID)
	return ok && seg.Voice.Status == segments.VoiceGenerating && seg.Voice.RequestID == requestID
}

func (l engineLedger) NeedingVoice() []string {
	e := l.e
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SegmentsNeedingVoice()
}

// afterCompletionLocked ripples start times when an authoritative duration
// moved later segments past the drift threshold. The completed segment's
// window may have changed either way, so the resolver cache is dropped.
func (e *Engine) afterCompletionLocked() {
	e.resolver.Seek()
	if !e.autoResync {
		return
	}
	report := syncstate.DetectDrift(e.store.Segments(), e.settings.ThresholdMs())
	if !report.NeedsResync() {
		return
	}
	e.store.Ripple()
	e.logger.Debug("start times rippled after regeneration",
		logging.Int("drifted_segments", len(report.Drifted)),
		logging.Int64("max_delta_ms", report.MaxDeltaMs),
	)
}
