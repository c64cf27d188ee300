package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"narrasync/internal/captions"
	"narrasync/internal/logging"
	"narrasync/internal/projectstore"
	"narrasync/internal/regen"
	"narrasync/internal/script"
	"narrasync/internal/segments"
	"narrasync/internal/services"
	"narrasync/internal/syncstate"
	"narrasync/internal/timing"
)

const component = "timeline"

// Persister stores encoded snapshots. projectstore.Store satisfies it.
type Persister interface {
	Save(ctx context.Context, id string, snapshot []byte, summary projectstore.Summary) (int64, error)
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	settings      Settings
	persister     Persister
	logger        *slog.Logger
	maxConcurrent int
	newID         func() string
	manualResync  bool
}

// WithSettings sets the engine defaults; per-project snapshot settings win.
func WithSettings(settings Settings) Option {
	return func(o *engineOptions) { o.settings = settings }
}

// WithPersister flushes snapshots to p after every change.
func WithPersister(p Persister) Option {
	return func(o *engineOptions) { o.persister = p }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithMaxConcurrent caps simultaneous regeneration requests.
func WithMaxConcurrent(n int) Option {
	return func(o *engineOptions) { o.maxConcurrent = n }
}

// WithSegmentIDs overrides segment id generation (used in tests).
func WithSegmentIDs(fn func() string) Option {
	return func(o *engineOptions) { o.newID = fn }
}

// WithManualResync disables the automatic ripple after a completion changes
// a segment duration; drift then stays visible until Resync is called.
func WithManualResync() Option {
	return func(o *engineOptions) { o.manualResync = true }
}

// Engine is the synchronization engine for one project.
type Engine struct {
	id     string
	title  string
	logger *slog.Logger
	ctx    context.Context

	mu         sync.Mutex
	storeOpts  []segments.Option
	store      *segments.Store
	resolver   *captions.Resolver
	defaults   Settings
	settings   Settings
	playing    bool
	currentMs  int64
	persister  Persister
	revision   int64
	persistErr error
	autoResync bool

	orch *regen.Orchestrator
}

// New constructs an empty engine. Regeneration requests run under ctx and
// are cancelled by Close.
func New(ctx context.Context, projectID, title string, generator regen.Generator, opts ...Option) *Engine {
	options := engineOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	base := options.logger
	if base == nil {
		base = logging.NewNop()
	}
	base = base.With(logging.String(logging.FieldProjectID, projectID))
	logger := logging.NewComponentLogger(base, component)

	settings := options.settings.Merge(Settings{
		WordsPerMinute:    timing.DefaultWordsPerMinute,
		ResyncThresholdMs: Threshold(syncstate.DefaultResyncThresholdMs),
		MaxWordsPerChunk:  captions.DefaultMaxWordsPerChunk,
	})
	var storeOpts []segments.Option
	if options.newID != nil {
		storeOpts = append(storeOpts, segments.WithIDGenerator(options.newID))
	}

	e := &Engine{
		id:         projectID,
		title:      title,
		logger:     logger,
		ctx:        services.WithProjectID(ctx, projectID),
		storeOpts:  storeOpts,
		store:      segments.NewStore(timing.NewEstimator(settings.WordsPerMinute), storeOpts...),
		resolver:   captions.NewResolver(),
		defaults:   settings,
		settings:   settings,
		persister:  options.persister,
		autoResync: !options.manualResync,
	}
	regenOpts := []regen.Option{regen.WithLogger(base)}
	if options.maxConcurrent > 0 {
		regenOpts = append(regenOpts, regen.WithMaxConcurrent(options.maxConcurrent))
	}
	e.orch = regen.New(e.ctx, generator, engineLedger{e}, regenOpts...)
	return e
}

// ID returns the project id.
func (e *Engine) ID() string { return e.id }

// Title returns the project title.
func (e *Engine) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Close cancels in-flight regeneration and waits for it to wind down.
func (e *Engine) Close() {
	e.orch.Close()
}

// OnRegenerated registers a listener for regeneration outcomes.
func (e *Engine) OnRegenerated(fn func(regen.Outcome)) {
	e.orch.OnComplete(fn)
}

// Restore replaces the engine state with snap. Settings stored in the
// snapshot override the engine defaults field by field.
func (e *Engine) Restore(snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	settings := snap.Timeline.Settings.Merge(e.defaults)
	store := segments.NewStore(timing.NewEstimator(settings.WordsPerMinute), e.storeOpts...)
	if err := store.Restore(snap.Segments); err != nil {
		return err
	}
	e.store = store
	e.settings = settings
	if snap.Title != "" {
		e.title = snap.Title
	}
	e.playing = false
	e.currentMs = secondsToMs(snap.Timeline.CurrentTime)
	e.resolver.Seek()
	return nil
}

// Load decodes and restores a stored snapshot document.
func (e *Engine) Load(data []byte) error {
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return err
	}
	return e.Restore(snap)
}

// Snapshot returns the serializable engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	segs := e.store.Segments()
	return Snapshot{
		ProjectID: e.id,
		Title:     e.title,
		Segments:  segs,
		Timeline: State{
			CurrentTime:          float64(e.currentMs) / 1000,
			IsPlaying:            e.playing,
			SegmentsNeedingVoice: e.store.SegmentsNeedingVoice(),
			SyncStatus:           syncstate.Derive(segs),
			Settings:             e.settings,
		},
	}
}

// Segments returns the ordered segments.
func (e *Engine) Segments() []segments.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Segments()
}

// Segment returns one segment by id.
func (e *Engine) Segment(id string) (segments.Segment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

// Settings returns the effective settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// SetSettings stores per-project overrides. Changing the speaking rate only
// affects future estimates.
func (e *Engine) SetSettings(ctx context.Context, settings Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := settings.Merge(e.settings)
	if merged.WordsPerMinute != e.settings.WordsPerMinute {
		restored := segments.NewStore(timing.NewEstimator(merged.WordsPerMinute), e.storeOpts...)
		if err := restored.Restore(e.store.Segments()); err != nil {
			return err
		}
		e.store = restored
	}
	e.settings = merged
	e.resolver.Seek()
	return e.persistLocked(ctx, "settings")
}

// ImportScript appends every breakdown entry as a new pending segment.
func (e *Engine) ImportScript(ctx context.Context, breakdown script.Breakdown) ([]segments.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.title == "" && breakdown.Title != "" {
		e.title = breakdown.Title
	}
	added := make([]segments.Segment, 0, len(breakdown.Segments))
	for _, entry := range breakdown.Segments {
		seg := e.store.Append(entry.Text)
		if entry.CaptionStyle != nil {
			if err := e.store.SetCaptionStyle(seg.ID, entry.CaptionStyle); err != nil {
				return added, err
			}
			seg, _ = e.store.Get(seg.ID)
		}
		added = append(added, seg)
	}
	e.resolver.Seek()
	e.logger.Info("script imported", logging.Int("segments", len(added)))
	return added, e.persistLocked(ctx, "import")
}

// Insert adds a pending segment at order; a negative order appends.
func (e *Engine) Insert(ctx context.Context, order int, text string) (segments.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order < 0 {
		order = e.store.Len()
	}
	seg, err := e.store.Insert(order, text)
	if err != nil {
		return segments.Segment{}, err
	}
	e.resolver.Seek()
	return seg, e.persistLocked(ctx, "insert")
}

// Delete removes a segment.
func (e *Engine) Delete(ctx context.Context, segmentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Delete(segmentID); err != nil {
		return err
	}
	e.resolver.Seek()
	return e.persistLocked(ctx, "delete")
}

// Reorder applies a complete ordering of segment ids.
func (e *Engine) Reorder(ctx context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Reorder(ids); err != nil {
		return err
	}
	e.resolver.Seek()
	return e.persistLocked(ctx, "reorder")
}

// Move places one segment at a new order.
func (e *Engine) Move(ctx context.Context, segmentID string, order int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Move(segmentID, order); err != nil {
		return err
	}
	e.resolver.Seek()
	return e.persistLocked(ctx, "move")
}

// EditText changes narration text. It reports whether anything changed.
func (e *Engine) EditText(ctx context.Context, segmentID, text string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed, err := e.store.EditText(segmentID, text)
	if err != nil || !changed {
		return changed, err
	}
	e.resolver.Seek()
	e.logger.Debug("segment text edited", logging.String(logging.FieldSegmentID, segmentID))
	return true, e.persistLocked(ctx, "edit")
}

// SetCaptionStyle replaces a segment's caption overrides.
func (e *Engine) SetCaptionStyle(ctx context.Context, segmentID string, style *segments.CaptionStyle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.SetCaptionStyle(segmentID, style); err != nil {
		return err
	}
	return e.persistLocked(ctx, "caption style")
}

// CorrectDuration applies an external duration correction to one segment
// without rippling. The mismatch shows up in Drift until Resync runs.
func (e *Engine) CorrectDuration(ctx context.Context, segmentID string, seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.SetDuration(segmentID, seconds); err != nil {
		return err
	}
	e.resolver.Seek()
	return e.persistLocked(ctx, "duration")
}

// SegmentUpdate is a combined edit of one segment. Nil fields are left alone.
type SegmentUpdate struct {
	Text       *string
	Style      *segments.CaptionStyle
	ClearStyle bool
	Duration   *float64
	Order      *int
}

// Update validates every field of u against the current state and then
// applies them together, so a rejected update changes nothing.
func (e *Engine) Update(ctx context.Context, segmentID string, u SegmentUpdate) (segments.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.store.Get(segmentID); !ok {
		return segments.Segment{}, services.Wrap(services.ErrNotFound, component, "update segment", "segment "+segmentID, nil)
	}
	if u.Duration != nil && (*u.Duration <= 0 || math.IsNaN(*u.Duration) || math.IsInf(*u.Duration, 0)) {
		return segments.Segment{}, services.Wrap(services.ErrValidation, component, "update segment", "duration must be positive", nil)
	}
	if u.Order != nil && (*u.Order < 0 || *u.Order >= e.store.Len()) {
		return segments.Segment{}, services.Wrap(services.ErrOrderConflict, component, "update segment",
			fmt.Sprintf("order %d outside 0..%d", *u.Order, e.store.Len()-1), nil)
	}
	if u.ClearStyle && u.Style != nil {
		return segments.Segment{}, services.Wrap(services.ErrValidation, component, "update segment", "caption style set and cleared together", nil)
	}

	var err error
	if u.Text != nil {
		_, err = e.store.EditText(segmentID, *u.Text)
	}
	if err == nil && (u.Style != nil || u.ClearStyle) {
		err = e.store.SetCaptionStyle(segmentID, u.Style)
	}
	if err == nil && u.Duration != nil {
		err = e.store.SetDuration(segmentID, *u.Duration)
	}
	if err == nil && u.Order != nil {
		err = e.store.Move(segmentID, *u.Order)
	}
	if err != nil {
		return segments.Segment{}, err
	}
	e.resolver.Seek()
	seg, _ := e.store.Get(segmentID)
	return seg, e.persistLocked(ctx, "update")
}

// Play starts the playback clock.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = true
}

// Pause stops the playback clock.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

// Seek moves the playback clock and invalidates the resolver cache.
// In-flight regeneration is unaffected.
func (e *Engine) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ms := secondsToMs(seconds)
	if ms < 0 {
		ms = 0
	}
	e.currentMs = ms
	e.resolver.Seek()
}

// Advance moves the clock forward by delta while playing and returns the
// caption frame for the new position. Playback stops at the end of the
// timeline.
func (e *Engine) Advance(delta time.Duration) captions.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	segs := e.store.Segments()
	if e.playing && delta > 0 {
		e.currentMs += delta.Milliseconds()
		end := secondsToMs(e.store.TotalDuration())
		if e.currentMs >= end {
			e.currentMs = end
			e.playing = false
		}
	}
	return e.resolver.Resolve(e.currentMs, segs)
}

// CurrentTime returns the playback position in seconds.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.currentMs) / 1000
}

// Playing reports whether the clock is running.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Resolve returns the caption frame at currentTimeMs.
func (e *Engine) Resolve(currentTimeMs int64) captions.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolver.Resolve(currentTimeMs, e.store.Segments())
}

// ResolveFrame returns the caption frame for a host frame index.
func (e *Engine) ResolveFrame(frame int64, fps float64) captions.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolver.ResolveFrame(frame, fps, e.store.Segments())
}

// Captions returns the caption query projection.
func (e *Engine) Captions() []captions.SegmentCaptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return captions.Project(e.store.Segments(), e.settings.MaxWordsPerChunk)
}

// SubtitleCues returns the captions laid out on the absolute timeline.
func (e *Engine) SubtitleCues() []captions.Cue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return captions.Cues(e.store.Segments(), e.settings.MaxWordsPerChunk)
}

// Status is the sync overview of the project.
type Status struct {
	ProjectID   string                `json:"project_id"`
	Summary     syncstate.Summary     `json:"summary"`
	Drift       syncstate.DriftReport `json:"drift"`
	InFlight    []string              `json:"in_flight"`
	CurrentTime float64               `json:"current_time"`
	IsPlaying   bool                  `json:"is_playing"`
}

// Status reports sync state, drift, and in-flight regeneration.
func (e *Engine) Status() Status {
	inflight := e.orch.InFlight()
	e.mu.Lock()
	defer e.mu.Unlock()
	segs := e.store.Segments()
	return Status{
		ProjectID:   e.id,
		Summary:     syncstate.Summarize(segs),
		Drift:       syncstate.DetectDrift(segs, e.settings.ThresholdMs()),
		InFlight:    inflight,
		CurrentTime: float64(e.currentMs) / 1000,
		IsPlaying:   e.playing,
	}
}

// SyncStatus returns the derived whole-timeline status.
func (e *Engine) SyncStatus() syncstate.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return syncstate.Derive(e.store.Segments())
}

// SegmentsNeedingVoice returns ids whose voice is missing, failed, or stale.
func (e *Engine) SegmentsNeedingVoice() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.SegmentsNeedingVoice()
}

// Drift reports start-time drift against the configured threshold.
func (e *Engine) Drift() syncstate.DriftReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return syncstate.DetectDrift(e.store.Segments(), e.settings.ThresholdMs())
}

// Resync ripples start times from durations and returns the drift that was
// corrected.
func (e *Engine) Resync(ctx context.Context) (syncstate.DriftReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	report := syncstate.DetectDrift(e.store.Segments(), e.settings.ThresholdMs())
	e.store.Ripple()
	e.resolver.Seek()
	if report.NeedsResync() {
		e.logger.Info("timeline resynced",
			logging.Int("drifted_segments", len(report.Drifted)),
			logging.Int64("max_delta_ms", report.MaxDeltaMs),
		)
	}
	return report, e.persistLocked(ctx, "resync")
}

// Regenerate requests voice for segmentIDs, or for every segment needing
// voice when none are given.
func (e *Engine) Regenerate(ctx context.Context, segmentIDs ...string) (regen.Result, error) {
	ctx = services.WithProjectID(ctx, e.id)
	return e.orch.Regenerate(ctx, segmentIDs)
}

// Wait blocks until no regeneration is in flight.
func (e *Engine) Wait(ctx context.Context) error {
	return e.orch.Wait(ctx)
}

// InFlight lists segments with an outstanding regeneration request.
func (e *Engine) InFlight() []string {
	return e.orch.InFlight()
}

// Revision returns the last persisted revision.
func (e *Engine) Revision() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// LastPersistError returns the most recent snapshot flush failure.
func (e *Engine) LastPersistError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persistErr
}

// persistLocked flushes a snapshot. The in-memory change has already been
// applied when this fails.
func (e *Engine) persistLocked(ctx context.Context, reason string) error {
	if e.persister == nil {
		return nil
	}
	if ctx == nil {
		ctx = e.ctx
	}
	snap := e.snapshotLocked()
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	summary := projectstore.Summary{
		SegmentCount:    len(snap.Segments),
		SyncStatus:      string(snap.Timeline.SyncStatus),
		DurationSeconds: e.store.TotalDuration(),
	}
	revision, err := e.persister.Save(ctx, e.id, data, summary)
	if err != nil {
		e.persistErr = err
		logging.WarnWithContext(e.logger, "snapshot flush failed", "snapshot_persist_failed",
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the project database path and disk space"),
			logging.String(logging.FieldImpact, "changes are kept in memory only"),
		)
		return services.Wrap(services.ErrTransient, component, "persist", reason, err)
	}
	e.persistErr = nil
	e.revision = revision
	return nil
}

func secondsToMs(seconds float64) int64 {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}
