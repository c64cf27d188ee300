// Package regen drives voice regeneration for segments whose assets are
// stale. The Orchestrator owns the table of in-flight requests, caps
// concurrency, and reports every terminal outcome back through a Ledger.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"narrasync/internal/logging"
	"narrasync/internal/segments"
	"narrasync/internal/services"
)

const component = "regen"

// DefaultMaxConcurrent bounds simultaneous generation requests when no limit
// is configured.
const DefaultMaxConcurrent = 3

// Generator produces a voice asset for one segment's text.
type Generator interface {
	Generate(ctx context.Context, text string) (segments.GeneratedVoice, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, text string) (segments.GeneratedVoice, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, text string) (segments.GeneratedVoice, error) {
	return f(ctx, text)
}

// Ledger is the guarded view of segment state the orchestrator writes to.
// Implementations serialize access to the underlying store.
type Ledger interface {
	// Begin marks the segment generating under requestID and returns the text
	// to synthesize.
	Begin(segmentID, requestID string) (string, error)
	Complete(segmentID, requestID string, result segments.GeneratedVoice) (bool, error)
	Fail(segmentID, requestID string, cause error) bool
	// Current reports whether requestID is still the segment's live request.
	// A text edit during generation makes it stale.
	Current(segmentID, requestID string) bool
	NeedingVoice() []string
}

// Outcome is the terminal result of one request.
type Outcome struct {
	SegmentID string
	RequestID string
	// Status is the segment status this outcome wrote; empty when not applied.
	Status segments.VoiceStatus
	// Applied is false when the completion was stale and ignored.
	Applied  bool
	Err      error
	Duration time.Duration
}

// Handle tracks one in-flight request.
type Handle struct {
	SegmentID string
	RequestID string
	Started   time.Time

	done    chan struct{}
	outcome Outcome
	ctx     context.Context
	cancel  context.CancelFunc
}

// Done is closed once the request reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome returns the terminal outcome; it blocks until Done is closed.
func (h *Handle) Outcome() Outcome {
	<-h.done
	return h.outcome
}

// Skipped records a target that could not be started.
type Skipped struct {
	SegmentID string
	Err       error
}

// Result describes one Regenerate call.
type Result struct {
	// Handles covers every started or already in-flight target, in request order.
	Handles []*Handle
	// Started lists ids for which a new request was issued.
	Started []string
	// Joined lists ids that already had a request in flight.
	Joined []string
	// Superseded lists ids whose in-flight request was stale (its text was
	// edited) and has been cancelled in favour of a new one.
	Superseded []string
	Skipped []Skipped
}

// Wait blocks until every handle completes or ctx ends.
func (r Result) Wait(ctx context.Context) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(r.Handles))
	for _, h := range r.Handles {
		select {
		case <-h.done:
			outcomes = append(outcomes, h.outcome)
		case <-ctx.Done():
			return outcomes, ctx.Err()
		}
	}
	return outcomes, nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxConcurrent caps simultaneous generator calls.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logging.NewComponentLogger(logger, component)
		}
	}
}

// WithRequestIDs overrides request id generation (used in tests).
func WithRequestIDs(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// Orchestrator issues at most one generation request per segment at a time.
type Orchestrator struct {
	generator Generator
	ledger    Ledger
	logger    *slog.Logger
	sem       chan struct{}
	newID     func() string

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	inflight   map[string]*Handle
	listeners  []func(Outcome)
	running    int
	idle       chan struct{}
	closed     bool
	completed  int
	failed     int
	lastFinish time.Time
}

// New constructs an Orchestrator. Requests run under a context derived from
// parent rather than the caller's, so they survive the API call that
// triggered them; Close cancels them.
func New(parent context.Context, generator Generator, ledger Ledger, opts ...Option) *Orchestrator {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	o := &Orchestrator{
		generator: generator,
		ledger:    ledger,
		logger:    logging.NewComponentLogger(logging.NewNop(), component),
		sem:       make(chan struct{}, DefaultMaxConcurrent),
		newID:     uuid.NewString,
		baseCtx:   ctx,
		cancel:    cancel,
		inflight:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnComplete registers fn to run after every terminal outcome. Listeners run
// on the request goroutine after the ledger has been updated.
func (o *Orchestrator) OnComplete(fn func(Outcome)) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Regenerate issues requests for segmentIDs, or for every segment needing
// voice when segmentIDs is empty. A segment already in flight is joined, not
// re-requested.
func (o *Orchestrator) Regenerate(ctx context.Context, segmentIDs []string) (Result, error) {
	if o.generator == nil || o.ledger == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, component, "regenerate", "generator or ledger not configured", nil)
	}
	if len(segmentIDs) == 0 {
		segmentIDs = o.ledger.NeedingVoice()
	}
	logger := logging.WithContext(ctx, o.logger)

	var result Result
	seen := make(map[string]struct{}, len(segmentIDs))
	for _, id := range segmentIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		handle, started, superseded, err := o.start(id)
		if superseded {
			result.Superseded = append(result.Superseded, id)
		}
		switch {
		case err != nil:
			result.Skipped = append(result.Skipped, Skipped{SegmentID: id, Err: err})
			logger.Debug("regeneration skipped", logging.String(logging.FieldSegmentID, id), logging.Error(err))
		case started:
			result.Handles = append(result.Handles, handle)
			result.Started = append(result.Started, id)
			logger.Info("regeneration started",
				logging.String(logging.FieldSegmentID, id),
				logging.String("request_id", handle.RequestID),
			)
		default:
			result.Handles = append(result.Handles, handle)
			result.Joined = append(result.Joined, id)
		}
	}
	return result, nil
}

// RegenerateTimelineSync is Regenerate with variadic ids.
func (o *Orchestrator) RegenerateTimelineSync(ctx context.Context, segmentIDs ...string) (Result, error) {
	return o.Regenerate(ctx, segmentIDs)
}

// start issues a request for segmentID or joins the live one. An in-flight
// handle the ledger no longer recognizes is cancelled and replaced, so the
// segment never has more than one live request.
func (o *Orchestrator) start(segmentID string) (handle *Handle, started, superseded bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, false, false, services.Wrap(services.ErrConfiguration, component, "regenerate", "orchestrator closed", nil)
	}
	existing, ok := o.inflight[segmentID]
	if ok && o.ledger.Current(segmentID, existing.RequestID) {
		return existing, false, false, nil
	}
	handle = &Handle{
		SegmentID: segmentID,
		RequestID: o.newID(),
		Started:   time.Now(),
		done:      make(chan struct{}),
	}
	text, err := o.ledger.Begin(segmentID, handle.RequestID)
	if err != nil {
		return nil, false, false, err
	}
	if ok {
		existing.cancel()
		delete(o.inflight, segmentID)
		superseded = true
	}
	ctx := services.WithSegmentID(o.baseCtx, segmentID)
	ctx = services.WithRequestID(ctx, handle.RequestID)
	handle.ctx, handle.cancel = context.WithCancel(ctx)

	o.inflight[segmentID] = handle
	if o.running == 0 {
		o.idle = make(chan struct{})
	}
	o.running++
	go o.run(handle, text)
	return handle, true, superseded, nil
}

func (o *Orchestrator) run(handle *Handle, text string) {
	defer handle.cancel()
	outcome := Outcome{SegmentID: handle.SegmentID, RequestID: handle.RequestID}
	voice, err := o.generate(handle.ctx, text)
	if err != nil {
		err = services.Wrap(services.ErrGenerationFailed, component, "generate", "segment "+handle.SegmentID, err)
		outcome.Applied = o.ledger.Fail(handle.SegmentID, handle.RequestID, err)
		outcome.Err = err
		if outcome.Applied {
			outcome.Status = segments.VoiceFailed
		}
	} else {
		applied, cerr := o.ledger.Complete(handle.SegmentID, handle.RequestID, voice)
		outcome.Applied = applied
		switch {
		case cerr != nil:
			outcome.Status = segments.VoiceFailed
			outcome.Err = cerr
		case applied:
			outcome.Status = segments.VoiceReady
		}
	}
	outcome.Duration = time.Since(handle.Started)
	o.finish(handle, outcome)
}

func (o *Orchestrator) generate(ctx context.Context, text string) (voice segments.GeneratedVoice, err error) {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return segments.GeneratedVoice{}, ctx.Err()
	}
	defer func() { <-o.sem }()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return o.generator.Generate(ctx, text)
}

func (o *Orchestrator) finish(handle *Handle, outcome Outcome) {
	o.mu.Lock()
	if current, ok := o.inflight[handle.SegmentID]; ok && current == handle {
		delete(o.inflight, handle.SegmentID)
	}
	switch {
	case !outcome.Applied:
	case outcome.Err != nil:
		o.failed++
	default:
		o.completed++
	}
	o.lastFinish = time.Now()
	listeners := append([]func(Outcome){}, o.listeners...)
	o.running--
	if o.running == 0 {
		close(o.idle)
	}
	o.mu.Unlock()

	handle.outcome = outcome
	close(handle.done)

	attrs := []logging.Attr{
		logging.String(logging.FieldSegmentID, outcome.SegmentID),
		logging.String("request_id", outcome.RequestID),
		logging.Bool("applied", outcome.Applied),
		logging.Duration("elapsed", outcome.Duration),
	}
	switch {
	case outcome.Err != nil && errors.Is(outcome.Err, context.Canceled):
		o.logger.Info("regeneration cancelled", logging.Args(attrs...)...)
	case !outcome.Applied:
		o.logger.Info("stale regeneration result ignored", logging.Args(attrs...)...)
	case outcome.Err != nil:
		attrs = append(attrs,
			logging.Error(outcome.Err),
			logging.String(logging.FieldErrorHint, "retry regeneration for this segment or revert the text edit"),
			logging.String(logging.FieldImpact, "segment stays out of sync"),
		)
		logging.WarnWithContext(o.logger, "regeneration failed", "regeneration_failed", attrs...)
	default:
		o.logger.Info("regeneration completed", logging.Args(attrs...)...)
	}

	for _, fn := range listeners {
		fn(outcome)
	}
}

// InFlight returns the ids of segments with a request outstanding.
func (o *Orchestrator) InFlight() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.inflight))
	for id := range o.inflight {
		ids = append(ids, id)
	}
	return ids
}

// Stats summarizes orchestrator activity.
type Stats struct {
	InFlight   int
	Completed  int
	Failed     int
	LastFinish time.Time
}

// Stats returns activity counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{InFlight: len(o.inflight), Completed: o.completed, Failed: o.failed, LastFinish: o.lastFinish}
}

// Wait blocks until no request is in flight or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	if o.running == 0 {
		o.mu.Unlock()
		return nil
	}
	idle := o.idle
	o.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding requests and waits for their goroutines.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	_ = o.Wait(context.Background())
}
