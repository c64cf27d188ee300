package daemonrun

import (
	"context"
	"log/slog"
	"time"

	"narrasync/internal/logging"
	"narrasync/internal/notifications"
	"narrasync/internal/regen"
	"narrasync/internal/syncstate"
	"narrasync/internal/timeline"
)

// notifyOutcomes forwards applied regeneration results to svc: a failed
// segment, or the completion that brings a project back in sync.
func notifyOutcomes(ctx context.Context, svc notifications.Service, logger *slog.Logger) func(*timeline.Engine, regen.Outcome) {
	return func(engine *timeline.Engine, outcome regen.Outcome) {
		if !outcome.Applied || ctx.Err() != nil {
			return
		}
		var err error
		switch {
		case outcome.Err != nil:
			err = svc.NotifyRegenerationFailed(ctx, engine.Title(), outcome.SegmentID, outcome.Err)
		case engine.SyncStatus() == syncstate.StatusSynced:
			segs := engine.Segments()
			var total float64
			for _, seg := range segs {
				total += seg.Duration
			}
			err = svc.NotifyProjectSynced(ctx, engine.Title(), len(segs), time.Duration(total*float64(time.Second)))
		}
		if err != nil {
			logging.WarnWithContext(logger, "notification failed", "notification_failed",
				logging.String(logging.FieldProjectID, engine.ID()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}
}
