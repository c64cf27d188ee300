package projectstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const projectColumns = "id, title, snapshot_json, revision, segment_count, sync_status, duration_seconds, created_at, updated_at"

// timestampLayout is fixed width so updated_at sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var (
		id           string
		title        string
		snapshot     sql.NullString
		revision     int64
		segmentCount int
		syncStatus   sql.NullString
		duration     sql.NullFloat64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&title,
		&snapshot,
		&revision,
		&segmentCount,
		&syncStatus,
		&duration,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	project := &Project{
		ID:       id,
		Title:    title,
		Snapshot: []byte(snapshot.String),
		Revision: revision,
		Summary: Summary{
			SegmentCount:    segmentCount,
			SyncStatus:      syncStatus.String,
			DurationSeconds: duration.Float64,
		},
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		project.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		project.UpdatedAt = updated
	}
	return project, nil
}

func timestampNow() string {
	return time.Now().UTC().Format(timestampLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}
