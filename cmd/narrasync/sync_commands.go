package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"narrasync/internal/api"
	"narrasync/internal/captions"
	"narrasync/internal/preflight"
	"narrasync/internal/regen"
	"narrasync/internal/segments"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [project]",
		Short: "Show environment checks, or one project's sync state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runProjectStatus(cmd, ctx, args[0])
			}
			return runEnvironmentStatus(cmd, ctx)
		},
	}
}

func runEnvironmentStatus(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withSession(cmd, false, func(s *session) error {
		counts, err := s.store.CountByStatus(s.ctx)
		if err != nil {
			return err
		}
		results := preflight.RunAll(s.ctx, s.cfg)
		if ctx.jsonOutput() {
			return writeJSON(cmd, api.DaemonStatus{
				ProjectDBPath: s.store.Path(),
				LockFilePath:  s.cfg.LockPath(),
				Projects:      counts,
				VoiceBaseURL:  s.cfg.Voice.BaseURL,
			})
		}

		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)
		for _, line := range renderSectionHeader("Environment", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, r := range results {
			kind := statusOK
			if !r.Passed {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Project database", statusInfo, s.store.Path(), colorize))

		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Projects", colorize) {
			fmt.Fprintln(out, line)
		}
		if len(counts) == 0 {
			fmt.Fprintln(out, renderStatusLine("Projects", statusInfo, "none", colorize))
			return nil
		}
		for _, status := range []string{"synced", "out_of_sync", "regenerating"} {
			if n, ok := counts[status]; ok {
				fmt.Fprintln(out, renderStatusLine(status, statusInfo, strconv.Itoa(n), colorize))
			}
		}
		return nil
	})
}

func runProjectStatus(cmd *cobra.Command, ctx *commandContext, projectID string) error {
	return ctx.withSession(cmd, false, func(s *session) error {
		engine, err := s.open(projectID)
		if err != nil {
			return err
		}
		status := api.FromEngineStatus(engine)
		if ctx.jsonOutput() {
			return writeJSON(cmd, status)
		}

		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)
		for _, line := range renderSectionHeader(engine.Title(), colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, renderStatusLine("Sync", syncKind(status.SyncStatus), string(status.SyncStatus), colorize))
		fmt.Fprintln(out, renderStatusLine("Segments", statusInfo, fmt.Sprintf(
			"%d total, %d ready, %d pending, %d failed, %d stale",
			status.Counts.Total, status.Counts.Ready, status.Counts.Pending, status.Counts.Failed, status.Counts.Stale,
		), colorize))
		fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatSeconds(status.DurationSeconds), colorize))
		driftKind, driftText := statusOK, "none"
		if status.Drift.NeedsResync {
			driftKind = statusWarn
			driftText = fmt.Sprintf("%d segments, max %s", len(status.Drift.Segments), formatMs(status.Drift.MaxDeltaMs))
		}
		fmt.Fprintln(out, renderStatusLine("Drift", driftKind, driftText, colorize))
		if len(status.SegmentsNeedingVoice) > 0 {
			fmt.Fprintln(out, renderStatusLine("Needs voice", statusWarn, strings.Join(status.SegmentsNeedingVoice, ", "), colorize))
		}
		if status.LastPersistError != "" {
			fmt.Fprintln(out, renderStatusLine("Persistence", statusError, status.LastPersistError, colorize))
		}
		return nil
	})
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "regenerate <project> [segment...]",
		Short: "Generate narration for segments that need voice",
		Long: "Generate narration for the named segments, or for every segment whose voice is\n" +
			"missing, failed, or stale. The command waits for all requests to finish.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				result, err := engine.Regenerate(s.ctx, args[1:]...)
				if err != nil {
					return err
				}

				waitCtx := s.ctx
				if timeout > 0 {
					var cancel context.CancelFunc
					waitCtx, cancel = context.WithTimeout(s.ctx, timeout)
					defer cancel()
				}
				outcomes, waitErr := result.Wait(waitCtx)

				if ctx.jsonOutput() {
					if err := writeJSON(cmd, regenerateReport(result, outcomes)); err != nil {
						return err
					}
					return waitErr
				}
				out := cmd.OutOrStdout()
				if len(result.Handles) == 0 && len(result.Skipped) == 0 {
					fmt.Fprintln(out, "Nothing to regenerate")
					return waitErr
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Segment", "Result", "Took", "Detail"},
					outcomeRows(result, outcomes),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "Timeline is %s\n", engine.SyncStatus())
				if waitErr != nil {
					return fmt.Errorf("waiting for regeneration: %w", waitErr)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits indefinitely)")
	return cmd
}

type regenerateOutcome struct {
	SegmentID  string               `json:"segment_id"`
	Status     segments.VoiceStatus `json:"status"`
	Applied    bool                 `json:"applied"`
	DurationMs int64                `json:"duration_ms"`
	Error      string               `json:"error,omitempty"`
}

type regenerateReportJSON struct {
	api.RegenerateResponse
	Outcomes []regenerateOutcome `json:"outcomes"`
}

func regenerateReport(result regen.Result, outcomes []regen.Outcome) regenerateReportJSON {
	report := regenerateReportJSON{
		RegenerateResponse: api.FromRegenerate(result),
		Outcomes:           make([]regenerateOutcome, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		entry := regenerateOutcome{
			SegmentID:  o.SegmentID,
			Status:     o.Status,
			Applied:    o.Applied,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		report.Outcomes = append(report.Outcomes, entry)
	}
	return report
}

func outcomeRows(result regen.Result, outcomes []regen.Outcome) [][]string {
	rows := make([][]string, 0, len(outcomes)+len(result.Skipped))
	done := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		done[o.SegmentID] = struct{}{}
		state := string(o.Status)
		if !o.Applied {
			state = "superseded"
		}
		detail := ""
		if o.Err != nil {
			detail = truncate(o.Err.Error(), maxTextColumn)
		}
		rows = append(rows, []string{o.SegmentID, state, o.Duration.Round(time.Millisecond).String(), detail})
	}
	for _, h := range result.Handles {
		if _, ok := done[h.SegmentID]; !ok {
			rows = append(rows, []string{h.SegmentID, "waiting", "", "still in flight"})
		}
	}
	for _, skipped := range result.Skipped {
		rows = append(rows, []string{skipped.SegmentID, "skipped", "", truncate(skipped.Err.Error(), maxTextColumn)})
	}
	return rows
}

func newResyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <project>",
		Short: "Recompute start times from segment durations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				report, err := engine.Resync(s.ctx)
				if err != nil {
					return err
				}
				drift := api.FromDrift(report)
				if ctx.jsonOutput() {
					return writeJSON(cmd, drift)
				}
				out := cmd.OutOrStdout()
				if !drift.NeedsResync {
					fmt.Fprintln(out, "Timeline already in sync")
					return nil
				}
				rows := make([][]string, 0, len(drift.Segments))
				for _, d := range drift.Segments {
					rows = append(rows, []string{d.SegmentID, formatMs(d.ActualMs), formatMs(d.ExpectedMs), formatMs(d.DeltaMs)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Segment", "Was", "Now", "Delta"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var srtPath string

	cmd := &cobra.Command{
		Use:   "captions <project>",
		Short: "Print caption chunks for every segment, or export them as SubRip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, false, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				if path := strings.TrimSpace(srtPath); path != "" {
					return exportSRT(cmd, engine.SubtitleCues(), path)
				}
				projection := engine.Captions()
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.CaptionsResponse{ProjectID: engine.ID(), Captions: projection})
				}
				rows := make([][]string, 0)
				for _, entry := range projection {
					for _, chunk := range entry.CaptionChunks {
						source := "voice"
						if chunk.Estimated {
							source = "estimate"
						}
						rows = append(rows, []string{
							entry.SegmentID,
							formatMs(chunk.StartMs),
							formatMs(chunk.EndMs),
							source,
							truncate(chunk.Text, maxTextColumn),
						})
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Segment", "Start", "End", "Timing", "Text"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&srtPath, "srt", "", "Write captions to this .srt file (- for stdout)")
	return cmd
}

func exportSRT(cmd *cobra.Command, cues []captions.Cue, path string) error {
	if path == "-" {
		return captions.WriteSRT(cmd.OutOrStdout(), cues)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create srt: %w", err)
	}
	if err := captions.WriteSRT(file, cues); err != nil {
		file.Close()
		return fmt.Errorf("write srt: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close srt: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d cues to %s\n", len(cues), path)
	return nil
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var (
		atMs  int64
		frame int64
		fps   float64
	)

	cmd := &cobra.Command{
		Use:   "resolve <project>",
		Short: "Show the caption state at a point in the timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeSet := cmd.Flags().Changed("t")
			frameSet := cmd.Flags().Changed("frame")
			if timeSet == frameSet {
				return fmt.Errorf("exactly one of --t or --frame is required")
			}
			return ctx.withSession(cmd, false, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				var resolved captions.Frame
				timeMs := atMs
				if frameSet {
					rate := fps
					if rate <= 0 {
						rate = float64(s.cfg.Captions.DefaultFPS)
					}
					ms, ok := captions.FrameTimeMs(frame, rate)
					if !ok {
						return fmt.Errorf("--frame must be non-negative and fps positive")
					}
					timeMs = ms
					resolved = engine.ResolveFrame(frame, rate)
				} else {
					resolved = engine.Resolve(atMs)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.ResolveResponse{TimeMs: timeMs, Frame: resolved})
				}
				out := cmd.OutOrStdout()
				if !resolved.Active() {
					fmt.Fprintf(out, "No caption at %s\n", formatMs(timeMs))
					return nil
				}
				fmt.Fprintf(out, "%s at %s\n", resolved.SegmentID, formatMs(timeMs))
				if resolved.Plain {
					fmt.Fprintln(out, resolved.Text)
					return nil
				}
				rows := make([][]string, 0, len(resolved.Words))
				for _, w := range resolved.Words {
					rows = append(rows, []string{w.Text, formatMs(w.Start), formatMs(w.End), string(w.State)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Word", "Start", "End", "State"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&atMs, "t", 0, "Timeline position in milliseconds")
	cmd.Flags().Int64Var(&frame, "frame", 0, "Frame number")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Frames per second for --frame (defaults to captions.default_fps)")
	return cmd
}
