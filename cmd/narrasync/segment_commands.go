package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"narrasync/internal/segments"
)

func newSegmentCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Edit the segments of a project",
	}
	cmd.AddCommand(newSegmentInsertCommand(ctx))
	cmd.AddCommand(newSegmentEditCommand(ctx))
	cmd.AddCommand(newSegmentMoveCommand(ctx))
	cmd.AddCommand(newSegmentDeleteCommand(ctx))
	cmd.AddCommand(newSegmentDurationCommand(ctx))
	return cmd
}

func newSegmentInsertCommand(ctx *commandContext) *cobra.Command {
	var at int

	cmd := &cobra.Command{
		Use:   "insert <project> <text>",
		Short: "Insert a new segment (appends unless --at is given)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				seg, err := engine.Insert(s.ctx, at, args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, seg)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Inserted segment %s at position %d\n", seg.ID, seg.Order)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&at, "at", -1, "Zero-based position for the new segment")
	return cmd
}

func newSegmentEditCommand(ctx *commandContext) *cobra.Command {
	var (
		styleActive   string
		styleAppeared string
		styleDefault  string
		styleFont     string
		clearStyle    bool
	)

	cmd := &cobra.Command{
		Use:   "edit <project> <segment> [text]",
		Short: "Change a segment's text or caption style",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			style := &segments.CaptionStyle{
				ActiveColor:   strings.TrimSpace(styleActive),
				AppearedColor: strings.TrimSpace(styleAppeared),
				DefaultColor:  strings.TrimSpace(styleDefault),
				Font:          strings.TrimSpace(styleFont),
			}
			hasStyle := !style.IsZero()
			if len(args) < 3 && !hasStyle && !clearStyle {
				return fmt.Errorf("nothing to change: pass new text or a style flag")
			}
			if hasStyle && clearStyle {
				return fmt.Errorf("--clear-style cannot be combined with style flags")
			}

			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				segmentID := strings.TrimSpace(args[1])
				out := cmd.OutOrStdout()
				if len(args) == 3 {
					changed, err := engine.EditText(s.ctx, segmentID, args[2])
					if err != nil {
						return err
					}
					if !ctx.jsonOutput() {
						if changed {
							fmt.Fprintf(out, "Updated text of %s; voice is now out of sync\n", segmentID)
						} else {
							fmt.Fprintf(out, "Text of %s unchanged\n", segmentID)
						}
					}
				}
				switch {
				case clearStyle:
					err = engine.SetCaptionStyle(s.ctx, segmentID, nil)
				case hasStyle:
					err = engine.SetCaptionStyle(s.ctx, segmentID, style)
				}
				if err != nil {
					return err
				}
				seg, _ := engine.Segment(segmentID)
				if ctx.jsonOutput() {
					return writeJSON(cmd, seg)
				}
				if hasStyle || clearStyle {
					fmt.Fprintf(out, "Updated caption style of %s\n", segmentID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&styleActive, "active-color", "", "Color of the word being spoken")
	cmd.Flags().StringVar(&styleAppeared, "appeared-color", "", "Color of words already spoken")
	cmd.Flags().StringVar(&styleDefault, "default-color", "", "Color of upcoming words")
	cmd.Flags().StringVar(&styleFont, "font", "", "Caption font")
	cmd.Flags().BoolVar(&clearStyle, "clear-style", false, "Remove the segment's caption style")
	return cmd
}

func newSegmentMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <project> <segment> <position>",
		Short: "Move a segment to a new zero-based position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(strings.TrimSpace(args[2]))
			if err != nil {
				return fmt.Errorf("invalid position %q", args[2])
			}
			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				if err := engine.Move(s.ctx, strings.TrimSpace(args[1]), position); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to position %d\n", args[1], position)
				return nil
			})
		},
	}
}

func newSegmentDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <segment>",
		Short: "Delete a segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				if err := engine.Delete(s.ctx, strings.TrimSpace(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted segment %s\n", args[1])
				return nil
			})
		},
	}
}

func newSegmentDurationCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "duration <project> <segment> <seconds>",
		Short: "Correct a segment's duration without rippling later segments",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(strings.TrimSpace(args[2]), 64)
			if err != nil {
				return fmt.Errorf("invalid duration %q", args[2])
			}
			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				if err := engine.CorrectDuration(s.ctx, strings.TrimSpace(args[1]), seconds); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Set duration of %s to %s\n", args[1], formatSeconds(seconds))
				if drift := engine.Drift(); drift.NeedsResync() {
					fmt.Fprintf(out, "%d segments drifted; run `narrasync resync %s`\n", len(drift.Drifted), engine.ID())
				}
				return nil
			})
		},
	}
}
