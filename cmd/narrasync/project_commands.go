package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"narrasync/internal/api"
	"narrasync/internal/script"
	"narrasync/internal/segments"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, inspect, and remove projects",
	}
	cmd.AddCommand(newProjectCreateCommand(ctx))
	cmd.AddCommand(newProjectListCommand(ctx))
	cmd.AddCommand(newProjectShowCommand(ctx))
	cmd.AddCommand(newProjectRenameCommand(ctx))
	cmd.AddCommand(newProjectDeleteCommand(ctx))
	return cmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var scriptPath string

	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a project, optionally from a script breakdown",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = strings.TrimSpace(args[0])
			}
			var breakdown *script.Breakdown
			if path := strings.TrimSpace(scriptPath); path != "" {
				parsed, err := script.LoadFile(path)
				if err != nil {
					return err
				}
				breakdown = &parsed
			}
			if title == "" && breakdown == nil {
				return fmt.Errorf("a title or --script is required")
			}

			return ctx.withSession(cmd, true, func(s *session) error {
				engine, err := s.manager.Create(s.ctx, title, breakdown)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.FromEngine(engine))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s) with %d segments\n",
					engine.ID(), engine.Title(), len(engine.Segments()))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "Script breakdown file (.yaml, .json, or plain text)")
	return cmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, false, func(s *session) error {
				projects, err := s.manager.List(s.ctx)
				if err != nil {
					return err
				}
				summaries := api.FromProjects(projects)
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.ProjectListResponse{Projects: summaries})
				}
				out := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No projects")
					return nil
				}
				rows := make([][]string, 0, len(summaries))
				for _, p := range summaries {
					rows = append(rows, []string{
						p.ID,
						truncate(p.Title, maxTextColumn),
						strconv.Itoa(p.SegmentCount),
						p.SyncStatus,
						formatSeconds(p.DurationSeconds),
						p.UpdatedAt,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Title", "Segments", "Sync", "Duration", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project's segments and voice state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, false, func(s *session) error {
				engine, err := s.open(args[0])
				if err != nil {
					return err
				}
				doc := api.FromEngine(engine)
				if ctx.jsonOutput() {
					return writeJSON(cmd, doc)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s  (revision %d)\n\n", doc.ID, doc.Title, doc.Revision)
				rows := make([][]string, 0, len(doc.Segments))
				for _, seg := range doc.Segments {
					stale := ""
					if seg.Voice.Status == segments.VoiceReady && seg.NeedsVoice() {
						stale = " (stale)"
					}
					rows = append(rows, []string{
						strconv.Itoa(seg.Order),
						seg.ID,
						formatSeconds(seg.StartTime),
						formatSeconds(seg.Duration),
						string(seg.Voice.Status) + stale,
						truncate(seg.Text, maxTextColumn),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Segment", "Start", "Duration", "Voice", "Text"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newProjectRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <project> <title>",
		Short: "Rename a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, true, func(s *session) error {
				if err := s.manager.Rename(s.ctx, strings.TrimSpace(args[0]), strings.TrimSpace(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed project %s\n", args[0])
				return nil
			})
		},
	}
}

func newProjectDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, true, func(s *session) error {
				if err := s.manager.Delete(s.ctx, strings.TrimSpace(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
				return nil
			})
		},
	}
}
