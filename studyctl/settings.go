package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"study-mate/domain"
	"study-mate/validation"
)

func settingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change study settings",
	}

	get := &cobra.Command{
		Use:     "get",
		Short:   "Show the current settings",
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.client.GetSettings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), s)
			return nil
		},
	}

	var study, goal time.Duration
	set := &cobra.Command{
		Use:     "set",
		Short:   "Change the study duration or daily goal",
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.client.GetSettings(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("study") {
				s.StudyDuration = int(study / time.Second)
			}
			if cmd.Flags().Changed("goal") {
				s.DailyGoal = int(goal / time.Second)
			}
			if err := validation.Struct(s); err != nil {
				return fmt.Errorf("invalid settings: %s", validation.Message(err))
			}
			saved, err := a.client.UpdateSettings(cmd.Context(), s)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), saved)
			return nil
		},
	}
	set.Flags().DurationVar(&study, "study", 0, "session length, e.g. 25m")
	set.Flags().DurationVar(&goal, "goal", 0, "daily goal, e.g. 2h")

	cmd.AddCommand(get, set)
	return cmd
}

func statsCmd(a *app) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show study statistics and recent sessions",
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.client.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), st)
			if recent <= 0 {
				return nil
			}
			sessions, err := a.client.ListSessions(cmd.Context(), recent)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.Flags().IntVarP(&recent, "recent", "n", 5, "number of recent sessions to list")
	return cmd
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Short:   "Follow the board and stats live until interrupted",
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			updates := make(chan func(), 16)
			push := func(render func()) {
				select {
				case updates <- render:
				case <-ctx.Done():
				}
			}
			cancelBoard, err := a.client.SubscribeBoard(ctx, func(p domain.BoardPayload) {
				push(func() { printBoard(out, p) })
			})
			if err != nil {
				return err
			}
			defer cancelBoard()
			cancelStats, err := a.client.SubscribeStats(ctx, func(st domain.Stats) {
				push(func() { printStats(out, st) })
			})
			if err != nil {
				return err
			}
			defer cancelStats()

			for {
				select {
				case <-ctx.Done():
					return nil
				case render := <-updates:
					fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.TimeOnly))
					render()
				}
			}
		},
	}
}
