package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"study-mate/domain"
	"study-mate/timer"
)

func timerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Run the study timer",
	}

	var (
		duration time.Duration
		kind     string
	)
	run := &cobra.Command{
		Use:     "run",
		Short:   "Count down a session; Ctrl-C pauses and records the time so far",
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seconds := int(duration / time.Second)
			if !cmd.Flags().Changed("duration") {
				s, err := a.client.GetSettings(cmd.Context())
				if err != nil {
					return err
				}
				seconds = s.WithDefaults().StudyDuration
			}
			t := timer.New(a.client,
				timer.WithDuration(seconds),
				timer.WithType(domain.SessionType(kind)),
				timer.WithNotifier(a.notifier(cmd.ErrOrStderr())),
				timer.WithLogger(a.logger),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			return runTimer(ctx, t, ticker.C, cmd.OutOrStdout())
		},
	}
	run.Flags().DurationVar(&duration, "duration", 0, "session length (default from settings)")
	run.Flags().StringVar(&kind, "type", string(domain.SessionStudy), "session type")
	cmd.AddCommand(run)
	return cmd
}

// runTimer runs t on ticks until the session completes, ticks is closed or
// ctx is done. Cancellation pauses the timer, which records an incomplete
// session.
func runTimer(ctx context.Context, t *timer.Timer, ticks <-chan time.Time, out io.Writer) error {
	completed := make(chan domain.SessionRecord, 1)
	t.OnComplete(func(rec domain.SessionRecord) {
		select {
		case completed <- rec:
		default:
		}
	})
	t.OnTick(func(st timer.Status) { printTimer(out, st) })
	t.Start()
	printTimer(out, t.Status())

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t.Run(runCtx, ticks)
	}()

	var rec *domain.SessionRecord
	select {
	case <-ctx.Done():
	case r := <-completed:
		rec = &r
	case <-stopped:
	}
	stop()
	<-stopped
	if rec == nil {
		select {
		case r := <-completed:
			rec = &r
		default:
		}
	}

	if rec != nil {
		fmt.Fprintf(out, "\n%s session complete (%s)\n", rec.Type.Label(), clock(rec.Duration))
		return nil
	}
	if ctx.Err() != nil {
		st := t.Status()
		// Records must survive the cancellation that stopped the run.
		t.Pause(context.WithoutCancel(ctx))
		fmt.Fprintf(out, "\npaused after %s\n", clock(st.Elapsed))
	}
	return nil
}
