package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"study-mate/domain"
	"study-mate/timer"
)

var columnTitles = map[domain.Status]string{
	domain.StatusBacklog:    "Backlog",
	domain.StatusInProgress: "In Progress",
	domain.StatusDone:       "Done",
}

func printBoard(w io.Writer, p domain.BoardPayload) {
	for _, s := range domain.Statuses {
		tasks := p.Columns[s]
		fmt.Fprintf(w, "%s (%d)\n", columnTitles[s], len(tasks))
		for i, t := range tasks {
			line := fmt.Sprintf("  %d. %s  [%s]", i, t.Title, t.ID)
			if t.Priority != "" {
				line += " " + string(t.Priority)
			}
			if due, ok := t.Due(); ok {
				line += " due " + due.Format("2006-01-02")
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "%d/%d done\n", p.Totals.Done, p.Totals.All)
}

func printTask(w io.Writer, t domain.Task) {
	fmt.Fprintf(w, "%s  %s  (%s, %s)\n", t.ID, t.Title, t.Status, t.Priority)
}

func printSettings(w io.Writer, s domain.Settings) {
	fmt.Fprintf(w, "study duration: %s\n", formatSeconds(s.StudyDuration))
	fmt.Fprintf(w, "daily goal:     %s\n", formatSeconds(s.DailyGoal))
}

func printStats(w io.Writer, st domain.Stats) {
	fmt.Fprintf(w, "today:    %s of %s (%.0f%%)\n", formatSeconds(st.TodayStudyTime), formatSeconds(st.DailyGoal), st.GoalProgress)
	fmt.Fprintf(w, "total:    %s\n", formatSeconds(st.TotalStudyTime))
	fmt.Fprintf(w, "sessions: %d completed of %d\n", st.CompletedSessions, st.TotalSessions)
}

func printSessions(w io.Writer, sessions []domain.Session) {
	for _, s := range sessions {
		mark := " "
		if s.Completed {
			mark = "x"
		}
		end := time.UnixMilli(s.EndTime).UTC().Format(time.DateTime)
		fmt.Fprintf(w, "[%s] %s  %-10s %s\n", mark, end, s.Type.Label(), formatSeconds(s.Duration))
	}
}

func printTimer(w io.Writer, st timer.Status) {
	fmt.Fprintf(w, "\r%s %s remaining (%3.0f%%)", st.Type.Label(), clock(st.Remaining()), st.Progress())
}

// clock formats seconds as mm:ss.
func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// formatSeconds renders a duration as "1h 5m" or "25m".
func formatSeconds(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh ", h)
	}
	fmt.Fprintf(&b, "%dm", m)
	return b.String()
}
