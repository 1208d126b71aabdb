package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"study-mate/board"
	"study-mate/domain"
)

func boardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "board",
		Short:   "Print the board",
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.client.GetBoard(cmd.Context())
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), p)
			return nil
		},
	}

	var (
		to    string
		index int
	)
	move := &cobra.Command{
		Use:     "move <task-id>",
		Short:   "Move a task to a column and position",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.Status(strings.ToLower(to))
			if !status.Valid() {
				return fmt.Errorf("unknown column %q", to)
			}
			p, err := moveTask(cmd, a, args[0], status, index)
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), p)
			return nil
		},
	}
	move.Flags().StringVar(&to, "to", string(domain.StatusInProgress), "target column (backlog, in_progress, done)")
	move.Flags().IntVar(&index, "index", domain.EndOfColumn, "position in the target column (default end)")
	cmd.AddCommand(move)
	return cmd
}

func taskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, edit and delete tasks",
	}

	var in domain.TaskInput
	var due string
	add := &cobra.Command{
		Use:     "add <title>",
		Short:   "Create a task",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = strings.Join(args, " ")
			if due != "" {
				ms, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = &ms
			}
			t, err := a.client.CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	add.Flags().StringVarP(&in.Description, "description", "d", "", "task description")
	add.Flags().StringVar((*string)(&in.Status), "status", "", "initial column")
	add.Flags().StringVarP((*string)(&in.Priority), "priority", "p", "", "low, medium or high")
	add.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")

	var (
		title, description, priority, editDue, editStatus string
		clearDue                                          bool
	)
	edit := &cobra.Command{
		Use:     "edit <task-id>",
		Short:   "Change fields of a task",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if flags.Changed("due") {
				ms, err := parseDue(editDue)
				if err != nil {
					return err
				}
				patch.DueDate = &ms
			}
			patch.ClearDueDate = clearDue
			var status domain.Status
			if flags.Changed("status") {
				status = domain.Status(strings.ToLower(editStatus))
				if !status.Valid() {
					return fmt.Errorf("unknown column %q", editStatus)
				}
			}
			if patch.Empty() && status == "" {
				return fmt.Errorf("nothing to change")
			}
			if !patch.Empty() {
				t, err := a.client.UpdateTask(cmd.Context(), args[0], patch)
				if err != nil {
					return err
				}
				printTask(cmd.OutOrStdout(), t)
			}
			if status == "" {
				return nil
			}
			// A status change lands at the top of the target column.
			p, err := moveTask(cmd, a, args[0], status, 0)
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), p)
			return nil
		},
	}
	edit.Flags().StringVar(&title, "title", "", "new title")
	edit.Flags().StringVarP(&description, "description", "d", "", "new description")
	edit.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	edit.Flags().StringVar(&editDue, "due", "", "due date (YYYY-MM-DD)")
	edit.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	edit.Flags().StringVar(&editStatus, "status", "", "move to the top of this column (backlog, in_progress, done)")

	rm := &cobra.Command{
		Use:     "rm <task-id>",
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.connect,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, edit, rm)
	return cmd
}

// moveTask applies the move through a mirror of the current board, so a
// rejected move is reported and rolled back the same way as in the UI.
func moveTask(cmd *cobra.Command, a *app, taskID string, to domain.Status, index int) (domain.BoardPayload, error) {
	p, err := a.client.GetBoard(cmd.Context())
	if err != nil {
		return domain.BoardPayload{}, err
	}
	m := board.NewMirror(a.client, board.WithLogger(a.logger), board.WithNotifier(a.notifier(cmd.ErrOrStderr())))
	m.ApplyRemoteSnapshot(p.Columns)
	if err := m.Move(cmd.Context(), taskID, to, index); err != nil {
		return domain.BoardPayload{}, err
	}
	return m.Payload(), nil
}

// parseDue converts a calendar date to epoch milliseconds at UTC midnight.
func parseDue(s string) (int64, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return 0, fmt.Errorf("invalid due date %q: want YYYY-MM-DD", s)
	}
	return t.UnixMilli(), nil
}
