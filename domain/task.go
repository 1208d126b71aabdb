package domain

import (
	"strings"
	"time"
)

// Status is the board column a task belongs to.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = [...]Status{StatusBacklog, StatusInProgress, StatusDone}

// Valid reports whether s names a known column.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single board item in the read model.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	Order       int      `json:"order"`
	DueDate     *int64   `json:"dueDate,omitempty"`
	CreatedAt   int64    `json:"createdAt,omitempty"`
	UpdatedAt   int64    `json:"updatedAt,omitempty"`
}

// Due returns the due date. Missing or malformed values are reported as absent.
func (t Task) Due() (time.Time, bool) {
	if t.DueDate == nil || *t.DueDate <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(*t.DueDate).UTC(), true
}

// TaskInput is the payload for creating a task.
type TaskInput struct {
	Title       string   `json:"title" validate:"required,notblank,max=200"`
	Description string   `json:"description,omitempty" validate:"max=4000"`
	Status      Status   `json:"status,omitempty" validate:"omitempty,oneof=backlog in_progress done"`
	Priority    Priority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	DueDate     *int64   `json:"dueDate,omitempty"`
}

// Normalize trims text fields and fills defaults.
func (in *TaskInput) Normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Status == "" {
		in.Status = StatusBacklog
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if in.DueDate != nil && *in.DueDate <= 0 {
		in.DueDate = nil
	}
}

// TaskPatch carries partial updates for a task. A nil field is left unchanged.
// ClearDueDate removes an existing due date.
type TaskPatch struct {
	Title        *string   `json:"title,omitempty" validate:"omitnil,notblank,max=200"`
	Description  *string   `json:"description,omitempty" validate:"omitempty,max=4000"`
	Priority     *Priority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	DueDate      *int64    `json:"dueDate,omitempty"`
	ClearDueDate bool      `json:"clearDueDate,omitempty"`
}

// Normalize trims text fields of the patch.
func (p *TaskPatch) Normalize() {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		p.Description = &d
	}
	if p.DueDate != nil && *p.DueDate <= 0 {
		p.DueDate = nil
		p.ClearDueDate = true
	}
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.DueDate == nil && !p.ClearDueDate
}

// Apply returns a copy of t with the patch applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	return t
}

// MoveRequest is the body of a move mutation.
type MoveRequest struct {
	ToStatus Status `json:"toStatus" validate:"required,oneof=backlog in_progress done"`
	ToIndex  int    `json:"toIndex"`
}
