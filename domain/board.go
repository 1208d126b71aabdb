package domain

import (
	"math"
	"sort"
)

// Columns maps each status to its ordered task sequence.
type Columns map[Status][]Task

// Totals summarises a board.
type Totals struct {
	All  int `json:"all"`
	Done int `json:"done"`
}

// BoardPayload is the board query result and the board subscription message.
type BoardPayload struct {
	Columns Columns `json:"columns"`
	Totals  Totals  `json:"totals"`
}

// NewBoardPayload builds a payload with computed totals.
func NewBoardPayload(c Columns) BoardPayload {
	c = c.Clone()
	return BoardPayload{Columns: c, Totals: c.Totals()}
}

// NewColumns returns a board with every column present and empty.
func NewColumns() Columns {
	c := make(Columns, len(Statuses))
	for _, s := range Statuses {
		c[s] = []Task{}
	}
	return c
}

// Clone deep copies the board. Unknown keys are dropped and missing keys are
// added so the result always has exactly the known columns.
func (c Columns) Clone() Columns {
	out := make(Columns, len(Statuses))
	for _, s := range Statuses {
		src := c[s]
		dst := make([]Task, len(src))
		for i, t := range src {
			dst[i] = cloneTask(t)
		}
		out[s] = dst
	}
	return out
}

func cloneTask(t Task) Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

// Equal reports whether both boards hold the same tasks in the same order.
func (c Columns) Equal(o Columns) bool {
	for _, s := range Statuses {
		a, b := c[s], o[s]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !tasksEqual(a[i], b[i]) {
				return false
			}
		}
	}
	return true
}

func tasksEqual(a, b Task) bool {
	if (a.DueDate == nil) != (b.DueDate == nil) {
		return false
	}
	if a.DueDate != nil && *a.DueDate != *b.DueDate {
		return false
	}
	a.DueDate, b.DueDate = nil, nil
	return a == b
}

// Locate finds the column and index holding the task.
func (c Columns) Locate(id string) (Status, int, bool) {
	for _, s := range Statuses {
		for i, t := range c[s] {
			if t.ID == id {
				return s, i, true
			}
		}
	}
	return "", -1, false
}

// Find returns the task with the given id.
func (c Columns) Find(id string) (Task, bool) {
	s, i, ok := c.Locate(id)
	if !ok {
		return Task{}, false
	}
	return c[s][i], true
}

// Totals counts all tasks and the ones in the done column.
func (c Columns) Totals() Totals {
	var t Totals
	for _, s := range Statuses {
		t.All += len(c[s])
	}
	t.Done = len(c[StatusDone])
	return t
}

// EndOfColumn is an index that Move always clamps to the column length.
const EndOfColumn = math.MaxInt32

// Move removes the task from its column and inserts it into the target
// column at index. The index is clamped to [0, len]. The receiver is left
// untouched.
func (c Columns) Move(id string, to Status, index int) (Columns, error) {
	if !to.Valid() {
		return nil, ErrInvalidStatus
	}
	from, pos, ok := c.Locate(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	next := c.Clone()
	task := next[from][pos]
	next[from] = append(next[from][:pos], next[from][pos+1:]...)

	task.Status = to
	dst := next[to]
	if index < 0 {
		index = 0
	}
	if index > len(dst) {
		index = len(dst)
	}
	dst = append(dst, Task{})
	copy(dst[index+1:], dst[index:])
	dst[index] = task
	next[to] = dst
	return next, nil
}

// Renumber sets every task's order to its index and status to its column.
// It returns the tasks whose order or status changed.
func (c Columns) Renumber() []Task {
	var changed []Task
	for _, s := range Statuses {
		col := c[s]
		for i := range col {
			if col[i].Order == i && col[i].Status == s {
				continue
			}
			col[i].Order = i
			col[i].Status = s
			changed = append(changed, col[i])
		}
	}
	return changed
}

// GroupTasks builds a board from a flat task list, ordering each column by
// order, then creation time, then id. Tasks with an unknown status land in
// the backlog.
func GroupTasks(tasks []Task) Columns {
	c := NewColumns()
	for _, t := range tasks {
		s := t.Status
		if !s.Valid() {
			s = StatusBacklog
			t.Status = s
		}
		c[s] = append(c[s], cloneTask(t))
	}
	for _, s := range Statuses {
		col := c[s]
		sort.SliceStable(col, func(i, j int) bool {
			if col[i].Order != col[j].Order {
				return col[i].Order < col[j].Order
			}
			if col[i].CreatedAt != col[j].CreatedAt {
				return col[i].CreatedAt < col[j].CreatedAt
			}
			return col[i].ID < col[j].ID
		})
	}
	return c
}
