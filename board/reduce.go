// Package board keeps a local, immediately responsive copy of the remote task
// board. Remote snapshots replace it wholesale; drag-and-drop moves are applied
// speculatively and rolled back when the remote store rejects them.
package board

import "study-mate/domain"

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// SnapshotEvent replaces the board with a payload delivered by the remote
// subscription.
type SnapshotEvent struct {
	Columns domain.Columns
}

// MoveEvent moves a task to a column position.
type MoveEvent struct {
	TaskID string
	To     domain.Status
	Index  int
}

// RestoreEvent puts back a previously retained board.
type RestoreEvent struct {
	Columns domain.Columns
}

func (SnapshotEvent) isEvent() {}
func (MoveEvent) isEvent()     {}
func (RestoreEvent) isEvent()  {}

// Reduce returns the board that results from applying ev to current. It never
// modifies current. A move that cannot be applied (unknown task or column)
// yields an unchanged copy.
func Reduce(current domain.Columns, ev Event) domain.Columns {
	switch e := ev.(type) {
	case SnapshotEvent:
		return e.Columns.Clone()
	case RestoreEvent:
		return e.Columns.Clone()
	case MoveEvent:
		next, err := current.Move(e.TaskID, e.To, e.Index)
		if err != nil {
			return current.Clone()
		}
		return next
	}
	return current.Clone()
}
