package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

// maxBatchSize is the entity group transaction limit of Table Storage.
const maxBatchSize = 100

func newID() string { return uuid.NewString() }

// CreateTask appends a new task to the end of its column.
func (s *Storage) CreateTask(ctx context.Context, userID string, in domain.TaskInput) (domain.Task, error) {
	board, err := s.FetchBoard(ctx, userID)
	if err != nil {
		return domain.Task{}, err
	}
	now := s.now().UnixMilli()
	t := domain.Task{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Order:       len(board[in.Status]),
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(newTaskEntity(userID, t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask applies a patch to the stored task. The write is conditional on
// the entity not having changed since it was read.
func (s *Storage) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	t := patch.Apply(ent.toTask())
	t.UpdatedAt = s.now().UnixMilli()

	payload, err := json.Marshal(newTaskEntity(userID, t))
	if err != nil {
		return domain.Task{}, err
	}
	etag := resp.ETag
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		if isPreconditionFailed(err) {
			return domain.Task{}, domain.ErrConcurrencyConflict
		}
		if isNotFound(err) {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task. Remaining tasks keep their order values; gaps
// are harmless because columns are sorted by order.
func (s *Storage) DeleteTask(ctx context.Context, userID, taskID string) error {
	et := azcore.ETagAny
	if _, err := s.taskTable.DeleteEntity(ctx, userID, taskID, &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil {
		if isNotFound(err) {
			return domain.ErrTaskNotFound
		}
		return err
	}
	return nil
}

// MoveTask moves a task to index in the target column and renumbers the
// affected columns in one entity group transaction. Every written entity is
// conditional on its ETag; when another writer got there first the move is
// recomputed from a fresh read, up to maxAttempts times.
func (s *Storage) MoveTask(ctx context.Context, userID, taskID string, to domain.Status, index int) (domain.Columns, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		board, err := s.tryMove(ctx, userID, taskID, to, index)
		if err == nil {
			return board, nil
		}
		if !isPreconditionFailed(err) {
			return nil, err
		}
		lastErr = err
		log.WithFields(log.Fields{"user": userID, "task": taskID, "attempt": attempt}).Debug("move conflicted, retrying")
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, lastErr)
}

func (s *Storage) tryMove(ctx context.Context, userID, taskID string, to domain.Status, index int) (domain.Columns, error) {
	ents, err := listPartition[taskEntity](ctx, s.taskTable, userID, nil, 0)
	if err != nil {
		return nil, err
	}
	etags := make(map[string]azcore.ETag, len(ents))
	tasks := make([]domain.Task, len(ents))
	for i, e := range ents {
		etags[e.RowKey] = azcore.ETag(e.ETag)
		tasks[i] = e.toTask()
	}

	next, err := domain.GroupTasks(tasks).Move(taskID, to, index)
	if err != nil {
		return nil, err
	}
	changed := next.Renumber()
	moved, _ := next.Find(taskID)
	if !containsTask(changed, taskID) {
		changed = append(changed, moved)
	}

	now := s.now().UnixMilli()
	actions := make([]aztables.TransactionAction, 0, len(changed))
	for _, t := range changed {
		payload, err := json.Marshal(taskPosition{
			entity:        entity{PartitionKey: userID, RowKey: t.ID},
			Status:        string(t.Status),
			Order:         t.Order,
			UpdatedAt:     now,
			UpdatedAtType: edmInt64,
		})
		if err != nil {
			return nil, err
		}
		etag := etags[t.ID]
		if etag == "" {
			etag = azcore.ETagAny
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeUpdateMerge,
			Entity:     payload,
			IfMatch:    &etag,
		})
	}

	// Columns larger than one batch lose atomicity across batches.
	for start := 0; start < len(actions); start += maxBatchSize {
		end := min(start+maxBatchSize, len(actions))
		if _, err := s.taskTable.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return nil, err
		}
	}
	for _, col := range next {
		for i := range col {
			if containsTask(changed, col[i].ID) {
				col[i].UpdatedAt = now
			}
		}
	}
	return next, nil
}

func containsTask(tasks []domain.Task, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}
