package api

import (
	"context"
	"net/http"

	"study-mate/domain"
)

// Store abstracts persistence for handlers.
type Store interface {
	FetchBoard(ctx context.Context, userID string) (domain.Columns, error)
	CreateTask(ctx context.Context, userID string, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	MoveTask(ctx context.Context, userID, taskID string, to domain.Status, index int) (domain.Columns, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, s domain.Settings) (domain.Settings, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error)
	FetchStats(ctx context.Context, userID string) (domain.Stats, error)
	EnqueueSession(ctx context.Context, cmd domain.SessionCommand) error
}

// Authenticator resolves the calling user from the request credentials.
type Authenticator interface {
	UserIDFromRequest(r *http.Request) (string, error)
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// Publisher announces committed changes to stream subscribers.
type Publisher interface {
	Publish(ctx context.Context, u domain.Update) error
}

type errorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

type sessionAccepted struct {
	ID string `json:"id"`
}
