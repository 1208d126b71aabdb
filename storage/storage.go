// Package storage persists tasks, sessions and settings in Azure Table
// Storage and carries session writes through an Azure queue. Redis backs the
// read cache and the updates channel.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"study-mate/config"
	"study-mate/domain"
)

// tableClient is the subset of *aztables.Client used here.
type tableClient interface {
	NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, opts *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, opts *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, opts *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, opts *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	taskTable     tableClient
	sessionTable  tableClient
	settingsTable tableClient
	sessionQueue  *azqueue.QueueClient

	now         func() time.Time
	newID       func() string
	maxAttempts int
}

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// New creates a Storage instance from the given configuration.
func New(cfg config.StorageConfig) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(cfg.ConnectionString, cfg.SessionQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s := newStorage(svc.NewClient(cfg.TasksTable), svc.NewClient(cfg.SessionsTable), svc.NewClient(cfg.SettingsTable))
	s.sessionQueue = q
	return s, nil
}

func newStorage(tasks, sessions, settings tableClient) *Storage {
	return &Storage{
		taskTable:     tasks,
		sessionTable:  sessions,
		settingsTable: settings,
		now:           time.Now,
		newID:         newID,
		maxAttempts:   3,
	}
}

func partitionFilter(userID string) *string {
	f := fmt.Sprintf("PartitionKey eq '%s'", escapeODataString(userID))
	return &f
}

func escapeODataString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func isNotFound(err error) bool { return statusCode(err) == http.StatusNotFound }

func isConflict(err error) bool { return statusCode(err) == http.StatusConflict }

func isPreconditionFailed(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode == http.StatusPreconditionFailed || respErr.ErrorCode == "UpdateConditionNotSatisfied"
}

// listPartition decodes every entity of the user's partition.
func listPartition[T any](ctx context.Context, table tableClient, userID string, top *int32, limit int) ([]T, error) {
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: partitionFilter(userID), Top: top})
	var out []T
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// FetchBoard returns the user's tasks grouped into columns.
func (s *Storage) FetchBoard(ctx context.Context, userID string) (domain.Columns, error) {
	ents, err := listPartition[taskEntity](ctx, s.taskTable, userID, nil, 0)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, len(ents))
	for i, e := range ents {
		tasks[i] = e.toTask()
	}
	return domain.GroupTasks(tasks), nil
}

// FetchSettings returns the stored settings or the defaults when none exist.
func (s *Storage) FetchSettings(ctx context.Context, userID string) (domain.Settings, error) {
	resp, err := s.settingsTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	var ent settingsEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Settings{}, err
	}
	return ent.toSettings(), nil
}

// SaveSettings creates or replaces the user's settings.
func (s *Storage) SaveSettings(ctx context.Context, userID string, settings domain.Settings) (domain.Settings, error) {
	ent := settingsEntity{
		entity:        entity{PartitionKey: userID, RowKey: userID},
		StudyDuration: settings.StudyDuration,
		DailyGoal:     settings.DailyGoal,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Settings{}, err
	}
	if _, err := s.settingsTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}
