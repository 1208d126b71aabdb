package storage

import (
	"fmt"
	"math"

	"study-mate/domain"
)

const (
	edmInt64 = "Edm.Int64"
)

// entity represents base table entity keys.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
}

type taskEntity struct {
	entity
	Title         string `json:"Title"`
	Description   string `json:"Description,omitempty"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	Order         int    `json:"Order"`
	DueDate       int64  `json:"DueDate,string"`
	DueDateType   string `json:"DueDate@odata.type"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// taskPosition is the merge payload written by a move.
type taskPosition struct {
	entity
	Status        string `json:"Status"`
	Order         int    `json:"Order"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func newTaskEntity(userID string, t domain.Task) taskEntity {
	ent := taskEntity{
		entity:        entity{PartitionKey: userID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Order:         t.Order,
		DueDateType:   edmInt64,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt,
		UpdatedAtType: edmInt64,
	}
	if t.DueDate != nil {
		ent.DueDate = *t.DueDate
	}
	return ent
}

func (e taskEntity) toTask() domain.Task {
	t := domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		Order:       e.Order,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.DueDate > 0 {
		d := e.DueDate
		t.DueDate = &d
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	return t
}

type sessionEntity struct {
	entity
	SessionID     string `json:"SessionId"`
	Type          string `json:"Type"`
	Duration      int    `json:"Duration"`
	Completed     bool   `json:"Completed"`
	StartTime     int64  `json:"StartTime,string"`
	StartTimeType string `json:"StartTime@odata.type"`
	EndTime       int64  `json:"EndTime,string"`
	EndTimeType   string `json:"EndTime@odata.type"`
}

func newSessionEntity(userID string, s domain.Session) sessionEntity {
	return sessionEntity{
		entity:        entity{PartitionKey: userID, RowKey: SessionRowKey(s.EndTime, s.ID)},
		SessionID:     s.ID,
		Type:          string(s.Type),
		Duration:      s.Duration,
		Completed:     s.Completed,
		StartTime:     s.StartTime,
		StartTimeType: edmInt64,
		EndTime:       s.EndTime,
		EndTimeType:   edmInt64,
	}
}

func (e sessionEntity) toSession() domain.Session {
	return domain.Session{
		ID:        e.SessionID,
		Type:      domain.SessionType(e.Type),
		Duration:  e.Duration,
		Completed: e.Completed,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
	}
}

// SessionRowKey orders sessions newest first within a partition. Table
// storage sorts row keys lexically, so the end time is inverted and padded.
func SessionRowKey(endMs int64, id string) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-endMs, id)
}

type settingsEntity struct {
	entity
	StudyDuration int `json:"StudyDuration"`
	DailyGoal     int `json:"DailyGoal"`
}

func (e settingsEntity) toSettings() domain.Settings {
	return domain.Settings{StudyDuration: e.StudyDuration, DailyGoal: e.DailyGoal}.WithDefaults()
}
