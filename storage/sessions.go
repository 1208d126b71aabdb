package storage

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"study-mate/domain"
)

// EnqueueSession sends the command to the session queue.
func (s *Storage) EnqueueSession(ctx context.Context, cmd domain.SessionCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = s.sessionQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Dequeue retrieves a single message from the session queue. It returns nil
// when the queue is empty.
func (s *Storage) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.sessionQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// Delete removes a processed message from the queue.
func (s *Storage) Delete(ctx context.Context, id, receipt string) error {
	_, err := s.sessionQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// InsertSession stores a session. Inserting the same session twice is not an
// error, so redelivered queue messages are harmless.
func (s *Storage) InsertSession(ctx context.Context, userID string, session domain.Session) error {
	payload, err := json.Marshal(newSessionEntity(userID, session))
	if err != nil {
		return err
	}
	if _, err := s.sessionTable.AddEntity(ctx, payload, nil); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first. A limit of zero
// returns all of them.
func (s *Storage) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	var top *int32
	if limit > 0 {
		t := int32(limit)
		top = &t
	}
	ents, err := listPartition[sessionEntity](ctx, s.sessionTable, userID, top, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Session, len(ents))
	for i, e := range ents {
		out[i] = e.toSession()
	}
	return out, nil
}

// FetchStats aggregates all stored sessions with the user's daily goal.
func (s *Storage) FetchStats(ctx context.Context, userID string) (domain.Stats, error) {
	sessions, err := s.ListSessions(ctx, userID, 0)
	if err != nil {
		return domain.Stats{}, err
	}
	settings, err := s.FetchSettings(ctx, userID)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.ComputeStats(sessions, settings, s.now()), nil
}
