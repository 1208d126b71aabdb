package main

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

// maxDequeueCount is how often a message may fail before it is dropped.
const maxDequeueCount = 5

var errMalformed = errors.New("malformed session command")

type sessionQueue interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

type sessionWriter interface {
	InsertSession(ctx context.Context, userID string, session domain.Session) error
}

type cacheEvicter interface {
	Evict(ctx context.Context, userID, entityType string)
}

type updatePublisher interface {
	Publish(ctx context.Context, u domain.Update) error
}

type processor struct {
	store sessionWriter
	cache cacheEvicter
	pub   updatePublisher
	log   *log.Logger
	now   func() time.Time
}

func decodeCommand(text string) (domain.SessionCommand, error) {
	var cmd domain.SessionCommand
	if err := sonic.UnmarshalString(text, &cmd); err != nil {
		return cmd, errMalformed
	}
	if cmd.ID == "" || cmd.UserID == "" {
		return cmd, errMalformed
	}
	return cmd, nil
}

// process records one command. A returned error other than errMalformed
// leaves the message on the queue for redelivery.
func (p *processor) process(ctx context.Context, text string) error {
	cmd, err := decodeCommand(text)
	if err != nil {
		return err
	}
	end := p.now()
	if cmd.Timestamp > 0 {
		end = time.Unix(0, cmd.Timestamp)
	}
	if cmd.Record.Type == "" {
		cmd.Record.Type = domain.SessionStudy
	}
	session := domain.NewSession(cmd.ID, cmd.Record, end)
	if err := p.store.InsertSession(ctx, cmd.UserID, session); err != nil {
		return err
	}
	if p.cache != nil {
		p.cache.Evict(ctx, cmd.UserID, domain.EntitySessions)
	}
	if p.pub != nil {
		u := domain.Update{UserID: cmd.UserID, EntityType: domain.EntitySessions, EntityID: cmd.ID, Timestamp: end.UnixNano()}
		if err := p.pub.Publish(ctx, u); err != nil {
			p.log.WithError(err).WithField("user", cmd.UserID).Error("unable to publish sessions update")
		}
	}
	p.log.WithFields(log.Fields{"user": cmd.UserID, "session": cmd.ID}).Debug("session recorded")
	return nil
}

// handle processes a dequeued message and deletes it unless it should be
// retried.
func (p *processor) handle(ctx context.Context, q sessionQueue, msg *azqueue.DequeuedMessage) {
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return
	}
	text := ""
	if msg.MessageText != nil {
		text = *msg.MessageText
	}
	entry := p.log.WithField("message", *msg.MessageID)
	err := p.process(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, errMalformed):
		entry.WithField("payload", text).Warn("dropping malformed session command")
	case msg.DequeueCount != nil && *msg.DequeueCount >= maxDequeueCount:
		entry.WithError(err).Error("dropping session command after repeated failures")
	default:
		entry.WithError(err).Warn("session command failed, will retry")
		return
	}
	if err := q.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
		entry.WithError(err).Error("unable to delete message")
	}
}

// run polls the queue until ctx is cancelled, backing off idle when the
// queue is empty or unreachable.
func (p *processor) run(ctx context.Context, q sessionQueue, idle time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := q.Dequeue(ctx)
		if err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("receive failed")
		}
		if err != nil || msg == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
			continue
		}
		p.handle(ctx, q, msg)
	}
}
