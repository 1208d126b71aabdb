// Package stream pushes board and stats snapshots to connected clients as
// server-sent events whenever an update is published for their user.
package stream

import (
	"sync"
	"sync/atomic"

	"study-mate/domain"
)

const (
	kindBoard uint32 = 1 << iota
	kindStats
)

// kindsFor maps an updated entity type to the payloads that must be resent.
// Settings carry the daily goal, so they affect stats.
func kindsFor(entityType string) uint32 {
	switch entityType {
	case domain.EntityBoard:
		return kindBoard
	case domain.EntitySessions, domain.EntitySettings:
		return kindStats
	default:
		return kindBoard | kindStats
	}
}

// subscription is one SSE connection. Wake-ups are coalesced: a slow client
// sees a single wake for any number of updates, and the pending bits say
// which payloads to refresh.
type subscription struct {
	userID  string
	wake    chan struct{}
	pending atomic.Uint32
}

// take returns and clears the pending payload kinds.
func (s *subscription) take() uint32 { return s.pending.Swap(0) }

// Broker tracks the live subscriptions of every user.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

func (b *Broker) subscribe(userID string) *subscription {
	s := &subscription{userID: userID, wake: make(chan struct{}, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[userID] = set
	}
	set[s] = struct{}{}
	return s
}

func (b *Broker) unsubscribe(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[s.userID]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.userID)
	}
}

// Notify marks the payloads affected by entityType as stale on every
// connection of the user. It never blocks.
func (b *Broker) Notify(userID, entityType string) {
	kinds := kindsFor(entityType)
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[userID] {
		s.pending.Or(kinds)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Connections returns the number of live subscriptions of the user.
func (b *Broker) Connections(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}
