package board

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"study-mate/domain"
	"study-mate/notify"
)

// Remote is the mutation the mirror confirms speculative moves with.
type Remote interface {
	MoveTask(ctx context.Context, taskID string, to domain.Status, index int) error
}

// Source delivers full board payloads until the returned cancel is called.
type Source interface {
	SubscribeBoard(ctx context.Context, fn func(domain.BoardPayload)) (cancel func(), err error)
}

const (
	moveFailedTitle    = "Drag failed"
	moveFailedBody     = "We've restored the previous order."
	moveSupersededBody = "The board was refreshed before the move finished."
)

// MoveToken identifies one speculative move. Seq grows monotonically per
// mirror; Generation counts the remote snapshots applied before the move.
type MoveToken struct {
	Seq        uint64
	Generation uint64
	TaskID     string
	To         domain.Status
	Index      int
}

type logEntry struct {
	token     MoveToken
	confirmed bool
}

// Mirror is the local board. The confirmed base is the last remote snapshot;
// the visible board is the base with the logged moves replayed on top.
type Mirror struct {
	remote        Remote
	notifier      notify.Notifier
	logger        *log.Logger
	replayPending bool

	mu         sync.Mutex
	base       domain.Columns
	board      domain.Columns
	rollback   domain.Columns
	moves      []logEntry
	seq        uint64
	generation uint64
	watchers   map[uint64]func(domain.Columns)
	watcherSeq uint64
	version    uint64

	// fireMu serialises watcher calls; fired is the newest version delivered.
	fireMu sync.Mutex
	fired  uint64
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithNotifier sets where move failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Mirror) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Mirror) { m.logger = l }
}

// WithReplayPending keeps unresolved moves across a newer remote snapshot and
// replays them on top of it. By default a snapshot discards them.
func WithReplayPending() Option {
	return func(m *Mirror) { m.replayPending = true }
}

// NewMirror creates an empty board confirmed through remote.
func NewMirror(remote Remote, opts ...Option) *Mirror {
	if remote == nil {
		panic("board.NewMirror: remote is nil")
	}
	m := &Mirror{
		remote:   remote,
		notifier: notify.Discard,
		logger:   log.StandardLogger(),
		base:     domain.NewColumns(),
		board:    domain.NewColumns(),
		rollback: domain.NewColumns(),
		watchers: make(map[uint64]func(domain.Columns)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApplyRemoteSnapshot replaces the local board with columns and makes it the
// rollback point for the next move.
func (m *Mirror) ApplyRemoteSnapshot(columns domain.Columns) {
	m.mu.Lock()
	m.generation++
	m.base = Reduce(m.base, SnapshotEvent{Columns: columns})
	if m.replayPending {
		kept := m.moves[:0]
		for _, e := range m.moves {
			if !e.confirmed {
				kept = append(kept, e)
			}
		}
		m.moves = kept
	} else {
		m.moves = nil
	}
	m.board = m.replayLocked()
	m.rollback = m.board.Clone()
	fire := m.changedLocked()
	m.mu.Unlock()

	fire()
}

// BeginMove applies the move locally and returns the token to commit it with.
// The target index is clamped to the column bounds.
func (m *Mirror) BeginMove(taskID string, to domain.Status, index int) (MoveToken, error) {
	m.mu.Lock()
	next, err := m.board.Move(taskID, to, index)
	if err != nil {
		m.mu.Unlock()
		return MoveToken{}, err
	}
	m.seq++
	tok := MoveToken{Seq: m.seq, Generation: m.generation, TaskID: taskID, To: to, Index: index}
	m.rollback = m.board
	m.board = next
	m.moves = append(m.moves, logEntry{token: tok})
	fire := m.changedLocked()
	m.mu.Unlock()

	fire()
	return tok, nil
}

// CommitMove confirms a move with the remote store. On failure the move is
// undone, the user is notified and the remote error is returned. A move that
// was superseded by a newer snapshot is not undone.
func (m *Mirror) CommitMove(ctx context.Context, tok MoveToken) error {
	err := m.remote.MoveTask(ctx, tok.TaskID, tok.To, tok.Index)

	m.mu.Lock()
	idx := m.indexLocked(tok.Seq)
	if err == nil {
		if idx >= 0 {
			m.moves[idx].confirmed = true
		}
		m.mu.Unlock()
		return nil
	}

	fire := func() {}
	if idx >= 0 {
		m.moves = append(m.moves[:idx], m.moves[idx+1:]...)
		m.board = m.replayLocked()
		m.rollback = m.board.Clone()
		fire = m.changedLocked()
	}
	m.mu.Unlock()

	fire()
	m.logger.WithError(err).WithFields(log.Fields{
		"task":        tok.TaskID,
		"to":          tok.To,
		"index":       tok.Index,
		"seq":         tok.Seq,
		"rolled_back": idx >= 0,
	}).Warn("board move rejected")
	body := moveFailedBody
	if idx < 0 {
		body = moveSupersededBody
	}
	notify.Send(m.notifier, notify.Error, moveFailedTitle, body)
	return fmt.Errorf("move task %s: %w", tok.TaskID, err)
}

// Move is BeginMove followed by CommitMove.
func (m *Mirror) Move(ctx context.Context, taskID string, to domain.Status, index int) error {
	tok, err := m.BeginMove(taskID, to, index)
	if err != nil {
		return err
	}
	return m.CommitMove(ctx, tok)
}

// Board returns a copy of the visible board.
func (m *Mirror) Board() domain.Columns {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.board.Clone()
}

// Payload returns the visible board with totals.
func (m *Mirror) Payload() domain.BoardPayload {
	return domain.NewBoardPayload(m.Board())
}

// RollbackPoint returns the board as it was before the most recent move, or
// the last remote snapshot when no move happened since.
func (m *Mirror) RollbackPoint() domain.Columns {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollback.Clone()
}

// Pending returns the moves still waiting for a remote answer, oldest first.
func (m *Mirror) Pending() []MoveToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MoveToken
	for _, e := range m.moves {
		if !e.confirmed {
			out = append(out, e.token)
		}
	}
	return out
}

// Watch registers fn to be called with a copy of the board after every change.
// Calls are serialised and never go back to an older board, so fn sees the
// current board last. fn must not change the mirror itself.
func (m *Mirror) Watch(fn func(domain.Columns)) (cancel func()) {
	m.mu.Lock()
	m.watcherSeq++
	id := m.watcherSeq
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Follow subscribes the mirror to src. Every delivery replaces the board.
func (m *Mirror) Follow(ctx context.Context, src Source) (cancel func(), err error) {
	return src.SubscribeBoard(ctx, func(p domain.BoardPayload) {
		m.ApplyRemoteSnapshot(p.Columns)
	})
}

func (m *Mirror) replayLocked() domain.Columns {
	b := m.base.Clone()
	for _, e := range m.moves {
		b = Reduce(b, MoveEvent{TaskID: e.token.TaskID, To: e.token.To, Index: e.token.Index})
	}
	return b
}

func (m *Mirror) indexLocked(seq uint64) int {
	for i, e := range m.moves {
		if e.token.Seq == seq {
			return i
		}
	}
	return -1
}

// changedLocked captures the watchers and board so they can be notified after
// the lock is released. A capture overtaken by a newer one is dropped.
func (m *Mirror) changedLocked() func() {
	m.version++
	if len(m.watchers) == 0 {
		return func() {}
	}
	version := m.version
	fns := make([]func(domain.Columns), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	snapshot := m.board.Clone()
	return func() {
		m.fireMu.Lock()
		defer m.fireMu.Unlock()
		if version <= m.fired {
			return
		}
		m.fired = version
		for _, fn := range fns {
			fn(snapshot.Clone())
		}
	}
}
