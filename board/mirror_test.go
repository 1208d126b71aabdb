package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"study-mate/domain"
	"study-mate/notify"
)

type fakeRemote struct {
	mu    sync.Mutex
	err   error
	calls []MoveEvent
	// gate, when set, blocks MoveTask until a value is received.
	gate chan error
}

func (f *fakeRemote) MoveTask(ctx context.Context, taskID string, to domain.Status, index int) error {
	f.mu.Lock()
	f.calls = append(f.calls, MoveEvent{TaskID: taskID, To: to, Index: index})
	gate, err := f.gate, f.err
	f.mu.Unlock()
	if gate != nil {
		return <-gate
	}
	return err
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func initialBoard() domain.Columns {
	c := domain.NewColumns()
	c[domain.StatusBacklog] = []domain.Task{
		{ID: "t1", Title: "Read chapter 3", Status: domain.StatusBacklog, Priority: domain.PriorityHigh},
		{ID: "t2", Title: "Flashcards", Status: domain.StatusBacklog},
		{ID: "t3", Title: "Essay outline", Status: domain.StatusBacklog},
	}
	c[domain.StatusInProgress] = []domain.Task{{ID: "t4", Title: "Lab report", Status: domain.StatusInProgress}}
	c[domain.StatusDone] = []domain.Task{{ID: "t5", Title: "Quiz", Status: domain.StatusDone}}
	return c
}

func column(c domain.Columns, s domain.Status) string {
	out := make([]string, len(c[s]))
	for i, t := range c[s] {
		out[i] = t.ID
	}
	return strings.Join(out, ",")
}

func newTestMirror(remote Remote, opts ...Option) (*Mirror, *notify.Queue) {
	q := notify.NewQueue(8)
	opts = append([]Option{WithNotifier(q), WithLogger(quietLogger())}, opts...)
	return NewMirror(remote, opts...), q
}

func TestApplyRemoteSnapshotIsIdempotent(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	b0 := initialBoard()

	m.ApplyRemoteSnapshot(b0)
	first := m.Board()
	m.ApplyRemoteSnapshot(b0)
	second := m.Board()

	if !first.Equal(second) || !first.Equal(b0) {
		t.Fatalf("expected identical boards, got %v and %v", first, second)
	}
	if !m.RollbackPoint().Equal(b0) {
		t.Fatalf("expected rollback point to follow snapshot")
	}
}

func TestApplyRemoteSnapshotCopiesInput(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	b0 := initialBoard()
	m.ApplyRemoteSnapshot(b0)
	b0[domain.StatusBacklog][0].Title = "mutated by caller"

	if got := m.Board()[domain.StatusBacklog][0].Title; got != "Read chapter 3" {
		t.Fatalf("mirror shares memory with caller: %q", got)
	}
}

func TestFailedMoveRestoresPreviousBoard(t *testing.T) {
	remote := &fakeRemote{err: errors.New("network down")}
	m, q := newTestMirror(remote)
	b0 := initialBoard()
	m.ApplyRemoteSnapshot(b0)

	tok, err := m.BeginMove("t2", domain.StatusDone, 0)
	if err != nil {
		t.Fatalf("begin move: %v", err)
	}
	if got := column(m.Board(), domain.StatusDone); got != "t2,t5" {
		t.Fatalf("expected optimistic move to be visible, got %s", got)
	}

	if err := m.CommitMove(context.Background(), tok); err == nil {
		t.Fatal("expected commit error")
	}
	if !m.Board().Equal(b0) {
		t.Fatalf("expected board restored to B0, got %v", m.Board())
	}
	select {
	case n := <-q.C():
		if n.Level != notify.Error || n.Title != moveFailedTitle || n.Body != moveFailedBody {
			t.Fatalf("unexpected notice %+v", n)
		}
	default:
		t.Fatal("expected failure notice")
	}
	if len(m.Pending()) != 0 {
		t.Fatalf("expected no pending moves, got %v", m.Pending())
	}
}

func TestSuccessfulMoveKeepsOptimisticState(t *testing.T) {
	remote := &fakeRemote{}
	m, q := newTestMirror(remote)
	m.ApplyRemoteSnapshot(initialBoard())

	if err := m.Move(context.Background(), "t1", domain.StatusInProgress, 1); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := column(m.Board(), domain.StatusInProgress); got != "t4,t1" {
		t.Fatalf("unexpected column %s", got)
	}
	if len(remote.calls) != 1 || remote.calls[0] != (MoveEvent{TaskID: "t1", To: domain.StatusInProgress, Index: 1}) {
		t.Fatalf("unexpected remote calls %+v", remote.calls)
	}
	select {
	case n := <-q.C():
		t.Fatalf("unexpected notice %+v", n)
	default:
	}
}

func TestColumnInvariantAfterMoves(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	m.ApplyRemoteSnapshot(initialBoard())

	moves := []MoveEvent{
		{"t1", domain.StatusDone, 0},
		{"t4", domain.StatusBacklog, 99},
		{"t1", domain.StatusInProgress, -1},
		{"t5", domain.StatusInProgress, 0},
		{"t3", domain.StatusDone, 1},
	}
	last := map[string]domain.Status{}
	for _, mv := range moves {
		if _, err := m.BeginMove(mv.TaskID, mv.To, mv.Index); err != nil {
			t.Fatalf("begin move %+v: %v", mv, err)
		}
		last[mv.TaskID] = mv.To
	}

	b := m.Board()
	seen := map[string]domain.Status{}
	for _, s := range domain.Statuses {
		for _, task := range b[s] {
			if prev, dup := seen[task.ID]; dup {
				t.Fatalf("task %s in both %s and %s", task.ID, prev, s)
			}
			seen[task.ID] = s
			if task.Status != s {
				t.Fatalf("task %s has status %s in column %s", task.ID, task.Status, s)
			}
		}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(seen))
	}
	for id, want := range last {
		if seen[id] != want {
			t.Fatalf("task %s expected in %s, found in %s", id, want, seen[id])
		}
	}
}

func TestBeginMoveClampsIndex(t *testing.T) {
	for _, tc := range []struct {
		index int
		want  string
	}{
		{-5, "t4,t1,t2,t3"},
		{9999, "t1,t2,t3,t4"},
		{0, "t4,t1,t2,t3"},
	} {
		m, _ := newTestMirror(&fakeRemote{})
		m.ApplyRemoteSnapshot(initialBoard())
		if _, err := m.BeginMove("t4", domain.StatusBacklog, tc.index); err != nil {
			t.Fatalf("index %d: %v", tc.index, err)
		}
		if got := column(m.Board(), domain.StatusBacklog); got != tc.want {
			t.Fatalf("index %d: expected %s, got %s", tc.index, tc.want, got)
		}
	}
}

func TestBeginMoveRejectsUnknownTaskAndStatus(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	b0 := initialBoard()
	m.ApplyRemoteSnapshot(b0)

	if _, err := m.BeginMove("nope", domain.StatusDone, 0); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := m.BeginMove("t1", domain.Status("archive"), 0); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if !m.Board().Equal(b0) {
		t.Fatal("board changed after rejected move")
	}
}

func TestOverlappingMovesRollBackIndependently(t *testing.T) {
	remote := &fakeRemote{}
	m, _ := newTestMirror(remote)
	m.ApplyRemoteSnapshot(initialBoard())

	first, err := m.BeginMove("t1", domain.StatusDone, 0)
	if err != nil {
		t.Fatalf("begin first: %v", err)
	}
	second, err := m.BeginMove("t2", domain.StatusInProgress, 0)
	if err != nil {
		t.Fatalf("begin second: %v", err)
	}
	if first.Seq >= second.Seq {
		t.Fatalf("expected increasing sequence numbers, got %d and %d", first.Seq, second.Seq)
	}

	// The older move fails after the newer one was started.
	remote.err = errors.New("rejected")
	if err := m.CommitMove(context.Background(), first); err == nil {
		t.Fatal("expected first commit to fail")
	}
	b := m.Board()
	if got := column(b, domain.StatusBacklog); got != "t1,t3" {
		t.Fatalf("expected t1 back in backlog with t2 still moved, got %s", got)
	}
	if got := column(b, domain.StatusInProgress); got != "t2,t4" {
		t.Fatalf("expected second move kept, got %s", got)
	}

	remote.err = nil
	if err := m.CommitMove(context.Background(), second); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if got := column(m.Board(), domain.StatusInProgress); got != "t2,t4" {
		t.Fatalf("unexpected board after second commit %s", got)
	}
}

func TestNewerSnapshotWinsOverInFlightMove(t *testing.T) {
	remote := &fakeRemote{gate: make(chan error)}
	m, q := newTestMirror(remote)
	m.ApplyRemoteSnapshot(initialBoard())

	tok, err := m.BeginMove("t1", domain.StatusDone, 0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	done := make(chan error)
	go func() { done <- m.CommitMove(context.Background(), tok) }()

	fresh := initialBoard()
	fresh[domain.StatusBacklog] = fresh[domain.StatusBacklog][1:]
	m.ApplyRemoteSnapshot(fresh)
	if !m.Board().Equal(fresh) {
		t.Fatalf("expected fresh snapshot to win, got %v", m.Board())
	}

	remote.gate <- errors.New("late failure")
	if err := <-done; err == nil {
		t.Fatal("expected commit error")
	}
	if !m.Board().Equal(fresh) {
		t.Fatalf("stale failure must not roll back over a newer snapshot, got %v", m.Board())
	}
	if n := <-q.C(); n.Level != notify.Error || n.Body != moveSupersededBody {
		t.Fatalf("expected superseded notice, got %+v", n)
	}
}

func TestReplayPendingAcrossSnapshot(t *testing.T) {
	remote := &fakeRemote{gate: make(chan error, 1)}
	m, _ := newTestMirror(remote, WithReplayPending())
	m.ApplyRemoteSnapshot(initialBoard())

	tok, err := m.BeginMove("t2", domain.StatusDone, 0)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	m.ApplyRemoteSnapshot(initialBoard())
	if got := column(m.Board(), domain.StatusDone); got != "t2,t5" {
		t.Fatalf("expected pending move replayed, got %s", got)
	}
	if p := m.Pending(); len(p) != 1 || p[0].Seq != tok.Seq {
		t.Fatalf("unexpected pending moves %+v", p)
	}

	remote.gate <- errors.New("rejected")
	if err := m.CommitMove(context.Background(), tok); err == nil {
		t.Fatal("expected commit error")
	}
	if !m.Board().Equal(initialBoard()) {
		t.Fatalf("expected rollback to newer snapshot, got %v", m.Board())
	}
}

func TestWatchReceivesChanges(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	var mu sync.Mutex
	var seen []string
	cancel := m.Watch(func(c domain.Columns) {
		mu.Lock()
		seen = append(seen, column(c, domain.StatusDone))
		mu.Unlock()
	})

	m.ApplyRemoteSnapshot(initialBoard())
	if _, err := m.BeginMove("t3", domain.StatusDone, 99); err != nil {
		t.Fatalf("begin: %v", err)
	}
	cancel()
	m.ApplyRemoteSnapshot(initialBoard())

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "t5" || seen[1] != "t5,t3" {
		t.Fatalf("unexpected watch history %v", seen)
	}
}

type fakeSource struct {
	fn       func(domain.BoardPayload)
	canceled bool
}

func (f *fakeSource) SubscribeBoard(ctx context.Context, fn func(domain.BoardPayload)) (func(), error) {
	f.fn = fn
	return func() { f.canceled = true }, nil
}

func TestFollowAppliesDeliveries(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	src := &fakeSource{}
	cancel, err := m.Follow(context.Background(), src)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	src.fn(domain.NewBoardPayload(initialBoard()))
	if !m.Board().Equal(initialBoard()) {
		t.Fatalf("expected delivery applied, got %v", m.Board())
	}
	if tot := m.Payload().Totals; tot.All != 5 || tot.Done != 1 {
		t.Fatalf("unexpected totals %+v", tot)
	}
	cancel()
	if !src.canceled {
		t.Fatal("expected cancel to reach the source")
	}
}

func TestConcurrentSnapshotsAndMoves(t *testing.T) {
	m, _ := newTestMirror(&fakeRemote{})
	m.ApplyRemoteSnapshot(initialBoard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = m.Move(context.Background(), "t1", domain.Statuses[i%3], i)
		}(i)
		go func() {
			defer wg.Done()
			m.ApplyRemoteSnapshot(initialBoard())
		}()
	}
	wg.Wait()

	if tot := m.Board().Totals(); tot.All != 5 {
		t.Fatalf("expected 5 tasks after concurrent updates, got %d", tot.All)
	}
}

func TestWatchEndsOnCurrentBoard(t *testing.T) {
	for round := 0; round < 20; round++ {
		m, _ := newTestMirror(&fakeRemote{})
		var mu sync.Mutex
		var last domain.Columns
		m.Watch(func(c domain.Columns) {
			mu.Lock()
			last = c
			mu.Unlock()
		})
		m.ApplyRemoteSnapshot(initialBoard())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				_, _ = m.BeginMove("t2", domain.Statuses[i%3], i)
			}(i)
			go func(i int) {
				defer wg.Done()
				b := initialBoard()
				b[domain.StatusDone] = append(b[domain.StatusDone], domain.Task{ID: fmt.Sprintf("s%d", i), Status: domain.StatusDone})
				m.ApplyRemoteSnapshot(b)
			}(i)
		}
		wg.Wait()

		mu.Lock()
		got := last
		mu.Unlock()
		if !got.Equal(m.Board()) {
			t.Fatalf("round %d: last watcher board %v differs from current %v", round, got, m.Board())
		}
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	b := initialBoard()
	next := Reduce(b, MoveEvent{TaskID: "t1", To: domain.StatusDone, Index: 0})
	if column(b, domain.StatusBacklog) != "t1,t2,t3" {
		t.Fatal("input modified")
	}
	if column(next, domain.StatusDone) != "t1,t5" {
		t.Fatalf("unexpected result %v", next)
	}
	same := Reduce(b, MoveEvent{TaskID: "missing", To: domain.StatusDone})
	if !same.Equal(b) {
		t.Fatal("expected unknown move to leave board unchanged")
	}
	restored := Reduce(next, RestoreEvent{Columns: b})
	if !restored.Equal(b) {
		t.Fatal("expected restore to return the retained board")
	}
}
