package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

type fakeStore struct {
	boardCalls atomic.Int32
	statsCalls atomic.Int32
	boardErr   error
}

func (f *fakeStore) FetchBoard(ctx context.Context, userID string) (domain.Columns, error) {
	f.boardCalls.Add(1)
	if f.boardErr != nil {
		return nil, f.boardErr
	}
	c := domain.NewColumns()
	c[domain.StatusBacklog] = []domain.Task{{ID: "t1", Title: "read", Status: domain.StatusBacklog}}
	return c, nil
}

func (f *fakeStore) FetchStats(ctx context.Context, userID string) (domain.Stats, error) {
	f.statsCalls.Add(1)
	return domain.Stats{TotalSessions: 2, DailyGoal: 120}, nil
}

type fakeAuth struct{ err error }

func (a fakeAuth) UserIDFromRequest(*http.Request) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "user1", nil
}

// syncRecorder is a ResponseWriter that can be read while the handler writes.
type syncRecorder struct {
	mu     sync.Mutex
	header http.Header
	buf    bytes.Buffer
	code   int
}

func newSyncRecorder() *syncRecorder { return &syncRecorder{header: make(http.Header)} }

func (r *syncRecorder) Header() http.Header { return r.header }
func (r *syncRecorder) WriteHeader(code int) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}
func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}
func (r *syncRecorder) Flush() {}
func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startStream(t *testing.T, h *Handler) (*syncRecorder, context.CancelFunc, chan error) {
	t.Helper()
	e := echo.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := newSyncRecorder()
	c := e.NewContext(req, rec)
	done := make(chan error, 1)
	go func() { done <- h.stream(c) }()
	return rec, cancel, done
}

func TestBrokerCoalescesNotifications(t *testing.T) {
	b := NewBroker()
	s := b.subscribe("u")
	b.Notify("u", domain.EntityBoard)
	b.Notify("u", domain.EntitySessions)
	b.Notify("other", domain.EntityBoard)

	select {
	case <-s.wake:
	default:
		t.Fatal("expected a wake-up")
	}
	select {
	case <-s.wake:
		t.Fatal("expected wake-ups to coalesce")
	default:
	}
	if got := s.take(); got != kindBoard|kindStats {
		t.Fatalf("expected both kinds pending, got %b", got)
	}
	if got := s.take(); got != 0 {
		t.Fatalf("expected pending cleared, got %b", got)
	}

	b.unsubscribe(s)
	if b.Connections("u") != 0 {
		t.Fatalf("expected no connections after unsubscribe")
	}
	b.Notify("u", domain.EntityBoard)
	if s.take() != 0 {
		t.Fatal("unsubscribed connection was notified")
	}
}

func TestKindsFor(t *testing.T) {
	cases := map[string]uint32{
		domain.EntityBoard:    kindBoard,
		domain.EntitySessions: kindStats,
		domain.EntitySettings: kindStats,
		"unknown":             kindBoard | kindStats,
	}
	for entity, want := range cases {
		if got := kindsFor(entity); got != want {
			t.Fatalf("%s: expected %b got %b", entity, want, got)
		}
	}
}

func TestStreamSendsSnapshotOnConnectAndAfterUpdate(t *testing.T) {
	store := &fakeStore{}
	broker := NewBroker()
	h := NewHandler(store, fakeAuth{}, broker, quietLogger())
	rec, cancel, done := startStream(t, h)

	waitFor(t, func() bool { return strings.Contains(rec.String(), "event: stats") })
	body := rec.String()
	if !strings.HasPrefix(body, "event: board\ndata: ") {
		t.Fatalf("expected board event first, got %q", body)
	}
	if rec.header.Get(echo.HeaderContentType) != "text/event-stream" {
		t.Fatalf("unexpected content type %q", rec.header.Get(echo.HeaderContentType))
	}

	var payload domain.BoardPayload
	line := strings.SplitN(strings.TrimPrefix(body, "event: board\ndata: "), "\n", 2)[0]
	if err := sonic.UnmarshalString(line, &payload); err != nil {
		t.Fatalf("decode board payload: %v", err)
	}
	if payload.Totals.All != 1 || payload.Columns[domain.StatusBacklog][0].ID != "t1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	waitFor(t, func() bool { return broker.Connections("user1") == 1 })
	broker.Notify("user1", domain.EntitySessions)
	waitFor(t, func() bool { return strings.Count(rec.String(), "event: stats") == 2 })
	if store.boardCalls.Load() != 1 {
		t.Fatalf("sessions update should not refetch the board")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if broker.Connections("user1") != 0 {
		t.Fatalf("expected connection to be released")
	}
}

func TestStreamSkipsFailedFetch(t *testing.T) {
	store := &fakeStore{boardErr: errors.New("table down")}
	h := NewHandler(store, fakeAuth{}, NewBroker(), quietLogger())
	rec, cancel, done := startStream(t, h)
	waitFor(t, func() bool { return strings.Contains(rec.String(), "event: stats") })
	if strings.Contains(rec.String(), "event: board") {
		t.Fatalf("board event should be skipped on fetch error")
	}
	cancel()
	<-done
}

func TestStreamKeepAlive(t *testing.T) {
	h := NewHandler(&fakeStore{}, fakeAuth{}, NewBroker(), quietLogger())
	h.keepAlive = 10 * time.Millisecond
	rec, cancel, done := startStream(t, h)
	waitFor(t, func() bool { return strings.Contains(rec.String(), ": keep-alive\n\n") })
	cancel()
	<-done
}

func TestStreamUnauthorized(t *testing.T) {
	h := NewHandler(&fakeStore{}, fakeAuth{err: errors.New("no token")}, NewBroker(), quietLogger())
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/stream", nil), rec)
	if err := h.stream(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestSubscribeUpdatesNotifiesBroker(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()

	broker := NewBroker()
	sub := broker.subscribe("user1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go SubscribeUpdates(ctx, quietLogger(), rc, "study-updates", broker)

	waitFor(t, func() bool {
		n, _ := rc.PubSubNumSub(ctx, "study-updates").Result()
		return n["study-updates"] == 1
	})
	rc.Publish(ctx, "study-updates", "not json")
	msg, _ := sonic.MarshalString(domain.Update{UserID: "user1", EntityType: domain.EntityBoard, Timestamp: 1})
	if err := rc.Publish(ctx, "study-updates", msg).Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-sub.wake:
	case <-time.After(2 * time.Second):
		t.Fatal("broker was not notified")
	}
	if got := sub.take(); got != kindBoard {
		t.Fatalf("expected board kind, got %b", got)
	}
}
