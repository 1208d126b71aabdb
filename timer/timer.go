// Package timer counts study time toward a target duration and records a
// session when the target is reached, paused or reset.
package timer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"study-mate/domain"
	"study-mate/notify"
)

// State of the timer.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Recorder persists session records.
type Recorder interface {
	CompleteSession(ctx context.Context, rec domain.SessionRecord) error
}

// Status is a point in time view of the timer.
type Status struct {
	State    State              `json:"-"`
	Elapsed  int                `json:"elapsed"`
	Duration int                `json:"duration"`
	Type     domain.SessionType `json:"type"`
}

// Remaining returns the seconds left until completion.
func (s Status) Remaining() int {
	if r := s.Duration - s.Elapsed; r > 0 {
		return r
	}
	return 0
}

// Progress returns the completed share of the duration as a percentage.
func (s Status) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Elapsed) / float64(s.Duration) * 100
}

const (
	completeTitle = "Session complete!"
	saveFailed    = "Failed to save session"
)

// Timer is safe for concurrent use. Record writes happen outside the lock on
// the goroutine that triggered them.
type Timer struct {
	recorder Recorder
	notifier notify.Notifier
	logger   *log.Logger

	mu       sync.Mutex
	state    State
	elapsed  int
	duration int
	kind     domain.SessionType
	hooks    []func(domain.SessionRecord)
	tickers  []func(Status)
}

// Option configures a Timer.
type Option func(*Timer)

func WithNotifier(n notify.Notifier) Option { return func(t *Timer) { t.notifier = n } }

func WithLogger(l *log.Logger) Option { return func(t *Timer) { t.logger = l } }

// WithDuration sets the initial target in seconds.
func WithDuration(seconds int) Option { return func(t *Timer) { t.setDuration(seconds) } }

// WithType sets the initial session type.
func WithType(kind domain.SessionType) Option { return func(t *Timer) { t.kind = kind } }

// New creates an idle timer with the default 25 minute duration.
func New(recorder Recorder, opts ...Option) *Timer {
	if recorder == nil {
		panic("timer.New: recorder is nil")
	}
	t := &Timer{
		recorder: recorder,
		notifier: notify.Discard,
		logger:   log.StandardLogger(),
		duration: domain.DefaultStudyDuration,
		kind:     domain.SessionStudy,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnComplete registers fn to run after every completed session.
func (t *Timer) OnComplete(fn func(domain.SessionRecord)) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

// OnTick registers fn to run after every tick that leaves the timer running.
func (t *Timer) OnTick(fn func(Status)) {
	t.mu.Lock()
	t.tickers = append(t.tickers, fn)
	t.mu.Unlock()
}

// Start moves an idle timer to running. It is a no-op while running.
func (t *Timer) Start() {
	t.mu.Lock()
	t.state = Running
	t.mu.Unlock()
}

// Tick adds one second. When the elapsed time reaches the duration the session
// is recorded as completed and the timer returns to idle with elapsed 0.
// Ticks while idle are ignored.
func (t *Timer) Tick(ctx context.Context) {
	t.mu.Lock()
	if t.state != Running {
		t.mu.Unlock()
		return
	}
	t.elapsed++
	if t.elapsed < t.duration {
		st := t.statusLocked()
		tickers := append([]func(Status){}, t.tickers...)
		t.mu.Unlock()
		for _, fn := range tickers {
			fn(st)
		}
		return
	}
	rec := domain.SessionRecord{Duration: t.elapsed, Type: t.kind, Completed: true}
	t.elapsed = 0
	t.state = Idle
	hooks := append([]func(domain.SessionRecord){}, t.hooks...)
	t.mu.Unlock()

	t.record(ctx, rec)
	notify.Send(t.notifier, notify.Success, completeTitle, "Great job! Take a short break.")
	for _, fn := range hooks {
		fn(rec)
	}
}

// Pause stops a running timer and records the time so far as an incomplete
// session. Elapsed time is kept so Start resumes where it stopped.
func (t *Timer) Pause(ctx context.Context) {
	t.mu.Lock()
	if t.state != Running {
		t.mu.Unlock()
		return
	}
	t.state = Idle
	rec := domain.SessionRecord{Duration: t.elapsed, Type: t.kind, Completed: false}
	t.mu.Unlock()

	t.record(ctx, rec)
}

// Reset zeroes the elapsed time. A running timer is stopped and its time so
// far recorded as an incomplete session.
func (t *Timer) Reset(ctx context.Context) {
	t.mu.Lock()
	wasRunning := t.state == Running
	rec := domain.SessionRecord{Duration: t.elapsed, Type: t.kind, Completed: false}
	t.elapsed = 0
	t.state = Idle
	t.mu.Unlock()

	if wasRunning {
		t.record(ctx, rec)
	}
}

// SetDuration changes the target in seconds. Values below one second are
// raised to one.
func (t *Timer) SetDuration(seconds int) {
	t.mu.Lock()
	t.setDuration(seconds)
	t.mu.Unlock()
}

func (t *Timer) setDuration(seconds int) {
	if seconds < 1 {
		seconds = 1
	}
	t.duration = seconds
}

// SetType changes the type recorded for the next session.
func (t *Timer) SetType(kind domain.SessionType) {
	t.mu.Lock()
	if kind == "" {
		kind = domain.SessionStudy
	}
	t.kind = kind
	t.mu.Unlock()
}

// Status returns the current state.
func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Timer) statusLocked() Status {
	return Status{State: t.state, Elapsed: t.elapsed, Duration: t.duration, Type: t.kind}
}

// Run calls Tick for every value received from ticks until ctx is done or
// ticks is closed. Session records written by Tick are not cancelled with ctx.
func (t *Timer) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			t.Tick(context.WithoutCancel(ctx))
		}
	}
}

func (t *Timer) record(ctx context.Context, rec domain.SessionRecord) {
	if err := t.recorder.CompleteSession(ctx, rec); err != nil {
		t.logger.WithError(err).WithFields(log.Fields{
			"duration":  rec.Duration,
			"type":      rec.Type,
			"completed": rec.Completed,
		}).Error("failed to record session")
		notify.Send(t.notifier, notify.Error, saveFailed, err.Error())
	}
}
