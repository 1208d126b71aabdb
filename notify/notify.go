// Package notify delivers transient user-facing messages: the toasts and
// desktop notifications raised when a remote call fails or a study session
// completes. Delivery is always best-effort and never blocks the caller.
package notify

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Level of a notice.
type Level int

const (
	Info Level = iota
	Success
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notice is a single transient message.
type Notice struct {
	Level Level
	Title string
	Body  string
	At    time.Time
}

// Notifier is implemented by anything able to show a notice to the user.
type Notifier interface {
	Notify(Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Send stamps the notice time and delivers it. A nil notifier is a no-op.
func Send(n Notifier, level Level, title, body string) {
	if n == nil {
		return
	}
	n.Notify(Notice{Level: level, Title: title, Body: body, At: time.Now()})
}

// LogNotifier writes notices to a logrus logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a notifier that logs through logger, or the standard
// logrus logger when nil.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(n Notice) {
	entry := l.logger.WithFields(log.Fields{"kind": n.Level.String(), "title": n.Title})
	if n.Level == Error {
		entry.Warn(n.Body)
		return
	}
	entry.Info(n.Body)
}
