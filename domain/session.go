package domain

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// SessionType labels what a study session was spent on.
type SessionType string

const (
	SessionStudy    SessionType = "study"
	SessionReview   SessionType = "review"
	SessionPractice SessionType = "practice"
	SessionReading  SessionType = "reading"
)

// SessionTypes lists the predefined session types.
var SessionTypes = [...]SessionType{SessionStudy, SessionReview, SessionPractice, SessionReading}

// Label formats the type for display, e.g. "deep_work" -> "Deep Work".
// An empty type is shown as "Study".
func (t SessionType) Label() string {
	if t == "" {
		return "Study"
	}
	parts := strings.FieldsFunc(string(t), func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		parts[i] = string(unicode.ToTitle(r)) + p[size:]
	}
	return strings.Join(parts, " ")
}

// SessionRecord is what the timer persists when a session ends or is paused.
type SessionRecord struct {
	Duration  int         `json:"duration" validate:"gte=0,lte=86400"`
	Type      SessionType `json:"type" validate:"required,max=40"`
	Completed bool        `json:"completed"`
}

// Session is a stored study session.
type Session struct {
	ID        string      `json:"id"`
	Type      SessionType `json:"type"`
	Duration  int         `json:"duration"`
	Completed bool        `json:"completed"`
	StartTime int64       `json:"startTime"`
	EndTime   int64       `json:"endTime"`
}

// NewSession builds a session that ended at end.
func NewSession(id string, rec SessionRecord, end time.Time) Session {
	endMs := end.UnixMilli()
	return Session{
		ID:        id,
		Type:      rec.Type,
		Duration:  rec.Duration,
		Completed: rec.Completed,
		StartTime: endMs - int64(rec.Duration)*1000,
		EndTime:   endMs,
	}
}

// SessionCommand wraps a session record with the user performing it. It is
// the message carried by the session queue.
type SessionCommand struct {
	ID             string        `json:"id"`
	IdempotencyKey string        `json:"idempotencyKey"`
	UserID         string        `json:"userId"`
	Record         SessionRecord `json:"record"`
	Timestamp      int64         `json:"timestamp"`
}

// Stats summarises the session history of a user.
type Stats struct {
	TotalStudyTime    int     `json:"totalStudyTime"`
	TodayStudyTime    int     `json:"todayStudyTime"`
	CompletedSessions int     `json:"completedSessions"`
	TotalSessions     int     `json:"totalSessions"`
	DailyGoal         int     `json:"dailyGoal"`
	GoalProgress      float64 `json:"goalProgress"`
}

// ComputeStats aggregates sessions. "Today" is the UTC day of now.
func ComputeStats(sessions []Session, settings Settings, now time.Time) Stats {
	settings = settings.WithDefaults()
	dayStart := now.UTC().Truncate(24 * time.Hour).UnixMilli()
	st := Stats{DailyGoal: settings.DailyGoal, TotalSessions: len(sessions)}
	for _, s := range sessions {
		st.TotalStudyTime += s.Duration
		if s.Completed {
			st.CompletedSessions++
		}
		if s.EndTime >= dayStart {
			st.TodayStudyTime += s.Duration
		}
	}
	if st.DailyGoal > 0 {
		st.GoalProgress = float64(st.TodayStudyTime) / float64(st.DailyGoal) * 100
		if st.GoalProgress > 100 {
			st.GoalProgress = 100
		}
	}
	return st
}
