package domain

const (
	DefaultStudyDuration = 25 * 60
	DefaultDailyGoal     = 120 * 60
)

// Settings represents user configurable study options, in seconds.
type Settings struct {
	StudyDuration int `json:"studyDuration" validate:"gte=60,lte=7200"`
	DailyGoal     int `json:"dailyGoal" validate:"gte=60,lte=28800"`
}

// DefaultSettings is returned for users that never saved settings.
func DefaultSettings() Settings {
	return Settings{StudyDuration: DefaultStudyDuration, DailyGoal: DefaultDailyGoal}
}

// WithDefaults replaces unset fields with defaults.
func (s Settings) WithDefaults() Settings {
	if s.StudyDuration <= 0 {
		s.StudyDuration = DefaultStudyDuration
	}
	if s.DailyGoal <= 0 {
		s.DailyGoal = DefaultDailyGoal
	}
	return s
}
