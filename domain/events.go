package domain

// Entity types carried by Update messages.
const (
	EntityBoard    = "board"
	EntitySessions = "sessions"
	EntitySettings = "settings"
)

// Update is published on the updates channel after a write so that
// subscribers can refresh the affected query for the user.
type Update struct {
	UserID     string `json:"UserId"`
	EntityType string `json:"EntityType"`
	EntityID   string `json:"EntityId,omitempty"`
	Timestamp  int64  `json:"Timestamp"`
}
