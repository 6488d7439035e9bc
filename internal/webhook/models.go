package webhook

import "time"

// Fields selects which activity fields are included in webhook payloads. The
// set is closed: these eight flags are the whole configuration surface, not
// an open-ended dictionary.
type Fields struct {
	Origin      bool `json:"origin"`
	Activity    bool `json:"activity"`
	Date        bool `json:"date"`
	Duration    bool `json:"duration"`
	Status      bool `json:"status"`
	Priority    bool `json:"priority"`
	Responsible bool `json:"responsible"`
	Observation bool `json:"observation"`
}

// DefaultFields enables everything except the free-text observation.
func DefaultFields() Fields {
	return Fields{
		Origin:      true,
		Activity:    true,
		Date:        true,
		Duration:    true,
		Status:      true,
		Priority:    true,
		Responsible: true,
		Observation: false,
	}
}

// Config is the singleton webhook configuration.
type Config struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	AutoSend  bool      `json:"auto_send"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveConfigInput holds the mutable configuration fields.
type SaveConfigInput struct {
	URL      string `json:"url"`
	Active   bool   `json:"active"`
	AutoSend bool   `json:"auto_send"`
	Fields   Fields `json:"fields"`
}
