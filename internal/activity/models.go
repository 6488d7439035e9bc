package activity

import (
	"encoding/json"
	"time"
)

// Status values an activity can hold. There is no enforced transition graph:
// any authorized update may set any status.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Priority values.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidStatus reports whether s is a recognized status.
func ValidStatus(s string) bool {
	return s == StatusPending || s == StatusInProgress || s == StatusCompleted
}

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Activity is a trackable unit of work. Date and DueDate are calendar dates
// in "YYYY-MM-DD" form; Duration is accumulated effort as "HH:MM" text.
type Activity struct {
	ID              int64     `json:"id"`
	Origin          string    `json:"origin"`
	Name            string    `json:"activity"`
	Date            string    `json:"date"`
	Duration        string    `json:"duration"`
	Status          string    `json:"status"`
	Priority        string    `json:"priority"`
	ResponsibleID   *int64    `json:"responsible_id"`
	ResponsibleName *string   `json:"responsible_name"`
	CreatedBy       *int64    `json:"created_by"`
	DueDate         *string   `json:"due_date"`
	Observation     *string   `json:"observation"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Overdue reports whether the activity's soft deadline has passed. A due date
// only carries meaning while the activity is not completed.
func (a *Activity) Overdue(today string) bool {
	if a.DueDate == nil || a.Status == StatusCompleted {
		return false
	}
	return *a.DueDate < today
}

// CreateActivityInput holds the fields for creating an activity. Origin,
// Name, Date, Duration, Status and Priority are all required.
type CreateActivityInput struct {
	Origin        string  `json:"origin"`
	Name          string  `json:"activity"`
	Date          string  `json:"date"`
	Duration      string  `json:"duration"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	ResponsibleID *int64  `json:"responsible_id"`
	DueDate       *string `json:"due_date"`
	Observation   *string `json:"observation"`
}

// OptionalString is a JSON field that distinguishes "absent" from an explicit
// null: absent keeps the stored value, null clears it.
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON is only invoked for fields present in the request body, so
// Set records presence and Value stays nil for an explicit null.
func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// OptionalInt64 is the int64 counterpart of OptionalString.
type OptionalInt64 struct {
	Set   bool
	Value *int64
}

func (o *OptionalInt64) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// UpdateActivityInput holds a partial update. Nil / unset fields keep the
// stored value. DurationDelta adjusts the stored duration by a signed number
// of minutes and takes precedence over Duration when both are supplied.
type UpdateActivityInput struct {
	Origin        *string        `json:"origin"`
	Name          *string        `json:"activity"`
	Date          *string        `json:"date"`
	Duration      *string        `json:"duration"`
	DurationDelta *int           `json:"duration_delta"`
	Status        *string        `json:"status"`
	Priority      *string        `json:"priority"`
	ResponsibleID OptionalInt64  `json:"responsible_id"`
	DueDate       OptionalString `json:"due_date"`
	Observation   OptionalString `json:"observation"`
}

// Filters narrows a listing. String fields are ignored when empty.
// Origin and Name match as case-insensitive substrings; StartDate/EndDate
// bound the activity date inclusively.
type Filters struct {
	Origin        string
	Name          string
	StartDate     string
	EndDate       string
	Status        string
	Priority      string
	ResponsibleID *int64

	// VisibleTo restricts results to rows created by or assigned to this
	// user. Set by the engine for non-admin actors.
	VisibleTo *int64
}

// Summary is the dashboard aggregate, recomputed from the current row set on
// every call.
type Summary struct {
	TotalActivities     int           `json:"totalActivities"`
	CompletedActivities int           `json:"completedActivities"`
	OverdueActivities   int           `json:"overdueActivities"`
	TotalHours          float64       `json:"totalHours"`
	HoursByMonth        []MonthHours  `json:"hoursByMonth"`
	ActivitiesByOrigin  []OriginCount `json:"activitiesByOrigin"`
}

// MonthHours is the effort logged in one calendar month, keyed "YYYY-MM" on
// the activity date (not the due date).
type MonthHours struct {
	Month string  `json:"month"`
	Hours float64 `json:"hours"`
}

// OriginCount is the number of activities recorded for one origin.
type OriginCount struct {
	Origin string `json:"origin"`
	Count  int    `json:"count"`
}
