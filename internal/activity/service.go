package activity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/internal/auth"
)

// Errors returned by the engine. Validation errors wrap ErrValidation so the
// HTTP layer can map the whole family to a 400 response.
var (
	ErrNotFound   = errors.New("activity not found")
	ErrForbidden  = errors.New("permission denied")
	ErrValidation = errors.New("invalid input")

	ErrOriginRequired   = fmt.Errorf("%w: origin is required", ErrValidation)
	ErrNameRequired     = fmt.Errorf("%w: activity is required", ErrValidation)
	ErrDateRequired     = fmt.Errorf("%w: date is required", ErrValidation)
	ErrDateInvalid      = fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	ErrDurationRequired = fmt.Errorf("%w: duration is required", ErrValidation)
	ErrStatusInvalid    = fmt.Errorf("%w: status must be one of: pending, in_progress, completed", ErrValidation)
	ErrPriorityInvalid  = fmt.Errorf("%w: priority must be one of: low, medium, high", ErrValidation)
)

// Storage is the persistence interface the engine operates against.
type Storage interface {
	Insert(ctx context.Context, a *Activity) (int64, error)
	GetByID(ctx context.Context, id int64) (*Activity, error)
	List(ctx context.Context, f Filters) ([]*Activity, error)
	Update(ctx context.Context, a *Activity) error
	Delete(ctx context.Context, id int64) error
}

// Notifier receives change events after a successful mutation. Delivery is
// best-effort: implementations must not block or fail the calling request.
type Notifier interface {
	ActivityCreated(a *Activity)
	ActivityUpdated(a *Activity)
}

// Service is the activity state engine. It validates input, evaluates the
// authorization policy, merges partial updates and triggers change
// notifications.
type Service struct {
	store    Storage
	notifier Notifier
}

// NewService creates the engine. notifier may be nil to disable
// change notifications.
func NewService(store Storage, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

// Create validates and persists a new activity for the actor and returns it
// with the responsible name resolved.
func (s *Service) Create(ctx context.Context, in CreateActivityInput, actor *auth.Principal) (*Activity, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	a := &Activity{
		Origin:        strings.TrimSpace(in.Origin),
		Name:          strings.TrimSpace(in.Name),
		Date:          in.Date,
		Duration:      in.Duration,
		Status:        in.Status,
		Priority:      in.Priority,
		ResponsibleID: ForcedResponsible(actor, in.ResponsibleID),
		DueDate:       in.DueDate,
		Observation:   in.Observation,
	}
	creator := actor.ID
	a.CreatedBy = &creator

	id, err := s.store.Insert(ctx, a)
	if err != nil {
		return nil, err
	}

	created, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.ActivityCreated(created)
	}
	return created, nil
}

// Get fetches a single activity the actor is allowed to see. Absence checks
// precede authorization everywhere, so a denied actor and a missing row are
// distinguishable only for rows that exist.
func (s *Service) Get(ctx context.Context, id int64, actor *auth.Principal) (*Activity, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanRead(actor, a) {
		return nil, ErrForbidden
	}
	return a, nil
}

// List returns activities matching the filters, restricted to what the actor
// is allowed to see. Non-admin actors only see rows they created or are
// responsible for.
func (s *Service) List(ctx context.Context, f Filters, actor *auth.Principal) ([]*Activity, error) {
	if !actor.IsAdmin() {
		id := actor.ID
		f.VisibleTo = &id
	}
	return s.store.List(ctx, f)
}

// Update applies a partial update. The existing row is fetched first (absent
// rows are NotFound regardless of permissions), then the policy is
// evaluated, then patch fields are merged over the stored values.
func (s *Service) Update(ctx context.Context, id int64, in UpdateActivityInput, actor *auth.Principal) (*Activity, error) {
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanUpdate(actor, existing) {
		return nil, ErrForbidden
	}

	merged := *existing
	if in.Origin != nil {
		merged.Origin = *in.Origin
	}
	if in.Name != nil {
		merged.Name = *in.Name
	}
	if in.Date != nil {
		if _, err := time.Parse("2006-01-02", *in.Date); err != nil {
			return nil, ErrDateInvalid
		}
		merged.Date = *in.Date
	}
	// duration_delta wins over a direct duration when both are supplied.
	switch {
	case in.DurationDelta != nil:
		merged.Duration = ApplyDurationDelta(existing.Duration, *in.DurationDelta)
	case in.Duration != nil:
		merged.Duration = *in.Duration
	}
	if in.Status != nil {
		if !ValidStatus(*in.Status) {
			return nil, ErrStatusInvalid
		}
		merged.Status = *in.Status
	}
	if in.Priority != nil {
		if !ValidPriority(*in.Priority) {
			return nil, ErrPriorityInvalid
		}
		merged.Priority = *in.Priority
	}
	if in.ResponsibleID.Set {
		merged.ResponsibleID = in.ResponsibleID.Value
	}
	// The due date is stored exactly as passed: completing an activity does
	// not clear it, and only an explicit null does.
	if in.DueDate.Set {
		if in.DueDate.Value != nil {
			if _, err := time.Parse("2006-01-02", *in.DueDate.Value); err != nil {
				return nil, ErrDateInvalid
			}
		}
		merged.DueDate = in.DueDate.Value
	}
	if in.Observation.Set {
		merged.Observation = in.Observation.Value
	}

	if err := s.store.Update(ctx, &merged); err != nil {
		return nil, err
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.ActivityUpdated(updated)
	}
	return updated, nil
}

// Delete removes an activity. Admin only; the absence check comes first.
func (s *Service) Delete(ctx context.Context, id int64, actor *auth.Principal) error {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return err
	}
	if !CanDelete(actor) {
		return ErrForbidden
	}
	return s.store.Delete(ctx, id)
}

// DashboardSummary recomputes the dashboard aggregates from the actor's
// visible rows. Nothing is cached; every call rescans.
func (s *Service) DashboardSummary(ctx context.Context, actor *auth.Principal) (*Summary, error) {
	var f Filters
	if !actor.IsAdmin() {
		id := actor.ID
		f.VisibleTo = &id
	}
	rows, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		HoursByMonth:       []MonthHours{},
		ActivitiesByOrigin: []OriginCount{},
	}

	totalMinutes := 0
	monthMinutes := make(map[string]int)
	originCounts := make(map[string]int)
	today := time.Now().Format("2006-01-02")

	for _, a := range rows {
		summary.TotalActivities++
		if a.Status == StatusCompleted {
			summary.CompletedActivities++
		}
		if a.Overdue(today) {
			summary.OverdueActivities++
		}
		mins := ParseDuration(a.Duration)
		totalMinutes += mins
		if len(a.Date) >= 7 {
			monthMinutes[a.Date[:7]] += mins
		}
		originCounts[a.Origin]++
	}

	summary.TotalHours = round1(float64(totalMinutes) / 60)

	for month, mins := range monthMinutes {
		summary.HoursByMonth = append(summary.HoursByMonth, MonthHours{
			Month: month,
			Hours: float64(mins) / 60,
		})
	}
	sort.Slice(summary.HoursByMonth, func(i, j int) bool {
		return summary.HoursByMonth[i].Month < summary.HoursByMonth[j].Month
	})

	for origin, count := range originCounts {
		summary.ActivitiesByOrigin = append(summary.ActivitiesByOrigin, OriginCount{
			Origin: origin,
			Count:  count,
		})
	}
	sort.Slice(summary.ActivitiesByOrigin, func(i, j int) bool {
		a, b := summary.ActivitiesByOrigin[i], summary.ActivitiesByOrigin[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Origin < b.Origin
	})

	return summary, nil
}

// round1 rounds to one decimal place, halves away from zero.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func validateCreate(in CreateActivityInput) error {
	if strings.TrimSpace(in.Origin) == "" {
		return ErrOriginRequired
	}
	if strings.TrimSpace(in.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(in.Date) == "" {
		return ErrDateRequired
	}
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return ErrDateInvalid
	}
	// Duration must be present; a malformed value still parses to zero
	// rather than rejecting the request.
	if strings.TrimSpace(in.Duration) == "" {
		return ErrDurationRequired
	}
	if !ValidStatus(in.Status) {
		return ErrStatusInvalid
	}
	if !ValidPriority(in.Priority) {
		return ErrPriorityInvalid
	}
	if in.DueDate != nil {
		if _, err := time.Parse("2006-01-02", *in.DueDate); err != nil {
			return ErrDateInvalid
		}
	}
	return nil
}
