package alerts

import (
	"context"
	"time"

	"jagruk/preparedness/internal/rooms"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type Audience string

const (
	AudienceAll      Audience = "all"
	AudienceStudents Audience = "students"
	AudienceStaff    Audience = "staff"
	AudienceClass    Audience = "class"
)

type Alert struct {
	ID          string     `json:"id"`
	SchoolID    string     `json:"schoolId"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    Priority   `json:"priority"`
	Audience    Audience   `json:"audience"`
	ClassID     string     `json:"classId,omitempty"`
	Active      bool       `json:"active"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	ReadBy      []string   `json:"readBy"`
	DismissedAt *time.Time `json:"dismissedAt,omitempty"`
	DismissedBy string     `json:"dismissedBy,omitempty"`
}

// Room is where the alert and its dismissal are broadcast. Staff alerts never
// reach the school room, which students join.
func (a Alert) Room() rooms.Key {
	switch {
	case a.Audience == AudienceStaff:
		return rooms.Staff(a.SchoolID)
	case a.Audience == AudienceClass && a.ClassID != "":
		return rooms.Class(a.SchoolID, a.ClassID)
	}
	return rooms.School(a.SchoolID)
}

func (a Alert) ReadByUser(userID string) bool {
	for _, id := range a.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Repository persists alerts. DismissAlert only succeeds on an active alert
// and returns apperr.ErrConflict otherwise; unknown alerts yield
// apperr.ErrNoRecord.
type Repository interface {
	CreateAlert(ctx context.Context, a Alert) error
	GetAlert(ctx context.Context, schoolID, alertID string) (Alert, error)
	ListAlerts(ctx context.Context, schoolID string, activeOnly bool) ([]Alert, error)
	// AddReader adds userID to the read-by set. Adding twice is a no-op.
	AddReader(ctx context.Context, schoolID, alertID, userID string) (Alert, error)
	DismissAlert(ctx context.Context, schoolID, alertID, by string, at time.Time) (Alert, error)
	// ListExpired returns active alerts of every school with ExpiresAt <= now.
	ListExpired(ctx context.Context, now time.Time) ([]Alert, error)
}

// Notifier hands high priority alerts to an out-of-band channel.
type Notifier interface {
	AlertSent(ctx context.Context, a Alert)
}
