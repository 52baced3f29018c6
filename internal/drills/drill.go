package drills

import (
	"context"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusCompleted:
		return true
	}
	return false
}

type Type string

const (
	TypePhysical Type = "physical"
	TypeVirtual  Type = "virtual"
)

// Drill is a scheduled or running exercise. Attendance keys are always a
// subset of Participants.
type Drill struct {
	ID              string          `json:"id"`
	SchoolID        string          `json:"schoolId"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Type            Type            `json:"type"`
	ScheduledAt     time.Time       `json:"scheduledAt"`
	DurationMinutes int             `json:"durationMinutes"`
	Status          Status          `json:"status"`
	TargetClasses   []string        `json:"targetClasses"`
	Participants    []string        `json:"participants"`
	Attendance      map[string]bool `json:"attendance"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CompletionRate  *float64        `json:"completionRate,omitempty"`
}

func (d Drill) IsParticipant(studentID string) bool {
	for _, id := range d.Participants {
		if id == studentID {
			return true
		}
	}
	return false
}

func (d Drill) Attended() int {
	n := 0
	for _, present := range d.Attendance {
		if present {
			n++
		}
	}
	return n
}

// CompletionRate is the share of participants marked present, 0 without
// participants.
func CompletionRate(attendance map[string]bool, participants []string) float64 {
	if len(participants) == 0 {
		return 0
	}
	n := 0
	for _, id := range participants {
		if attendance[id] {
			n++
		}
	}
	return float64(n) / float64(len(participants))
}

// AttendanceRecord is appended once per successful check-in and never changed.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	DrillID    string    `json:"drillId"`
	StudentID  string    `json:"studentId"`
	SchoolID   string    `json:"schoolId"`
	RecordedAt time.Time `json:"recordedAt"`
	Location   string    `json:"location,omitempty"`
	Device     string    `json:"device,omitempty"`
}

// Repository persists drills. Every state change is a conditional write:
// when the stored drill does not satisfy the precondition the call returns
// apperr.ErrConflict and changes nothing. Unknown drills yield
// apperr.ErrNoRecord.
type Repository interface {
	CreateDrill(ctx context.Context, d Drill) error
	GetDrill(ctx context.Context, schoolID, drillID string) (Drill, error)
	ListDrills(ctx context.Context, schoolID string, status Status) ([]Drill, error)

	// StartDrill moves a scheduled drill to active.
	StartDrill(ctx context.Context, schoolID, drillID string, at time.Time) (Drill, error)
	// CompleteDrill moves an active drill to completed and stores the
	// completion rate computed from the attendance at that instant.
	CompleteDrill(ctx context.Context, schoolID, drillID string, at time.Time) (Drill, error)
	// RecordCheckIn marks the student present and appends rec in one step. The
	// drill must be active, list the student as participant and hold no
	// attendance entry for them yet.
	RecordCheckIn(ctx context.Context, rec AttendanceRecord) (Drill, error)
	// OverrideAttendance sets the entry of a participant while the drill is
	// not completed. No record is appended.
	OverrideAttendance(ctx context.Context, schoolID, drillID, studentID string, attended bool) (Drill, error)
	ListAttendanceRecords(ctx context.Context, schoolID, drillID string) ([]AttendanceRecord, error)
}

// ParticipantSource resolves the students enrolled in target classes.
type ParticipantSource interface {
	Participants(ctx context.Context, schoolID string, classIDs []string) ([]string, error)
}
