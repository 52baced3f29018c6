// Package dashboard builds the read-only per-role summaries shown on the
// landing screen. It holds no state of its own.
package dashboard

import (
	"context"

	"jagruk/preparedness/internal/access"
	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/rooms"
)

type DrillSource interface {
	List(ctx context.Context, actor auth.Identity, status drills.Status) ([]drills.Drill, error)
}

type AlertSource interface {
	List(ctx context.Context, actor auth.Identity, activeOnly bool) ([]alerts.Alert, error)
}

type ProgressSource interface {
	List(ctx context.Context, actor auth.Identity, studentID string) ([]progress.Completion, error)
}

// Presence reports live room membership.
type Presence interface {
	Members(key rooms.Key) int
}

type StaffSummary struct {
	Drills                map[drills.Status]int `json:"drills"`
	ActiveAlerts          int                   `json:"activeAlerts"`
	AverageCompletionRate float64               `json:"averageCompletionRate"`
	ConnectedMembers      int                   `json:"connectedMembers"`
}

type StudentSummary struct {
	UpcomingDrills   []drills.Drill `json:"upcomingDrills"`
	UnreadAlerts     int            `json:"unreadAlerts"`
	CompletedModules int            `json:"completedModules"`
}

type Summary struct {
	Role    string          `json:"role"`
	Staff   *StaffSummary   `json:"staff,omitempty"`
	Student *StudentSummary `json:"student,omitempty"`
}

type Service struct {
	drills   DrillSource
	alerts   AlertSource
	progress ProgressSource
	presence Presence
}

func NewService(d DrillSource, a AlertSource, p ProgressSource, presence Presence) *Service {
	return &Service{drills: d, alerts: a, progress: p, presence: presence}
}

func (s *Service) Summary(ctx context.Context, actor auth.Identity) (Summary, error) {
	if err := access.Require(actor, access.DashboardView); err != nil {
		return Summary{}, err
	}
	if actor.Role == auth.RoleStudent {
		st, err := s.student(ctx, actor)
		if err != nil {
			return Summary{}, err
		}
		return Summary{Role: actor.Role, Student: &st}, nil
	}
	st, err := s.staff(ctx, actor)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Role: actor.Role, Staff: &st}, nil
}

func (s *Service) staff(ctx context.Context, actor auth.Identity) (StaffSummary, error) {
	all, err := s.drills.List(ctx, actor, "")
	if err != nil {
		return StaffSummary{}, err
	}
	out := StaffSummary{Drills: map[drills.Status]int{
		drills.StatusScheduled: 0,
		drills.StatusActive:    0,
		drills.StatusCompleted: 0,
	}}
	var rateSum float64
	completed := 0
	for _, d := range all {
		out.Drills[d.Status]++
		if d.Status == drills.StatusCompleted && d.CompletionRate != nil {
			rateSum += *d.CompletionRate
			completed++
		}
	}
	if completed > 0 {
		out.AverageCompletionRate = rateSum / float64(completed)
	}

	active, err := s.alerts.List(ctx, actor, true)
	if err != nil {
		return StaffSummary{}, err
	}
	out.ActiveAlerts = len(active)
	if s.presence != nil {
		out.ConnectedMembers = s.presence.Members(rooms.School(actor.SchoolID))
	}
	return out, nil
}

func (s *Service) student(ctx context.Context, actor auth.Identity) (StudentSummary, error) {
	mine, err := s.drills.List(ctx, actor, "")
	if err != nil {
		return StudentSummary{}, err
	}
	out := StudentSummary{UpcomingDrills: []drills.Drill{}}
	for _, d := range mine {
		if d.Status != drills.StatusCompleted {
			out.UpcomingDrills = append(out.UpcomingDrills, d)
		}
	}

	active, err := s.alerts.List(ctx, actor, true)
	if err != nil {
		return StudentSummary{}, err
	}
	for _, a := range active {
		if !a.ReadByUser(actor.UserID) {
			out.UnreadAlerts++
		}
	}

	modules, err := s.progress.List(ctx, actor, actor.UserID)
	if err != nil {
		return StudentSummary{}, err
	}
	out.CompletedModules = len(modules)
	return out, nil
}
