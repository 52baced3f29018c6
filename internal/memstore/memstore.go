// Package memstore keeps every collection in process memory. It backs dev
// mode and the service tests; data is lost on restart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/roster"
)

type Store struct {
	mu          sync.RWMutex
	students    map[string]roster.Student
	drills      map[string]drills.Drill
	records     []drills.AttendanceRecord
	alerts      map[string]alerts.Alert
	completions map[string]progress.Completion
}

func New() *Store {
	return &Store{
		students:    make(map[string]roster.Student),
		drills:      make(map[string]drills.Drill),
		alerts:      make(map[string]alerts.Alert),
		completions: make(map[string]progress.Completion),
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Students

func (s *Store) CreateStudent(_ context.Context, st roster.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(st.SchoolID, st.ID)
	if _, ok := s.students[k]; ok {
		return apperr.ErrConflict
	}
	s.students[k] = st
	return nil
}

func (s *Store) GetStudent(_ context.Context, schoolID, studentID string) (roster.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[key(schoolID, studentID)]
	if !ok {
		return roster.Student{}, apperr.ErrNoRecord
	}
	return st, nil
}

func (s *Store) ListStudents(_ context.Context, schoolID, classID string) ([]roster.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []roster.Student{}
	for _, st := range s.students {
		if st.SchoolID != schoolID || (classID != "" && st.ClassID != classID) {
			continue
		}
		out = append(out, st)
	}
	sortStudents(out)
	return out, nil
}

func (s *Store) ListStudentsInClasses(_ context.Context, schoolID string, classIDs []string) ([]roster.Student, error) {
	wanted := make(map[string]bool, len(classIDs))
	for _, c := range classIDs {
		wanted[c] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []roster.Student{}
	for _, st := range s.students {
		if st.SchoolID == schoolID && wanted[st.ClassID] {
			out = append(out, st)
		}
	}
	sortStudents(out)
	return out, nil
}

func sortStudents(list []roster.Student) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].ClassID != list[j].ClassID {
			return list[i].ClassID < list[j].ClassID
		}
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
}

// Drills

func (s *Store) CreateDrill(_ context.Context, d drills.Drill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(d.SchoolID, d.ID)
	if _, ok := s.drills[k]; ok {
		return apperr.ErrConflict
	}
	s.drills[k] = copyDrill(d)
	return nil
}

func (s *Store) GetDrill(_ context.Context, schoolID, drillID string) (drills.Drill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drills[key(schoolID, drillID)]
	if !ok {
		return drills.Drill{}, apperr.ErrNoRecord
	}
	return copyDrill(d), nil
}

func (s *Store) ListDrills(_ context.Context, schoolID string, status drills.Status) ([]drills.Drill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []drills.Drill{}
	for _, d := range s.drills {
		if d.SchoolID != schoolID || (status != "" && d.Status != status) {
			continue
		}
		out = append(out, copyDrill(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// update applies fn to a copy of the stored drill under the write lock and
// stores the copy. fn returns false when the precondition does not hold.
func (s *Store) update(schoolID, drillID string, fn func(*drills.Drill) bool) (drills.Drill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(schoolID, drillID)
	d, ok := s.drills[k]
	if !ok {
		return drills.Drill{}, apperr.ErrNoRecord
	}
	d = copyDrill(d)
	if !fn(&d) {
		return drills.Drill{}, apperr.ErrConflict
	}
	s.drills[k] = d
	return copyDrill(d), nil
}

func (s *Store) StartDrill(_ context.Context, schoolID, drillID string, at time.Time) (drills.Drill, error) {
	return s.update(schoolID, drillID, func(d *drills.Drill) bool {
		if d.Status != drills.StatusScheduled {
			return false
		}
		d.Status = drills.StatusActive
		d.StartedAt = &at
		return true
	})
}

func (s *Store) CompleteDrill(_ context.Context, schoolID, drillID string, at time.Time) (drills.Drill, error) {
	return s.update(schoolID, drillID, func(d *drills.Drill) bool {
		if d.Status != drills.StatusActive {
			return false
		}
		rate := drills.CompletionRate(d.Attendance, d.Participants)
		d.Status = drills.StatusCompleted
		d.CompletedAt = &at
		d.CompletionRate = &rate
		return true
	})
}

func (s *Store) RecordCheckIn(_ context.Context, rec drills.AttendanceRecord) (drills.Drill, error) {
	return s.update(rec.SchoolID, rec.DrillID, func(d *drills.Drill) bool {
		if d.Status != drills.StatusActive || !d.IsParticipant(rec.StudentID) {
			return false
		}
		if _, marked := d.Attendance[rec.StudentID]; marked {
			return false
		}
		d.Attendance[rec.StudentID] = true
		s.records = append(s.records, rec)
		return true
	})
}

func (s *Store) OverrideAttendance(_ context.Context, schoolID, drillID, studentID string, attended bool) (drills.Drill, error) {
	return s.update(schoolID, drillID, func(d *drills.Drill) bool {
		if d.Status == drills.StatusCompleted || !d.IsParticipant(studentID) {
			return false
		}
		d.Attendance[studentID] = attended
		return true
	})
}

func (s *Store) ListAttendanceRecords(_ context.Context, schoolID, drillID string) ([]drills.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []drills.AttendanceRecord{}
	for _, rec := range s.records {
		if rec.SchoolID == schoolID && rec.DrillID == drillID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func copyDrill(d drills.Drill) drills.Drill {
	d.TargetClasses = append([]string(nil), d.TargetClasses...)
	d.Participants = append([]string{}, d.Participants...)
	attendance := make(map[string]bool, len(d.Attendance))
	for id, present := range d.Attendance {
		attendance[id] = present
	}
	d.Attendance = attendance
	return d
}

// Alerts

func (s *Store) CreateAlert(_ context.Context, a alerts.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(a.SchoolID, a.ID)
	if _, ok := s.alerts[k]; ok {
		return apperr.ErrConflict
	}
	s.alerts[k] = copyAlert(a)
	return nil
}

func (s *Store) GetAlert(_ context.Context, schoolID, alertID string) (alerts.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[key(schoolID, alertID)]
	if !ok {
		return alerts.Alert{}, apperr.ErrNoRecord
	}
	return copyAlert(a), nil
}

func (s *Store) ListAlerts(_ context.Context, schoolID string, activeOnly bool) ([]alerts.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []alerts.Alert{}
	for _, a := range s.alerts {
		if a.SchoolID != schoolID || (activeOnly && !a.Active) {
			continue
		}
		out = append(out, copyAlert(a))
	}
	sortAlerts(out)
	return out, nil
}

func (s *Store) AddReader(_ context.Context, schoolID, alertID, userID string) (alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(schoolID, alertID)
	a, ok := s.alerts[k]
	if !ok {
		return alerts.Alert{}, apperr.ErrNoRecord
	}
	a = copyAlert(a)
	if !a.ReadByUser(userID) {
		a.ReadBy = append(a.ReadBy, userID)
	}
	s.alerts[k] = a
	return copyAlert(a), nil
}

func (s *Store) DismissAlert(_ context.Context, schoolID, alertID, by string, at time.Time) (alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(schoolID, alertID)
	a, ok := s.alerts[k]
	if !ok {
		return alerts.Alert{}, apperr.ErrNoRecord
	}
	if !a.Active {
		return alerts.Alert{}, apperr.ErrConflict
	}
	a = copyAlert(a)
	a.Active = false
	a.DismissedAt = &at
	a.DismissedBy = by
	s.alerts[k] = a
	return copyAlert(a), nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time) ([]alerts.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []alerts.Alert{}
	for _, a := range s.alerts {
		if a.Active && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			out = append(out, copyAlert(a))
		}
	}
	sortAlerts(out)
	return out, nil
}

func sortAlerts(list []alerts.Alert) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func copyAlert(a alerts.Alert) alerts.Alert {
	a.ReadBy = append([]string{}, a.ReadBy...)
	return a
}

// Module completions

func (s *Store) RecordCompletion(_ context.Context, c progress.Completion) (progress.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(c.SchoolID, c.StudentID, c.ModuleID)
	if prev, ok := s.completions[k]; ok {
		if prev.Score > c.Score {
			c.Score = prev.Score
		}
		if prev.CompletedAt.After(c.CompletedAt) {
			c.CompletedAt = prev.CompletedAt
		}
	}
	s.completions[k] = c
	return c, nil
}

func (s *Store) ListCompletions(_ context.Context, schoolID, studentID string) ([]progress.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []progress.Completion{}
	for _, c := range s.completions {
		if c.SchoolID == schoolID && c.StudentID == studentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}
