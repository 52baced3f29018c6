// Package drills runs the drill lifecycle: scheduled, active, completed. Each
// transition is persisted before its event is published to the school room.
package drills

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jagruk/preparedness/internal/access"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/metrics"
	"jagruk/preparedness/internal/rooms"
	"jagruk/preparedness/internal/validate"
)

const (
	EventScheduled        = "drill-scheduled"
	EventStarted          = "drill-started"
	EventAttendanceMarked = "attendance-marked"
	EventCompleted        = "drill-completed"
)

type ScheduleRequest struct {
	Title           string    `json:"title" validate:"required,max=200"`
	Description     string    `json:"description" validate:"required,max=2000"`
	Type            Type      `json:"type" validate:"required,oneof=physical virtual"`
	ScheduledAt     time.Time `json:"scheduledAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"gte=0,lte=1440"`
	TargetClasses   []string  `json:"targetClasses" validate:"min=1,dive,required"`
}

type CheckInRequest struct {
	// StudentID defaults to the caller.
	StudentID string `json:"studentId"`
	Location  string `json:"location" validate:"omitempty,max=200"`
	Device    string `json:"device" validate:"omitempty,max=200"`
}

type scheduledEvent struct {
	DrillID string `json:"drillId"`
	Drill
}

type startedEvent struct {
	DrillID string `json:"drillId"`
	Title   string `json:"title"`
}

type attendanceEvent struct {
	DrillID   string    `json:"drillId"`
	StudentID string    `json:"studentId"`
	Timestamp time.Time `json:"timestamp"`
}

type completedEvent struct {
	DrillID        string  `json:"drillId"`
	CompletionRate float64 `json:"completionRate"`
}

type Service struct {
	repo         Repository
	participants ParticipantSource
	pub          rooms.Publisher
	log          *zap.Logger
	now          func() time.Time
}

func NewService(repo Repository, participants ParticipantSource, pub rooms.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:         repo,
		participants: participants,
		pub:          pub,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Schedule(ctx context.Context, actor auth.Identity, req ScheduleRequest) (Drill, error) {
	if err := access.Require(actor, access.DrillManage); err != nil {
		return Drill{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.TargetClasses = normalizeClasses(req.TargetClasses)
	if err := validate.Struct(req); err != nil {
		return Drill{}, err
	}

	participants, err := s.participants.Participants(ctx, actor.SchoolID, req.TargetClasses)
	if err != nil {
		s.log.Error("resolve participants failed", zap.String("school", actor.SchoolID), zap.Error(err))
		return Drill{}, apperr.Internal(err)
	}
	if participants == nil {
		participants = []string{}
	}

	drill := Drill{
		ID:              uuid.NewString(),
		SchoolID:        actor.SchoolID,
		Title:           req.Title,
		Description:     req.Description,
		Type:            req.Type,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Status:          StatusScheduled,
		TargetClasses:   req.TargetClasses,
		Participants:    participants,
		Attendance:      map[string]bool{},
		CreatedBy:       actor.UserID,
		CreatedAt:       s.now(),
	}
	if err := s.repo.CreateDrill(ctx, drill); err != nil {
		s.log.Error("create drill failed", zap.String("school", actor.SchoolID), zap.Error(err))
		return Drill{}, apperr.Internal(err)
	}
	metrics.DrillTransitions.WithLabelValues(string(StatusScheduled)).Inc()
	s.log.Info("drill scheduled",
		zap.String("drill", drill.ID),
		zap.String("school", drill.SchoolID),
		zap.Int("participants", len(drill.Participants)),
	)

	s.pub.Publish(ctx, rooms.School(drill.SchoolID), EventScheduled, scheduledEvent{DrillID: drill.ID, Drill: drill})
	return drill, nil
}

func (s *Service) Start(ctx context.Context, actor auth.Identity, drillID string) (Drill, error) {
	if err := access.Require(actor, access.DrillManage); err != nil {
		return Drill{}, err
	}
	drill, err := s.repo.StartDrill(ctx, actor.SchoolID, drillID, s.now())
	if err != nil {
		return Drill{}, s.transitionError(ctx, actor.SchoolID, drillID, StatusScheduled, err)
	}
	metrics.DrillTransitions.WithLabelValues(string(StatusActive)).Inc()
	s.log.Info("drill started", zap.String("drill", drill.ID), zap.String("school", drill.SchoolID))

	s.pub.Publish(ctx, rooms.School(drill.SchoolID), EventStarted, startedEvent{DrillID: drill.ID, Title: drill.Title})
	return drill, nil
}

func (s *Service) Complete(ctx context.Context, actor auth.Identity, drillID string) (Drill, error) {
	if err := access.Require(actor, access.DrillManage); err != nil {
		return Drill{}, err
	}
	drill, err := s.repo.CompleteDrill(ctx, actor.SchoolID, drillID, s.now())
	if err != nil {
		return Drill{}, s.transitionError(ctx, actor.SchoolID, drillID, StatusActive, err)
	}
	rate := 0.0
	if drill.CompletionRate != nil {
		rate = *drill.CompletionRate
	}
	metrics.DrillTransitions.WithLabelValues(string(StatusCompleted)).Inc()
	s.log.Info("drill completed",
		zap.String("drill", drill.ID),
		zap.String("school", drill.SchoolID),
		zap.Float64("completion_rate", rate),
	)

	s.pub.Publish(ctx, rooms.School(drill.SchoolID), EventCompleted, completedEvent{DrillID: drill.ID, CompletionRate: rate})
	return drill, nil
}

// transitionError explains a failed conditional transition by reading the
// drill back.
func (s *Service) transitionError(ctx context.Context, schoolID, drillID string, want Status, err error) error {
	if errors.Is(err, apperr.ErrNoRecord) {
		return apperr.NotFound(apperr.CodeDrillNotFound, "drill not found")
	}
	if !errors.Is(err, apperr.ErrConflict) {
		s.log.Error("drill transition failed", zap.String("drill", drillID), zap.Error(err))
		return apperr.Internal(err)
	}
	current, getErr := s.repo.GetDrill(ctx, schoolID, drillID)
	if getErr != nil {
		if errors.Is(getErr, apperr.ErrNoRecord) {
			return apperr.NotFound(apperr.CodeDrillNotFound, "drill not found")
		}
		return apperr.Internal(getErr)
	}
	if want == StatusScheduled {
		return apperr.InvalidTransition(apperr.CodeDrillNotScheduled, "drill is "+string(current.Status)+", not scheduled")
	}
	return apperr.InvalidTransition(apperr.CodeDrillNotActive, "drill is "+string(current.Status)+", not active")
}

func (s *Service) CheckIn(ctx context.Context, actor auth.Identity, drillID string, req CheckInRequest) (AttendanceRecord, error) {
	if err := access.Require(actor, access.DrillCheckIn); err != nil {
		return AttendanceRecord{}, err
	}
	studentID := strings.TrimSpace(req.StudentID)
	if studentID == "" {
		studentID = actor.UserID
	}
	if studentID != actor.UserID {
		return AttendanceRecord{}, apperr.Forbidden(apperr.CodeForbidden, "students may only check themselves in")
	}
	if err := validate.Struct(req); err != nil {
		return AttendanceRecord{}, err
	}

	drill, err := s.get(ctx, actor.SchoolID, drillID)
	if err != nil {
		return AttendanceRecord{}, err
	}
	if err := checkInAllowed(drill, studentID); err != nil {
		metrics.CheckIns.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return AttendanceRecord{}, err
	}

	rec := AttendanceRecord{
		ID:         uuid.NewString(),
		DrillID:    drill.ID,
		StudentID:  studentID,
		SchoolID:   drill.SchoolID,
		RecordedAt: s.now(),
		Location:   strings.TrimSpace(req.Location),
		Device:     strings.TrimSpace(req.Device),
	}
	if _, err := s.repo.RecordCheckIn(ctx, rec); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// Lost a race: re-read to report why.
			current, getErr := s.get(ctx, actor.SchoolID, drillID)
			if getErr != nil {
				return AttendanceRecord{}, getErr
			}
			reason := checkInAllowed(current, studentID)
			if reason == nil {
				reason = apperr.AlreadyMarked("attendance already recorded")
			}
			metrics.CheckIns.WithLabelValues(string(apperr.KindOf(reason))).Inc()
			return AttendanceRecord{}, reason
		}
		if errors.Is(err, apperr.ErrNoRecord) {
			return AttendanceRecord{}, apperr.NotFound(apperr.CodeDrillNotFound, "drill not found")
		}
		s.log.Error("check-in failed", zap.String("drill", drillID), zap.Error(err))
		return AttendanceRecord{}, apperr.Internal(err)
	}
	metrics.CheckIns.WithLabelValues("ok").Inc()

	s.pub.Publish(ctx, rooms.School(drill.SchoolID), EventAttendanceMarked, attendanceEvent{
		DrillID:   drill.ID,
		StudentID: studentID,
		Timestamp: rec.RecordedAt,
	})
	return rec, nil
}

func checkInAllowed(d Drill, studentID string) error {
	if d.Status != StatusActive {
		return apperr.InvalidTransition(apperr.CodeDrillNotActive, "drill is "+string(d.Status)+", not active")
	}
	if !d.IsParticipant(studentID) {
		return apperr.Forbidden(apperr.CodeNotParticipant, "student is not a participant of this drill")
	}
	if _, marked := d.Attendance[studentID]; marked {
		return apperr.AlreadyMarked("attendance already recorded")
	}
	return nil
}

// Override sets a participant's attendance on behalf of staff. It is accepted
// until the drill completes.
func (s *Service) Override(ctx context.Context, actor auth.Identity, drillID, studentID string, attended bool) (Drill, error) {
	if err := access.Require(actor, access.DrillOverride); err != nil {
		return Drill{}, err
	}
	drill, err := s.get(ctx, actor.SchoolID, drillID)
	if err != nil {
		return Drill{}, err
	}
	if err := overrideAllowed(drill, studentID); err != nil {
		return Drill{}, err
	}
	updated, err := s.repo.OverrideAttendance(ctx, actor.SchoolID, drillID, studentID, attended)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			current, getErr := s.get(ctx, actor.SchoolID, drillID)
			if getErr != nil {
				return Drill{}, getErr
			}
			if reason := overrideAllowed(current, studentID); reason != nil {
				return Drill{}, reason
			}
			return Drill{}, apperr.InvalidTransition(apperr.CodeDrillChanged, "drill changed during the update, retry")
		}
		if errors.Is(err, apperr.ErrNoRecord) {
			return Drill{}, apperr.NotFound(apperr.CodeDrillNotFound, "drill not found")
		}
		s.log.Error("attendance override failed", zap.String("drill", drillID), zap.Error(err))
		return Drill{}, apperr.Internal(err)
	}
	s.log.Info("attendance overridden",
		zap.String("drill", drillID),
		zap.String("student", studentID),
		zap.Bool("attended", attended),
		zap.String("by", actor.UserID),
	)
	return updated, nil
}

func overrideAllowed(d Drill, studentID string) error {
	if d.Status == StatusCompleted {
		return apperr.InvalidTransition(apperr.CodeDrillCompleted, "drill is completed")
	}
	if !d.IsParticipant(studentID) {
		return apperr.Forbidden(apperr.CodeNotParticipant, "student is not a participant of this drill")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, drillID string) (Drill, error) {
	if err := access.Require(actor, access.DrillView); err != nil {
		return Drill{}, err
	}
	return s.get(ctx, actor.SchoolID, drillID)
}

func (s *Service) List(ctx context.Context, actor auth.Identity, status Status) ([]Drill, error) {
	if err := access.Require(actor, access.DrillView); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("invalid status filter", map[string]string{"status": "must be one of scheduled active completed"})
	}
	drills, err := s.repo.ListDrills(ctx, actor.SchoolID, status)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if actor.Role != auth.RoleStudent {
		return drills, nil
	}
	mine := make([]Drill, 0, len(drills))
	for _, d := range drills {
		if d.IsParticipant(actor.UserID) {
			mine = append(mine, d)
		}
	}
	return mine, nil
}

func (s *Service) Records(ctx context.Context, actor auth.Identity, drillID string) ([]AttendanceRecord, error) {
	if err := access.Require(actor, access.DrillRecords); err != nil {
		return nil, err
	}
	if _, err := s.get(ctx, actor.SchoolID, drillID); err != nil {
		return nil, err
	}
	records, err := s.repo.ListAttendanceRecords(ctx, actor.SchoolID, drillID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return records, nil
}

func (s *Service) get(ctx context.Context, schoolID, drillID string) (Drill, error) {
	drill, err := s.repo.GetDrill(ctx, schoolID, drillID)
	if err != nil {
		if errors.Is(err, apperr.ErrNoRecord) {
			return Drill{}, apperr.NotFound(apperr.CodeDrillNotFound, "drill not found")
		}
		return Drill{}, apperr.Internal(err)
	}
	return drill, nil
}

func normalizeClasses(classes []string) []string {
	out := make([]string, 0, len(classes))
	seen := make(map[string]bool, len(classes))
	for _, c := range classes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
