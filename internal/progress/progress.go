// Package progress records learning module completions and announces them to
// the school room.
package progress

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"jagruk/preparedness/internal/access"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/metrics"
	"jagruk/preparedness/internal/rooms"
	"jagruk/preparedness/internal/validate"
)

const EventModuleCompleted = "module-completed"

// Completion is one per school, student and module. Completing a module again
// keeps the best score and the latest time.
type Completion struct {
	SchoolID    string    `json:"schoolId"`
	StudentID   string    `json:"studentId"`
	ModuleID    string    `json:"moduleId"`
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}

type Repository interface {
	// RecordCompletion upserts c and returns the stored row.
	RecordCompletion(ctx context.Context, c Completion) (Completion, error)
	ListCompletions(ctx context.Context, schoolID, studentID string) ([]Completion, error)
}

// Names resolves a student's display name.
type Names interface {
	DisplayName(ctx context.Context, schoolID, studentID, fallback string) string
}

type CompleteRequest struct {
	Score int `json:"score" validate:"gte=0,lte=100"`
}

type completedEvent struct {
	StudentID   string `json:"studentId"`
	ModuleID    string `json:"moduleId"`
	Score       int    `json:"score"`
	StudentName string `json:"studentName"`
}

type Service struct {
	repo  Repository
	names Names
	pub   rooms.Publisher
	log   *zap.Logger
	now   func() time.Time
}

func NewService(repo Repository, names Names, pub rooms.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, names: names, pub: pub, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Complete(ctx context.Context, actor auth.Identity, moduleID string, req CompleteRequest) (Completion, error) {
	if err := access.Require(actor, access.ModuleRecord); err != nil {
		return Completion{}, err
	}
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return Completion{}, apperr.Validation("request validation failed", map[string]string{"moduleId": "this field is required"})
	}
	if err := validate.Struct(req); err != nil {
		return Completion{}, err
	}
	stored, err := s.repo.RecordCompletion(ctx, Completion{
		SchoolID:    actor.SchoolID,
		StudentID:   actor.UserID,
		ModuleID:    moduleID,
		Score:       req.Score,
		CompletedAt: s.now(),
	})
	if err != nil {
		s.log.Error("record completion failed", zap.String("student", actor.UserID), zap.Error(err))
		return Completion{}, apperr.Internal(err)
	}
	metrics.ModuleCompletions.Inc()

	name := actor.Name
	if s.names != nil {
		name = s.names.DisplayName(ctx, actor.SchoolID, actor.UserID, actor.Name)
	}
	s.pub.Publish(ctx, rooms.School(actor.SchoolID), EventModuleCompleted, completedEvent{
		StudentID:   actor.UserID,
		ModuleID:    moduleID,
		Score:       req.Score,
		StudentName: name,
	})
	return stored, nil
}

func (s *Service) List(ctx context.Context, actor auth.Identity, studentID string) ([]Completion, error) {
	if err := access.RequireSelfOrStaff(actor, access.ModuleView, studentID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListCompletions(ctx, actor.SchoolID, studentID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}
