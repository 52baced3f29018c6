// Package roster keeps the students of each school. Drills resolve their
// participants from it and progress events use it to name students.
package roster

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
	"jagruk/preparedness/internal/validate"
)

type Student struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"schoolId"`
	ClassID   string    `json:"classId"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository returns apperr.ErrNoRecord for unknown students and
// apperr.ErrConflict when a student id is already taken in the school.
type Repository interface {
	CreateStudent(ctx context.Context, s Student) error
	GetStudent(ctx context.Context, schoolID, studentID string) (Student, error)
	ListStudents(ctx context.Context, schoolID, classID string) ([]Student, error)
	ListStudentsInClasses(ctx context.Context, schoolID string, classIDs []string) ([]Student, error)
}

type CreateRequest struct {
	// ID is the user id the identity provider issues to the student. A new id
	// is generated when empty.
	ID      string `json:"id" validate:"omitempty,max=128"`
	ClassID string `json:"classId" validate:"required,max=128"`
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email"`
}

type Service struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Create(ctx context.Context, actor auth.Identity, req CreateRequest) (Student, error) {
	if err := access.Require(actor, access.RosterManage); err != nil {
		return Student{}, err
	}
	req.ID = strings.TrimSpace(req.ID)
	req.ClassID = strings.TrimSpace(req.ClassID)
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return Student{}, err
	}
	student := Student{
		ID:        req.ID,
		SchoolID:  actor.SchoolID,
		ClassID:   req.ClassID,
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: s.now(),
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if err := s.repo.CreateStudent(ctx, student); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Student{}, apperr.New(apperr.KindValidationFailed, apperr.CodeStudentExists, "student %s already exists", student.ID)
		}
		s.log.Error("create student failed", zap.String("school", actor.SchoolID), zap.Error(err))
		return Student{}, apperr.Internal(err)
	}
	return student, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, studentID string) (Student, error) {
	// Students lack roster:view but may read their own record.
	if actor.Role != auth.RoleStudent || actor.UserID != studentID {
		if err := access.Require(actor, access.RosterView); err != nil {
			return Student{}, err
		}
	}
	student, err := s.repo.GetStudent(ctx, actor.SchoolID, studentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNoRecord) {
			return Student{}, apperr.NotFound(apperr.CodeStudentNotFound, "student not found")
		}
		return Student{}, apperr.Internal(err)
	}
	return student, nil
}

func (s *Service) List(ctx context.Context, actor auth.Identity, classID string) ([]Student, error) {
	if err := access.Require(actor, access.RosterView); err != nil {
		return nil, err
	}
	students, err := s.repo.ListStudents(ctx, actor.SchoolID, strings.TrimSpace(classID))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return students, nil
}

// Participants returns the ids of the students enrolled in any of the classes.
func (s *Service) Participants(ctx context.Context, schoolID string, classIDs []string) ([]string, error) {
	students, err := s.repo.ListStudentsInClasses(ctx, schoolID, classIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(students))
	seen := make(map[string]bool, len(students))
	for _, st := range students {
		if seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		ids = append(ids, st.ID)
	}
	return ids, nil
}

// DisplayName returns the roster name of the student, or fallback when the
// student is not on the roster.
func (s *Service) DisplayName(ctx context.Context, schoolID, studentID, fallback string) string {
	student, err := s.repo.GetStudent(ctx, schoolID, studentID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNoRecord) {
			s.log.Warn("student lookup failed", zap.String("student", studentID), zap.Error(err))
		}
		return fallback
	}
	return student.Name
}
