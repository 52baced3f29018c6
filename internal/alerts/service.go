// Package alerts runs the alert lifecycle. An alert is active from the moment
// it is sent until it is dismissed, by staff or by expiry.
package alerts

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
	EventSchoolAlert        = "school-alert"
	EventEmergencyBroadcast = "emergency-broadcast"
	EventDismissed          = "alert-dismissed"
)

type SendRequest struct {
	Title     string     `json:"title" validate:"required,max=200"`
	Message   string     `json:"message" validate:"required,max=4000"`
	Priority  Priority   `json:"priority" validate:"required,oneof=low medium high critical"`
	Audience  Audience   `json:"audience" validate:"omitempty,oneof=all students staff class"`
	ClassID   string     `json:"classId" validate:"required_if=Audience class,max=128"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type schoolAlertEvent struct {
	AlertID  string   `json:"alertId"`
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
	Message  string   `json:"message"`
	Audience Audience `json:"audience"`
}

type emergencyEvent struct {
	AlertID string `json:"alertId"`
	Message string `json:"message"`
}

type dismissedEvent struct {
	AlertID string `json:"alertId"`
}

type Service struct {
	repo     Repository
	pub      rooms.Publisher
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService builds the alert service. notifier may be nil.
func NewService(repo Repository, pub rooms.Publisher, notifier Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		pub:      pub,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Send(ctx context.Context, actor auth.Identity, req SendRequest) (Alert, error) {
	if err := access.Require(actor, access.AlertSend); err != nil {
		return Alert{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	req.ClassID = strings.TrimSpace(req.ClassID)
	if req.Audience == "" {
		req.Audience = AudienceAll
	}
	if err := validate.Struct(req); err != nil {
		return Alert{}, err
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return Alert{}, apperr.Validation("request validation failed", map[string]string{"expiresAt": "must be in the future"})
	}

	alert := Alert{
		ID:        uuid.NewString(),
		SchoolID:  actor.SchoolID,
		Title:     req.Title,
		Message:   req.Message,
		Priority:  req.Priority,
		Audience:  req.Audience,
		Active:    true,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		ReadBy:    []string{},
	}
	if req.Audience == AudienceClass {
		alert.ClassID = req.ClassID
	}
	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC()
		alert.ExpiresAt = &expires
	}
	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		s.log.Error("create alert failed", zap.String("school", actor.SchoolID), zap.Error(err))
		return Alert{}, apperr.Internal(err)
	}
	metrics.Alerts.WithLabelValues("sent", string(alert.Priority)).Inc()
	s.log.Info("alert sent",
		zap.String("alert", alert.ID),
		zap.String("school", alert.SchoolID),
		zap.String("priority", string(alert.Priority)),
		zap.String("room", alert.Room().String()),
	)

	room := alert.Room()
	s.pub.Publish(ctx, room, EventSchoolAlert, schoolAlertEvent{
		AlertID:  alert.ID,
		Title:    alert.Title,
		Priority: alert.Priority,
		Message:  alert.Message,
		Audience: alert.Audience,
	})
	if alert.Priority == PriorityCritical {
		s.pub.Publish(ctx, room, EventEmergencyBroadcast, emergencyEvent{AlertID: alert.ID, Message: alert.Message})
	}
	if s.notifier != nil && (alert.Priority == PriorityCritical || alert.Priority == PriorityHigh) {
		s.notifier.AlertSent(ctx, alert)
	}
	return alert, nil
}

func (s *Service) MarkRead(ctx context.Context, actor auth.Identity, alertID string) (Alert, error) {
	if err := access.Require(actor, access.AlertRead); err != nil {
		return Alert{}, err
	}
	if _, err := s.visible(ctx, actor, alertID); err != nil {
		return Alert{}, err
	}
	alert, err := s.repo.AddReader(ctx, actor.SchoolID, alertID, actor.UserID)
	if err != nil {
		return Alert{}, s.storeError(alertID, err)
	}
	return alert, nil
}

func (s *Service) Dismiss(ctx context.Context, actor auth.Identity, alertID string) (Alert, error) {
	if err := access.Require(actor, access.AlertDismiss); err != nil {
		return Alert{}, err
	}
	return s.dismiss(ctx, actor, alertID, "dismissed")
}

func (s *Service) dismiss(ctx context.Context, actor auth.Identity, alertID, action string) (Alert, error) {
	alert, err := s.repo.DismissAlert(ctx, actor.SchoolID, alertID, actor.UserID, s.now())
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Alert{}, apperr.InvalidTransition(apperr.CodeAlertDismissed, "alert already dismissed")
		}
		return Alert{}, s.storeError(alertID, err)
	}
	metrics.Alerts.WithLabelValues(action, string(alert.Priority)).Inc()
	s.log.Info("alert "+action,
		zap.String("alert", alert.ID),
		zap.String("school", alert.SchoolID),
		zap.String("by", actor.UserID),
	)

	s.pub.Publish(ctx, alert.Room(), EventDismissed, dismissedEvent{AlertID: alert.ID})
	return alert, nil
}

// ExpireDue dismisses every active alert whose expiry has passed. Alerts that
// were dismissed concurrently are skipped.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	expired := 0
	for _, a := range due {
		actor := auth.SystemIdentity(a.SchoolID)
		if err := access.Require(actor, access.AlertExpire); err != nil {
			return expired, err
		}
		if _, err := s.dismiss(ctx, actor, a.ID, "expired"); err != nil {
			if apperr.Is(err, apperr.KindInvalidStateTransition) || apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Identity, alertID string) (Alert, error) {
	if err := access.Require(actor, access.AlertRead); err != nil {
		return Alert{}, err
	}
	return s.visible(ctx, actor, alertID)
}

// visible loads the alert and hides it from identities outside its audience.
func (s *Service) visible(ctx context.Context, actor auth.Identity, alertID string) (Alert, error) {
	alert, err := s.repo.GetAlert(ctx, actor.SchoolID, alertID)
	if err != nil {
		return Alert{}, s.storeError(alertID, err)
	}
	if !VisibleTo(alert, actor) {
		return Alert{}, apperr.NotFound(apperr.CodeAlertNotFound, "alert not found")
	}
	return alert, nil
}

func (s *Service) List(ctx context.Context, actor auth.Identity, activeOnly bool) ([]Alert, error) {
	if err := access.Require(actor, access.AlertRead); err != nil {
		return nil, err
	}
	alerts, err := s.repo.ListAlerts(ctx, actor.SchoolID, activeOnly)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if actor.Role != auth.RoleStudent {
		return alerts, nil
	}
	visible := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		if VisibleTo(a, actor) {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

// VisibleTo reports whether the alert targets the identity.
func VisibleTo(a Alert, id auth.Identity) bool {
	switch a.Audience {
	case AudienceStaff:
		return id.IsStaff()
	case AudienceStudents:
		return id.Role == auth.RoleStudent || id.IsStaff()
	case AudienceClass:
		return id.IsStaff() || id.ClassID == a.ClassID
	}
	return true
}

func (s *Service) storeError(alertID string, err error) error {
	if errors.Is(err, apperr.ErrNoRecord) {
		return apperr.NotFound(apperr.CodeAlertNotFound, "alert not found")
	}
	s.log.Error("alert store failed", zap.String("alert", alertID), zap.Error(err))
	return apperr.Internal(err)
}
