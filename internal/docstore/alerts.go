package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
)

type alertDoc struct {
	SchoolID    string     `bson:"school_id"`
	ID          string     `bson:"id"`
	Title       string     `bson:"title"`
	Message     string     `bson:"message"`
	Priority    string     `bson:"priority"`
	Audience    string     `bson:"audience"`
	ClassID     string     `bson:"class_id,omitempty"`
	Active      bool       `bson:"active"`
	CreatedBy   string     `bson:"created_by"`
	CreatedAt   time.Time  `bson:"created_at"`
	ExpiresAt   *time.Time `bson:"expires_at,omitempty"`
	ReadBy      []string   `bson:"read_by"`
	DismissedAt *time.Time `bson:"dismissed_at,omitempty"`
	DismissedBy string     `bson:"dismissed_by,omitempty"`
}

func (doc alertDoc) alert() alerts.Alert {
	a := alerts.Alert{
		ID:          doc.ID,
		SchoolID:    doc.SchoolID,
		Title:       doc.Title,
		Message:     doc.Message,
		Priority:    alerts.Priority(doc.Priority),
		Audience:    alerts.Audience(doc.Audience),
		ClassID:     doc.ClassID,
		Active:      doc.Active,
		CreatedBy:   doc.CreatedBy,
		CreatedAt:   doc.CreatedAt.UTC(),
		ExpiresAt:   utcPtr(doc.ExpiresAt),
		ReadBy:      doc.ReadBy,
		DismissedAt: utcPtr(doc.DismissedAt),
		DismissedBy: doc.DismissedBy,
	}
	if a.ReadBy == nil {
		a.ReadBy = []string{}
	}
	return a
}

func (s *Store) CreateAlert(ctx context.Context, a alerts.Alert) error {
	_, err := s.alerts.InsertOne(ctx, alertDoc{
		SchoolID:  a.SchoolID,
		ID:        a.ID,
		Title:     a.Title,
		Message:   a.Message,
		Priority:  string(a.Priority),
		Audience:  string(a.Audience),
		ClassID:   a.ClassID,
		Active:    a.Active,
		CreatedBy: a.CreatedBy,
		CreatedAt: a.CreatedAt,
		ExpiresAt: a.ExpiresAt,
		ReadBy:    append([]string{}, a.ReadBy...),
	})
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrConflict
	}
	return errors.Wrap(err, "insert alert")
}

func (s *Store) GetAlert(ctx context.Context, schoolID, alertID string) (alerts.Alert, error) {
	var doc alertDoc
	err := s.alerts.FindOne(ctx, bson.M{"school_id": schoolID, "id": alertID}).Decode(&doc)
	if err != nil {
		return alerts.Alert{}, errors.Wrap(noDocuments(err), "get alert")
	}
	return doc.alert(), nil
}

func (s *Store) ListAlerts(ctx context.Context, schoolID string, activeOnly bool) ([]alerts.Alert, error) {
	filter := bson.M{"school_id": schoolID}
	if activeOnly {
		filter["active"] = true
	}
	return s.findAlerts(ctx, filter, bson.D{{Key: "created_at", Value: -1}, {Key: "id", Value: 1}})
}

func (s *Store) AddReader(ctx context.Context, schoolID, alertID, userID string) (alerts.Alert, error) {
	var doc alertDoc
	err := s.alerts.FindOneAndUpdate(ctx,
		bson.M{"school_id": schoolID, "id": alertID},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
		afterUpdate(),
	).Decode(&doc)
	if err != nil {
		return alerts.Alert{}, errors.Wrap(noDocuments(err), "add alert reader")
	}
	return doc.alert(), nil
}

func (s *Store) DismissAlert(ctx context.Context, schoolID, alertID, by string, at time.Time) (alerts.Alert, error) {
	var doc alertDoc
	err := s.alerts.FindOneAndUpdate(ctx,
		bson.M{"school_id": schoolID, "id": alertID, "active": true},
		bson.M{"$set": bson.M{"active": false, "dismissed_at": at, "dismissed_by": by}},
		afterUpdate(),
	).Decode(&doc)
	if err == nil {
		return doc.alert(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return alerts.Alert{}, errors.Wrap(err, "dismiss alert")
	}
	return alerts.Alert{}, errors.Wrap(conflictOrMissing(ctx, s.alerts, schoolID, alertID), "dismiss alert")
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]alerts.Alert, error) {
	return s.findAlerts(ctx,
		bson.M{"active": true, "expires_at": bson.M{"$lte": now}},
		bson.D{{Key: "expires_at", Value: 1}, {Key: "id", Value: 1}},
	)
}

func (s *Store) findAlerts(ctx context.Context, filter bson.M, sort bson.D) ([]alerts.Alert, error) {
	cursor, err := s.alerts.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, errors.Wrap(err, "find alerts")
	}
	defer cursor.Close(ctx)
	out := []alerts.Alert{}
	for cursor.Next(ctx) {
		var doc alertDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode alert")
		}
		out = append(out, doc.alert())
	}
	return out, errors.Wrap(cursor.Err(), "iterate alerts")
}
