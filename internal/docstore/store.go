// Package docstore is the MongoDB backend. Each collection is written with
// single-document conditional updates, so every operation is consistent on
// its own without multi-document transactions.
package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"jagruk/preparedness/internal/apperr"
)

const (
	colStudents    = "students"
	colDrills      = "drills"
	colRecords     = "attendance_records"
	colAlerts      = "alerts"
	colCompletions = "module_completions"
)

type Store struct {
	db          *mongo.Database
	students    *mongo.Collection
	drills      *mongo.Collection
	records     *mongo.Collection
	alerts      *mongo.Collection
	completions *mongo.Collection
}

// Connect dials the cluster and verifies it answers.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}
	return client, nil
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:          db,
		students:    db.Collection(colStudents),
		drills:      db.Collection(colDrills),
		records:     db.Collection(colRecords),
		alerts:      db.Collection(colAlerts),
		completions: db.Collection(colCompletions),
	}
}

// EnsureIndexes creates the unique keys the conditional writes rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := map[*mongo.Collection][]mongo.IndexModel{
		s.students: {
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "class_id", Value: 1}}},
		},
		s.drills: {
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "status", Value: 1}, {Key: "scheduled_at", Value: 1}}},
		},
		s.records: {
			{Keys: bson.D{{Key: "drill_id", Value: 1}, {Key: "student_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "drill_id", Value: 1}, {Key: "recorded_at", Value: 1}}},
		},
		s.alerts: {
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		s.completions: {
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "student_id", Value: 1}, {Key: "module_id", Value: 1}}, Options: unique},
		},
	}
	for col, models := range specs {
		if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes on %s", col.Name())
		}
	}
	return nil
}

func noDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.ErrNoRecord
	}
	return err
}

// conflictOrMissing classifies a conditional update that matched nothing.
func conflictOrMissing(ctx context.Context, col *mongo.Collection, schoolID, id string) error {
	n, err := col.CountDocuments(ctx, bson.M{"school_id": schoolID, "id": id}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNoRecord
	}
	return apperr.ErrConflict
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
