package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jagruk/preparedness/internal/progress"
)

type completionDoc struct {
	SchoolID    string    `bson:"school_id"`
	StudentID   string    `bson:"student_id"`
	ModuleID    string    `bson:"module_id"`
	Score       int       `bson:"score"`
	CompletedAt time.Time `bson:"completed_at"`
}

func (doc completionDoc) completion() progress.Completion {
	return progress.Completion{
		SchoolID:    doc.SchoolID,
		StudentID:   doc.StudentID,
		ModuleID:    doc.ModuleID,
		Score:       doc.Score,
		CompletedAt: doc.CompletedAt.UTC(),
	}
}

func (s *Store) RecordCompletion(ctx context.Context, c progress.Completion) (progress.Completion, error) {
	var doc completionDoc
	err := s.completions.FindOneAndUpdate(ctx,
		bson.M{"school_id": c.SchoolID, "student_id": c.StudentID, "module_id": c.ModuleID},
		bson.M{"$max": bson.M{"score": c.Score, "completed_at": c.CompletedAt}},
		afterUpdate().SetUpsert(true),
	).Decode(&doc)
	if err != nil {
		return progress.Completion{}, errors.Wrap(err, "record completion")
	}
	return doc.completion(), nil
}

func (s *Store) ListCompletions(ctx context.Context, schoolID, studentID string) ([]progress.Completion, error) {
	cursor, err := s.completions.Find(ctx,
		bson.M{"school_id": schoolID, "student_id": studentID},
		options.Find().SetSort(bson.D{{Key: "module_id", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find completions")
	}
	defer cursor.Close(ctx)
	out := []progress.Completion{}
	for cursor.Next(ctx) {
		var doc completionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode completion")
		}
		out = append(out, doc.completion())
	}
	return out, errors.Wrap(cursor.Err(), "iterate completions")
}
