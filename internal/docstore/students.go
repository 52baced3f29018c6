package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/roster"
)

type studentDoc struct {
	SchoolID  string    `bson:"school_id"`
	ID        string    `bson:"id"`
	ClassID   string    `bson:"class_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d studentDoc) student() roster.Student {
	return roster.Student{
		ID:        d.ID,
		SchoolID:  d.SchoolID,
		ClassID:   d.ClassID,
		Name:      d.Name,
		Email:     d.Email,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func (s *Store) CreateStudent(ctx context.Context, st roster.Student) error {
	_, err := s.students.InsertOne(ctx, studentDoc{
		SchoolID:  st.SchoolID,
		ID:        st.ID,
		ClassID:   st.ClassID,
		Name:      st.Name,
		Email:     st.Email,
		CreatedAt: st.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrConflict
	}
	return errors.Wrap(err, "insert student")
}

func (s *Store) GetStudent(ctx context.Context, schoolID, studentID string) (roster.Student, error) {
	var doc studentDoc
	err := s.students.FindOne(ctx, bson.M{"school_id": schoolID, "id": studentID}).Decode(&doc)
	if err != nil {
		return roster.Student{}, errors.Wrap(noDocuments(err), "get student")
	}
	return doc.student(), nil
}

func (s *Store) ListStudents(ctx context.Context, schoolID, classID string) ([]roster.Student, error) {
	filter := bson.M{"school_id": schoolID}
	if classID != "" {
		filter["class_id"] = classID
	}
	return s.findStudents(ctx, filter)
}

func (s *Store) ListStudentsInClasses(ctx context.Context, schoolID string, classIDs []string) ([]roster.Student, error) {
	if len(classIDs) == 0 {
		return []roster.Student{}, nil
	}
	return s.findStudents(ctx, bson.M{"school_id": schoolID, "class_id": bson.M{"$in": classIDs}})
}

func (s *Store) findStudents(ctx context.Context, filter bson.M) ([]roster.Student, error) {
	opts := options.Find().SetSort(bson.D{{Key: "class_id", Value: 1}, {Key: "name", Value: 1}, {Key: "id", Value: 1}})
	cursor, err := s.students.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find students")
	}
	defer cursor.Close(ctx)
	out := []roster.Student{}
	for cursor.Next(ctx) {
		var doc studentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode student")
		}
		out = append(out, doc.student())
	}
	return out, errors.Wrap(cursor.Err(), "iterate students")
}
