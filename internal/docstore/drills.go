package docstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/drills"
)

// Attendance is stored as an array so student ids never become field names.
type attendanceEntry struct {
	StudentID string `bson:"student_id"`
	Present   bool   `bson:"present"`
}

type drillDoc struct {
	SchoolID        string            `bson:"school_id"`
	ID              string            `bson:"id"`
	Title           string            `bson:"title"`
	Description     string            `bson:"description"`
	Type            string            `bson:"type"`
	ScheduledAt     time.Time         `bson:"scheduled_at"`
	DurationMinutes int               `bson:"duration_minutes"`
	Status          string            `bson:"status"`
	TargetClasses   []string          `bson:"target_classes"`
	Participants    []string          `bson:"participants"`
	Attendance      []attendanceEntry `bson:"attendance"`
	CreatedBy       string            `bson:"created_by"`
	CreatedAt       time.Time         `bson:"created_at"`
	StartedAt       *time.Time        `bson:"started_at,omitempty"`
	CompletedAt     *time.Time        `bson:"completed_at,omitempty"`
	CompletionRate  *float64          `bson:"completion_rate,omitempty"`
}

func toDrillDoc(d drills.Drill) drillDoc {
	doc := drillDoc{
		SchoolID:        d.SchoolID,
		ID:              d.ID,
		Title:           d.Title,
		Description:     d.Description,
		Type:            string(d.Type),
		ScheduledAt:     d.ScheduledAt,
		DurationMinutes: d.DurationMinutes,
		Status:          string(d.Status),
		TargetClasses:   append([]string{}, d.TargetClasses...),
		Participants:    append([]string{}, d.Participants...),
		Attendance:      []attendanceEntry{},
		CreatedBy:       d.CreatedBy,
		CreatedAt:       d.CreatedAt,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
		CompletionRate:  d.CompletionRate,
	}
	for id, present := range d.Attendance {
		doc.Attendance = append(doc.Attendance, attendanceEntry{StudentID: id, Present: present})
	}
	return doc
}

func (doc drillDoc) drill() drills.Drill {
	d := drills.Drill{
		ID:              doc.ID,
		SchoolID:        doc.SchoolID,
		Title:           doc.Title,
		Description:     doc.Description,
		Type:            drills.Type(doc.Type),
		ScheduledAt:     doc.ScheduledAt.UTC(),
		DurationMinutes: doc.DurationMinutes,
		Status:          drills.Status(doc.Status),
		TargetClasses:   doc.TargetClasses,
		Participants:    doc.Participants,
		Attendance:      make(map[string]bool, len(doc.Attendance)),
		CreatedBy:       doc.CreatedBy,
		CreatedAt:       doc.CreatedAt.UTC(),
		StartedAt:       utcPtr(doc.StartedAt),
		CompletedAt:     utcPtr(doc.CompletedAt),
		CompletionRate:  doc.CompletionRate,
	}
	if d.Participants == nil {
		d.Participants = []string{}
	}
	for _, e := range doc.Attendance {
		d.Attendance[e.StudentID] = e.Present
	}
	return d
}

type recordDoc struct {
	ID         string    `bson:"id"`
	DrillID    string    `bson:"drill_id"`
	StudentID  string    `bson:"student_id"`
	SchoolID   string    `bson:"school_id"`
	RecordedAt time.Time `bson:"recorded_at"`
	Location   string    `bson:"location,omitempty"`
	Device     string    `bson:"device,omitempty"`
}

func (s *Store) CreateDrill(ctx context.Context, d drills.Drill) error {
	_, err := s.drills.InsertOne(ctx, toDrillDoc(d))
	if mongo.IsDuplicateKeyError(err) {
		return apperr.ErrConflict
	}
	return errors.Wrap(err, "insert drill")
}

func (s *Store) GetDrill(ctx context.Context, schoolID, drillID string) (drills.Drill, error) {
	var doc drillDoc
	err := s.drills.FindOne(ctx, bson.M{"school_id": schoolID, "id": drillID}).Decode(&doc)
	if err != nil {
		return drills.Drill{}, errors.Wrap(noDocuments(err), "get drill")
	}
	return doc.drill(), nil
}

func (s *Store) ListDrills(ctx context.Context, schoolID string, status drills.Status) ([]drills.Drill, error) {
	filter := bson.M{"school_id": schoolID}
	if status != "" {
		filter["status"] = string(status)
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}, {Key: "id", Value: 1}})
	cursor, err := s.drills.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find drills")
	}
	defer cursor.Close(ctx)
	out := []drills.Drill{}
	for cursor.Next(ctx) {
		var doc drillDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode drill")
		}
		out = append(out, doc.drill())
	}
	return out, errors.Wrap(cursor.Err(), "iterate drills")
}

// updateDrill applies a conditional update. filter is merged with the drill key.
func (s *Store) updateDrill(ctx context.Context, schoolID, drillID string, filter bson.M, update any) (drills.Drill, error) {
	filter["school_id"] = schoolID
	filter["id"] = drillID
	var doc drillDoc
	err := s.drills.FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(&doc)
	if err == nil {
		return doc.drill(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return drills.Drill{}, err
	}
	return drills.Drill{}, conflictOrMissing(ctx, s.drills, schoolID, drillID)
}

func (s *Store) StartDrill(ctx context.Context, schoolID, drillID string, at time.Time) (drills.Drill, error) {
	d, err := s.updateDrill(ctx, schoolID, drillID,
		bson.M{"status": string(drills.StatusScheduled)},
		bson.M{"$set": bson.M{"status": string(drills.StatusActive), "started_at": at}},
	)
	return d, errors.Wrap(err, "start drill")
}

func (s *Store) CompleteDrill(ctx context.Context, schoolID, drillID string, at time.Time) (drills.Drill, error) {
	present := bson.M{"$size": bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$attendance", bson.A{}}},
		"cond":  "$$this.present",
	}}}
	participants := bson.M{"$size": bson.M{"$ifNull": bson.A{"$participants", bson.A{}}}}
	rate := bson.M{"$cond": bson.A{
		bson.M{"$eq": bson.A{participants, 0}},
		0.0,
		bson.M{"$divide": bson.A{present, participants}},
	}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"status":          string(drills.StatusCompleted),
			"completed_at":    at,
			"completion_rate": rate,
		}}},
	}
	d, err := s.updateDrill(ctx, schoolID, drillID, bson.M{"status": string(drills.StatusActive)}, pipeline)
	return d, errors.Wrap(err, "complete drill")
}

// RecordCheckIn pushes the attendance entry with a conditional update, then
// appends the record. If the record insert fails the entry is pulled back.
func (s *Store) RecordCheckIn(ctx context.Context, rec drills.AttendanceRecord) (drills.Drill, error) {
	d, err := s.updateDrill(ctx, rec.SchoolID, rec.DrillID,
		bson.M{
			"status":                string(drills.StatusActive),
			"participants":          rec.StudentID,
			"attendance.student_id": bson.M{"$ne": rec.StudentID},
		},
		bson.M{"$push": bson.M{"attendance": attendanceEntry{StudentID: rec.StudentID, Present: true}}},
	)
	if err != nil {
		return drills.Drill{}, errors.Wrap(err, "record check-in")
	}

	_, err = s.records.InsertOne(ctx, recordDoc{
		ID:         rec.ID,
		DrillID:    rec.DrillID,
		StudentID:  rec.StudentID,
		SchoolID:   rec.SchoolID,
		RecordedAt: rec.RecordedAt,
		Location:   rec.Location,
		Device:     rec.Device,
	})
	if err == nil {
		return d, nil
	}
	_, undoErr := s.drills.UpdateOne(ctx,
		bson.M{"school_id": rec.SchoolID, "id": rec.DrillID},
		bson.M{"$pull": bson.M{"attendance": bson.M{"student_id": rec.StudentID}}},
	)
	if undoErr != nil {
		return drills.Drill{}, errors.Wrapf(err, "insert attendance record (undo failed: %v)", undoErr)
	}
	if mongo.IsDuplicateKeyError(err) {
		return drills.Drill{}, apperr.ErrConflict
	}
	return drills.Drill{}, errors.Wrap(err, "insert attendance record")
}

func (s *Store) OverrideAttendance(ctx context.Context, schoolID, drillID, studentID string, attended bool) (drills.Drill, error) {
	// Student ids are wrapped in $literal so a leading '$' is never read as a
	// field path.
	id := bson.M{"$literal": studentID}
	others := bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$attendance", bson.A{}}},
		"cond":  bson.M{"$ne": bson.A{"$$this.student_id", id}},
	}}
	entry := bson.A{bson.M{"student_id": id, "present": attended}}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"attendance": bson.M{"$concatArrays": bson.A{others, entry}}}}},
	}
	d, err := s.updateDrill(ctx, schoolID, drillID,
		bson.M{
			"status":       bson.M{"$ne": string(drills.StatusCompleted)},
			"participants": studentID,
		},
		pipeline,
	)
	return d, errors.Wrap(err, "override attendance")
}

func (s *Store) ListAttendanceRecords(ctx context.Context, schoolID, drillID string) ([]drills.AttendanceRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}, {Key: "id", Value: 1}})
	cursor, err := s.records.Find(ctx, bson.M{"school_id": schoolID, "drill_id": drillID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find attendance records")
	}
	defer cursor.Close(ctx)
	out := []drills.AttendanceRecord{}
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode attendance record")
		}
		out = append(out, drills.AttendanceRecord{
			ID:         doc.ID,
			DrillID:    doc.DrillID,
			StudentID:  doc.StudentID,
			SchoolID:   doc.SchoolID,
			RecordedAt: doc.RecordedAt.UTC(),
			Location:   doc.Location,
			Device:     doc.Device,
		})
	}
	return out, errors.Wrap(cursor.Err(), "iterate attendance records")
}
