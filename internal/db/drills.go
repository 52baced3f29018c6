package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/drills"
)

const drillColumns = `school_id, id, title, description, type, scheduled_at, duration_minutes, status,
	target_classes, participants, attendance, created_by, created_at, started_at, completed_at, completion_rate`

const drillExists = `SELECT 1 FROM drills WHERE school_id = $1 AND id = $2`

func scanDrill(row pgx.Row) (drills.Drill, error) {
	var d drills.Drill
	err := row.Scan(
		&d.SchoolID,
		&d.ID,
		&d.Title,
		&d.Description,
		&d.Type,
		&d.ScheduledAt,
		&d.DurationMinutes,
		&d.Status,
		&d.TargetClasses,
		&d.Participants,
		&d.Attendance,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.StartedAt,
		&d.CompletedAt,
		&d.CompletionRate,
	)
	if d.Attendance == nil {
		d.Attendance = map[string]bool{}
	}
	return d, err
}

func (s *Store) CreateDrill(ctx context.Context, d drills.Drill) error {
	attendance := d.Attendance
	if attendance == nil {
		attendance = map[string]bool{}
	}
	participants := d.Participants
	if participants == nil {
		participants = []string{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO drills (school_id, id, title, description, type, scheduled_at, duration_minutes, status,
			target_classes, participants, attendance, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, d.SchoolID, d.ID, d.Title, d.Description, d.Type, d.ScheduledAt, d.DurationMinutes, d.Status,
		d.TargetClasses, participants, attendance, d.CreatedBy, d.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return errors.Wrap(err, "insert drill")
}

func (s *Store) GetDrill(ctx context.Context, schoolID, drillID string) (drills.Drill, error) {
	d, err := scanDrill(s.Pool.QueryRow(ctx, `
		SELECT `+drillColumns+`
		FROM drills
		WHERE school_id = $1 AND id = $2
	`, schoolID, drillID))
	if err != nil {
		return drills.Drill{}, errors.Wrap(noRows(err), "get drill")
	}
	return d, nil
}

func (s *Store) ListDrills(ctx context.Context, schoolID string, status drills.Status) ([]drills.Drill, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+drillColumns+`
		FROM drills
		WHERE school_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY scheduled_at, id
	`, schoolID, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "list drills")
	}
	defer rows.Close()
	out := []drills.Drill{}
	for rows.Next() {
		d, err := scanDrill(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan drill")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "iterate drills")
}

// conditionalDrillUpdate runs an UPDATE ... RETURNING and classifies a miss.
func conditionalDrillUpdate(ctx context.Context, q querier, schoolID, drillID, sql string, args ...any) (drills.Drill, error) {
	d, err := scanDrill(q.QueryRow(ctx, sql, args...))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return drills.Drill{}, err
	}
	return drills.Drill{}, conflictOrMissing(ctx, q, drillExists, schoolID, drillID)
}

func (s *Store) StartDrill(ctx context.Context, schoolID, drillID string, at time.Time) (drills.Drill, error) {
	d, err := conditionalDrillUpdate(ctx, s.Pool, schoolID, drillID, `
		UPDATE drills
		SET status = 'active', started_at = $3
		WHERE school_id = $1 AND id = $2 AND status = 'scheduled'
		RETURNING `+drillColumns, schoolID, drillID, at)
	return d, errors.Wrap(err, "start drill")
}

func (s *Store) CompleteDrill(ctx context.Context, schoolID, drillID string, at time.Time) (drills.Drill, error) {
	d, err := conditionalDrillUpdate(ctx, s.Pool, schoolID, drillID, `
		UPDATE drills
		SET status = 'completed',
			completed_at = $3,
			completion_rate = CASE
				WHEN cardinality(participants) = 0 THEN 0
				ELSE (
					SELECT count(*)
					FROM jsonb_each(attendance) AS e
					WHERE e.value = 'true'::jsonb AND e.key = ANY(participants)
				)::double precision / cardinality(participants)
			END
		WHERE school_id = $1 AND id = $2 AND status = 'active'
		RETURNING `+drillColumns, schoolID, drillID, at)
	return d, errors.Wrap(err, "complete drill")
}

// RecordCheckIn marks attendance and inserts the record in one transaction.
// The unique (drill_id, student_id) constraint backs up the map check.
func (s *Store) RecordCheckIn(ctx context.Context, rec drills.AttendanceRecord) (drills.Drill, error) {
	var out drills.Drill
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		d, err := conditionalDrillUpdate(ctx, tx, rec.SchoolID, rec.DrillID, `
			UPDATE drills
			SET attendance = attendance || jsonb_build_object($3::text, true)
			WHERE school_id = $1 AND id = $2
				AND status = 'active'
				AND $3 = ANY(participants)
				AND NOT (attendance ? $3)
			RETURNING `+drillColumns, rec.SchoolID, rec.DrillID, rec.StudentID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO attendance_records (id, school_id, drill_id, student_id, recorded_at, location, device)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.ID, rec.SchoolID, rec.DrillID, rec.StudentID, rec.RecordedAt, rec.Location, rec.Device)
		if isUniqueViolation(err) {
			return apperr.ErrConflict
		}
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return drills.Drill{}, errors.Wrap(err, "record check-in")
	}
	return out, nil
}

func (s *Store) OverrideAttendance(ctx context.Context, schoolID, drillID, studentID string, attended bool) (drills.Drill, error) {
	d, err := conditionalDrillUpdate(ctx, s.Pool, schoolID, drillID, `
		UPDATE drills
		SET attendance = jsonb_set(attendance, ARRAY[$3::text], to_jsonb($4::boolean), true)
		WHERE school_id = $1 AND id = $2
			AND status <> 'completed'
			AND $3 = ANY(participants)
		RETURNING `+drillColumns, schoolID, drillID, studentID, attended)
	return d, errors.Wrap(err, "override attendance")
}

func (s *Store) ListAttendanceRecords(ctx context.Context, schoolID, drillID string) ([]drills.AttendanceRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, drill_id, student_id, school_id, recorded_at, location, device
		FROM attendance_records
		WHERE school_id = $1 AND drill_id = $2
		ORDER BY recorded_at, id
	`, schoolID, drillID)
	if err != nil {
		return nil, errors.Wrap(err, "list attendance records")
	}
	defer rows.Close()
	out := []drills.AttendanceRecord{}
	for rows.Next() {
		var rec drills.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.DrillID, &rec.StudentID, &rec.SchoolID, &rec.RecordedAt, &rec.Location, &rec.Device); err != nil {
			return nil, errors.Wrap(err, "scan attendance record")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate attendance records")
}
