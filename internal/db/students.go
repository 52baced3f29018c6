package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/roster"
)

const studentColumns = `school_id, id, class_id, name, email, created_at`

func scanStudent(row pgx.Row) (roster.Student, error) {
	var st roster.Student
	err := row.Scan(&st.SchoolID, &st.ID, &st.ClassID, &st.Name, &st.Email, &st.CreatedAt)
	return st, err
}

func (s *Store) CreateStudent(ctx context.Context, st roster.Student) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO students (school_id, id, class_id, name, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, st.SchoolID, st.ID, st.ClassID, st.Name, st.Email, st.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return errors.Wrap(err, "insert student")
}

func (s *Store) GetStudent(ctx context.Context, schoolID, studentID string) (roster.Student, error) {
	st, err := scanStudent(s.Pool.QueryRow(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE school_id = $1 AND id = $2
	`, schoolID, studentID))
	if err != nil {
		return roster.Student{}, errors.Wrap(noRows(err), "get student")
	}
	return st, nil
}

func (s *Store) ListStudents(ctx context.Context, schoolID, classID string) ([]roster.Student, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE school_id = $1 AND ($2 = '' OR class_id = $2)
		ORDER BY class_id, name, id
	`, schoolID, classID)
	if err != nil {
		return nil, errors.Wrap(err, "list students")
	}
	return collectStudents(rows)
}

func (s *Store) ListStudentsInClasses(ctx context.Context, schoolID string, classIDs []string) ([]roster.Student, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+studentColumns+`
		FROM students
		WHERE school_id = $1 AND class_id = ANY($2)
		ORDER BY class_id, name, id
	`, schoolID, classIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list students in classes")
	}
	return collectStudents(rows)
}

func collectStudents(rows pgx.Rows) ([]roster.Student, error) {
	defer rows.Close()
	out := []roster.Student{}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan student")
		}
		out = append(out, st)
	}
	return out, errors.Wrap(rows.Err(), "iterate students")
}
