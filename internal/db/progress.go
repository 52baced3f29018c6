package db

import (
	"context"

	"github.com/pkg/errors"

	"jagruk/preparedness/internal/progress"
)

func (s *Store) RecordCompletion(ctx context.Context, c progress.Completion) (progress.Completion, error) {
	var out progress.Completion
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO module_completions (school_id, student_id, module_id, score, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (school_id, student_id, module_id) DO UPDATE
		SET score = GREATEST(module_completions.score, EXCLUDED.score),
			completed_at = GREATEST(module_completions.completed_at, EXCLUDED.completed_at)
		RETURNING school_id, student_id, module_id, score, completed_at
	`, c.SchoolID, c.StudentID, c.ModuleID, c.Score, c.CompletedAt).Scan(
		&out.SchoolID, &out.StudentID, &out.ModuleID, &out.Score, &out.CompletedAt,
	)
	if err != nil {
		return progress.Completion{}, errors.Wrap(err, "record completion")
	}
	return out, nil
}

func (s *Store) ListCompletions(ctx context.Context, schoolID, studentID string) ([]progress.Completion, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT school_id, student_id, module_id, score, completed_at
		FROM module_completions
		WHERE school_id = $1 AND student_id = $2
		ORDER BY module_id
	`, schoolID, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "list completions")
	}
	defer rows.Close()
	out := []progress.Completion{}
	for rows.Next() {
		var c progress.Completion
		if err := rows.Scan(&c.SchoolID, &c.StudentID, &c.ModuleID, &c.Score, &c.CompletedAt); err != nil {
			return nil, errors.Wrap(err, "scan completion")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterate completions")
}
