package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
)

const alertColumns = `school_id, id, title, message, priority, audience, class_id, active,
	created_by, created_at, expires_at, read_by, dismissed_at, dismissed_by`

func scanAlert(row pgx.Row) (alerts.Alert, error) {
	var a alerts.Alert
	err := row.Scan(
		&a.SchoolID,
		&a.ID,
		&a.Title,
		&a.Message,
		&a.Priority,
		&a.Audience,
		&a.ClassID,
		&a.Active,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.ExpiresAt,
		&a.ReadBy,
		&a.DismissedAt,
		&a.DismissedBy,
	)
	if a.ReadBy == nil {
		a.ReadBy = []string{}
	}
	return a, err
}

func collectAlerts(rows pgx.Rows) ([]alerts.Alert, error) {
	defer rows.Close()
	out := []alerts.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate alerts")
}

func (s *Store) CreateAlert(ctx context.Context, a alerts.Alert) error {
	readBy := a.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO alerts (school_id, id, title, message, priority, audience, class_id, active,
			created_by, created_at, expires_at, read_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.SchoolID, a.ID, a.Title, a.Message, a.Priority, a.Audience, a.ClassID, a.Active,
		a.CreatedBy, a.CreatedAt, a.ExpiresAt, readBy)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return errors.Wrap(err, "insert alert")
}

func (s *Store) GetAlert(ctx context.Context, schoolID, alertID string) (alerts.Alert, error) {
	a, err := scanAlert(s.Pool.QueryRow(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE school_id = $1 AND id = $2
	`, schoolID, alertID))
	if err != nil {
		return alerts.Alert{}, errors.Wrap(noRows(err), "get alert")
	}
	return a, nil
}

func (s *Store) ListAlerts(ctx context.Context, schoolID string, activeOnly bool) ([]alerts.Alert, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE school_id = $1 AND (NOT $2 OR active)
		ORDER BY created_at DESC, id
	`, schoolID, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	return collectAlerts(rows)
}

func (s *Store) AddReader(ctx context.Context, schoolID, alertID, userID string) (alerts.Alert, error) {
	a, err := scanAlert(s.Pool.QueryRow(ctx, `
		UPDATE alerts
		SET read_by = CASE WHEN $3 = ANY(read_by) THEN read_by ELSE array_append(read_by, $3) END
		WHERE school_id = $1 AND id = $2
		RETURNING `+alertColumns, schoolID, alertID, userID))
	if err != nil {
		return alerts.Alert{}, errors.Wrap(noRows(err), "add alert reader")
	}
	return a, nil
}

func (s *Store) DismissAlert(ctx context.Context, schoolID, alertID, by string, at time.Time) (alerts.Alert, error) {
	a, err := scanAlert(s.Pool.QueryRow(ctx, `
		UPDATE alerts
		SET active = false, dismissed_at = $3, dismissed_by = $4
		WHERE school_id = $1 AND id = $2 AND active
		RETURNING `+alertColumns, schoolID, alertID, at, by))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return alerts.Alert{}, errors.Wrap(err, "dismiss alert")
	}
	err = conflictOrMissing(ctx, s.Pool, `SELECT 1 FROM alerts WHERE school_id = $1 AND id = $2`, schoolID, alertID)
	return alerts.Alert{}, errors.Wrap(err, "dismiss alert")
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]alerts.Alert, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at, id
	`, now)
	if err != nil {
		return nil, errors.Wrap(err, "list expired alerts")
	}
	return collectAlerts(rows)
}
