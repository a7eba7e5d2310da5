package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalwatch/internal/models"

	"go.uber.org/zap"
)

// AlertAuditRepository persists alert transitions to the alert_transitions
// table. Cleared alerts drop out of the in-memory active set, so this
// table is the durable audit trail.
type AlertAuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertAuditRepository creates the repository.
func NewAlertAuditRepository(db *sql.DB, logger *zap.Logger) *AlertAuditRepository {
	return &AlertAuditRepository{
		db:     db,
		logger: logger,
	}
}

// RecordTransition inserts one transition row. Implements alerts.AuditSink.
func (r *AlertAuditRepository) RecordTransition(ctx context.Context, t models.AlertTransition) error {
	if t.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if t.Alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	query := `
		INSERT INTO alert_transitions (
			event_id,
			alert_id,
			patient_id,
			vital_type,
			severity,
			from_state,
			to_state,
			message,
			acknowledged_by,
			reading_at,
			recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var ackedBy sql.NullString
	if t.Alert.AcknowledgedBy != nil {
		ackedBy = sql.NullString{String: *t.Alert.AcknowledgedBy, Valid: true}
	}
	var readingAt sql.NullTime
	if !t.ReadingAt.IsZero() {
		readingAt = sql.NullTime{Time: t.ReadingAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		t.EventID,
		t.Alert.AlertID,
		t.Alert.PatientID,
		string(t.Alert.VitalType),
		string(t.Alert.Severity),
		string(t.From),
		string(t.To),
		t.Alert.Message,
		ackedBy,
		readingAt,
		t.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert transition: %w", err)
	}

	return nil
}

// ListTransitions returns the transitions for one patient, newest first.
// limit <= 0 means no limit.
func (r *AlertAuditRepository) ListTransitions(ctx context.Context, patientID string, limit int) ([]models.AlertTransition, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			event_id,
			alert_id,
			patient_id,
			vital_type,
			severity,
			from_state,
			to_state,
			message,
			acknowledged_by,
			reading_at,
			recorded_at
		FROM alert_transitions
		WHERE patient_id = $1
		ORDER BY recorded_at DESC
	`
	args := []any{patientID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert transitions: %w", err)
	}
	defer rows.Close()

	var out []models.AlertTransition
	for rows.Next() {
		var t models.AlertTransition
		var vitalType, severity, from, to string
		var ackedBy sql.NullString
		var readingAt sql.NullTime

		if err := rows.Scan(
			&t.EventID,
			&t.Alert.AlertID,
			&t.Alert.PatientID,
			&vitalType,
			&severity,
			&from,
			&to,
			&t.Alert.Message,
			&ackedBy,
			&readingAt,
			&t.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert transition: %w", err)
		}

		t.Alert.VitalType = models.VitalType(vitalType)
		t.Alert.Severity = models.Severity(severity)
		t.Alert.State = models.AlertState(to)
		t.From = models.AlertState(from)
		t.To = models.AlertState(to)
		if ackedBy.Valid {
			t.Alert.AcknowledgedBy = &ackedBy.String
		}
		if readingAt.Valid {
			t.ReadingAt = readingAt.Time
		}

		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert transitions: %w", err)
	}

	return out, nil
}

// CountSince returns how many transitions into the given state were
// recorded after the cutoff, for shift-handover summaries.
func (r *AlertAuditRepository) CountSince(ctx context.Context, state models.AlertState, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM alert_transitions
		WHERE to_state = $1
		  AND recorded_at >= $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, string(state), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alert transitions: %w", err)
	}
	return count, nil
}
