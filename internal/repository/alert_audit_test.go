package repository_test

import (
	"context"
	"testing"
	"time"

	"vitalwatch/internal/models"
	"vitalwatch/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAlertAuditRepository_RecordTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAlertAuditRepository(db, zap.NewNop())

	recordedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	readingAt := recordedAt.Add(-2 * time.Second)

	mock.ExpectExec(`INSERT INTO alert_transitions`).
		WithArgs(
			"event-1", "alert-1", "p1", "heart_rate", "critical",
			"none", "active", "heart_rate 200 bpm (critical)",
			sqlmock.AnyArg(), sqlmock.AnyArg(), recordedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.RecordTransition(context.Background(), models.AlertTransition{
		EventID: "event-1",
		Alert: models.Alert{
			AlertID:   "alert-1",
			PatientID: "p1",
			VitalType: models.VitalHeartRate,
			Severity:  models.SeverityCritical,
			Message:   "heart_rate 200 bpm (critical)",
			State:     models.AlertStateActive,
		},
		From:       models.AlertStateNone,
		To:         models.AlertStateActive,
		ReadingAt:  readingAt,
		RecordedAt: recordedAt,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertAuditRepository_RecordTransition_Validation(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAlertAuditRepository(db, zap.NewNop())

	err = repo.RecordTransition(context.Background(), models.AlertTransition{})
	require.Error(t, err)

	err = repo.RecordTransition(context.Background(), models.AlertTransition{EventID: "event-1"})
	require.Error(t, err)
}

func TestAlertAuditRepository_ListTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAlertAuditRepository(db, zap.NewNop())

	recordedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	columns := []string{
		"event_id", "alert_id", "patient_id", "vital_type", "severity",
		"from_state", "to_state", "message", "acknowledged_by", "reading_at", "recorded_at",
	}

	mock.ExpectQuery(`SELECT\s+event_id`).
		WithArgs("p1", 10).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("event-2", "alert-1", "p1", "heart_rate", "critical",
				"active", "acknowledged", "heart_rate 200 bpm (critical)", "nurse-7", nil, recordedAt).
			AddRow("event-1", "alert-1", "p1", "heart_rate", "critical",
				"none", "active", "heart_rate 200 bpm (critical)", nil, recordedAt.Add(-time.Minute), recordedAt.Add(-time.Minute)))

	got, err := repo.ListTransitions(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "event-2", got[0].EventID)
	assert.Equal(t, models.AlertStateAcknowledged, got[0].To)
	require.NotNil(t, got[0].Alert.AcknowledgedBy)
	assert.Equal(t, "nurse-7", *got[0].Alert.AcknowledgedBy)
	assert.True(t, got[0].ReadingAt.IsZero())

	assert.Equal(t, models.AlertStateNone, got[1].From)
	assert.False(t, got[1].ReadingAt.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertAuditRepository_ListTransitions_RequiresPatient(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAlertAuditRepository(db, zap.NewNop())

	_, err = repo.ListTransitions(context.Background(), "", 10)
	require.Error(t, err)
}

func TestAlertAuditRepository_CountSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAlertAuditRepository(db, zap.NewNop())

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("active", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.CountSince(context.Background(), models.AlertStateActive, since)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
