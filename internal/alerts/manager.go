package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vitalwatch/internal/classifier"
	"vitalwatch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditSink records alert transitions for the audit trail. Audit
// failures are logged and never block reconciliation.
type AuditSink interface {
	RecordTransition(ctx context.Context, t models.AlertTransition) error
}

type alertKey struct {
	patientID string
	vitalType models.VitalType
}

// Manager is the alert state machine over (patient, vital type) pairs.
// All transitions for one pair are serialized behind the manager mutex,
// and a reading older than the newest one already applied for the pair
// is ignored.
type Manager struct {
	mu         sync.Mutex
	open       map[alertKey]*models.Alert
	cleared    []models.Alert
	lastReadAt map[alertKey]time.Time

	dispatcher *Dispatcher
	audit      AuditSink // nil when no audit store is configured
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates an alert manager. audit may be nil.
func NewManager(dispatcher *Dispatcher, audit AuditSink, logger *zap.Logger) *Manager {
	return &Manager{
		open:       make(map[alertKey]*models.Alert),
		lastReadAt: make(map[alertKey]time.Time),
		dispatcher: dispatcher,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the wall clock, used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Reconcile applies one classified reading to the state machine:
//
//   - warning/critical with no open alert raises a new active alert;
//   - warning/critical while an alert is open updates severity, message
//     and timestamp in place, same alert id, no re-notification;
//   - normal clears an open alert;
//   - unknown neither raises nor clears.
//
// Readings are applied in timestamp order per pair; an older reading
// arriving after a newer one has updated state is a no-op.
func (m *Manager) Reconcile(ctx context.Context, reading models.VitalSignReading, status classifier.Status) {
	m.mu.Lock()

	key := alertKey{patientID: reading.PatientID, vitalType: reading.Type}

	if last, ok := m.lastReadAt[key]; ok && reading.Timestamp.Before(last) {
		m.mu.Unlock()
		m.logger.Debug("Out-of-order reading ignored",
			zap.String("patient_id", reading.PatientID),
			zap.String("vital_type", string(reading.Type)),
			zap.Time("reading_at", reading.Timestamp),
			zap.Time("newest_applied", last),
		)
		return
	}
	m.lastReadAt[key] = reading.Timestamp

	severity, alerting := status.Severity()

	var pending []transition
	current, exists := m.open[key]
	switch {
	case alerting && !exists:
		pending = m.raiseLocked(key, reading, severity)

	case alerting && exists:
		// Same episode: update in place, keep the alert id. This also
		// covers re-escalation after an acknowledgment, which must not
		// open a new episode or re-fire the sound.
		current.Severity = severity
		current.Message = alertMessage(reading, severity)
		current.UpdatedAt = reading.Timestamp

	case status == classifier.StatusNormal && exists:
		pending = m.clearLocked(key, current, reading)

	default:
		// normal with nothing open, or unknown: no transition.
	}
	m.mu.Unlock()

	m.emit(ctx, pending)
}

// transition is an emission queued while the manager lock is held and
// delivered after release, so sinks may call back into the manager.
type transition struct {
	alert     models.Alert
	from      models.AlertState
	to        models.AlertState
	readingAt time.Time
}

func (m *Manager) raiseLocked(key alertKey, reading models.VitalSignReading, severity models.Severity) []transition {
	alert := &models.Alert{
		AlertID:   uuid.NewString(),
		PatientID: reading.PatientID,
		VitalType: reading.Type,
		Severity:  severity,
		Message:   alertMessage(reading, severity),
		State:     models.AlertStateActive,
		RaisedAt:  reading.Timestamp,
		UpdatedAt: reading.Timestamp,
	}
	m.open[key] = alert

	m.logger.Info("Alert raised",
		zap.String("alert_id", alert.AlertID),
		zap.String("patient_id", alert.PatientID),
		zap.String("vital_type", string(alert.VitalType)),
		zap.String("severity", string(alert.Severity)),
	)

	return []transition{{alert: *alert, from: models.AlertStateNone, to: models.AlertStateActive, readingAt: reading.Timestamp}}
}

func (m *Manager) clearLocked(key alertKey, alert *models.Alert, reading models.VitalSignReading) []transition {
	from := alert.State
	clearedAt := reading.Timestamp
	alert.State = models.AlertStateCleared
	alert.ClearedAt = &clearedAt
	alert.UpdatedAt = reading.Timestamp

	delete(m.open, key)
	m.cleared = append(m.cleared, *alert)

	m.logger.Info("Alert cleared",
		zap.String("alert_id", alert.AlertID),
		zap.String("patient_id", alert.PatientID),
		zap.String("vital_type", string(alert.VitalType)),
	)

	return []transition{{alert: *alert, from: from, to: models.AlertStateCleared, readingAt: reading.Timestamp}}
}

// Acknowledge transitions an active alert to acknowledged. Acknowledging
// an alert that is already acknowledged, already cleared or unknown is an
// idempotent no-op success.
func (m *Manager) Acknowledge(ctx context.Context, alertID, by string) {
	m.mu.Lock()

	var pending []transition
	for _, alert := range m.open {
		if alert.AlertID != alertID {
			continue
		}
		if alert.State != models.AlertStateActive {
			break
		}

		ackedAt := m.now()
		alert.State = models.AlertStateAcknowledged
		alert.AcknowledgedAt = &ackedAt
		if by != "" {
			alert.AcknowledgedBy = &by
		}
		alert.UpdatedAt = ackedAt

		m.logger.Info("Alert acknowledged",
			zap.String("alert_id", alertID),
			zap.String("acknowledged_by", by),
		)

		pending = []transition{{alert: *alert, from: models.AlertStateActive, to: models.AlertStateAcknowledged}}
		break
	}
	m.mu.Unlock()

	m.emit(ctx, pending)
}

// SyncAcknowledged folds acknowledgments recorded by other stations into
// local state: any local active alert for a (patient, vital type) the
// backend reports as acknowledged is acknowledged here too.
func (m *Manager) SyncAcknowledged(ctx context.Context, remote []models.Alert) {
	m.mu.Lock()
	local := make(map[alertKey]string)
	for key, alert := range m.open {
		if alert.State == models.AlertStateActive {
			local[key] = alert.AlertID
		}
	}
	m.mu.Unlock()

	for _, r := range remote {
		if r.State != models.AlertStateAcknowledged {
			continue
		}
		key := alertKey{patientID: r.PatientID, vitalType: r.VitalType}
		if id, ok := local[key]; ok {
			by := ""
			if r.AcknowledgedBy != nil {
				by = *r.AcknowledgedBy
			}
			m.Acknowledge(ctx, id, by)
		}
	}
}

// emit forwards queued transitions to the dispatcher and audit sink.
// Always called after the manager mutex is released.
func (m *Manager) emit(ctx context.Context, pending []transition) {
	for _, t := range pending {
		m.dispatcher.OnAlertTransition(ctx, t.alert, t.from, t.to)

		if m.audit == nil {
			continue
		}
		record := models.AlertTransition{
			EventID:    uuid.NewString(),
			Alert:      t.alert,
			From:       t.from,
			To:         t.to,
			ReadingAt:  t.readingAt,
			RecordedAt: m.now(),
		}
		if err := m.audit.RecordTransition(ctx, record); err != nil {
			m.logger.Warn("Failed to record alert transition",
				zap.String("alert_id", t.alert.AlertID),
				zap.Error(err),
			)
		}
	}
}

// Open returns a snapshot of active and acknowledged alerts, newest first.
func (m *Manager) Open() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0, len(m.open))
	for _, alert := range m.open {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].RaisedAt.After(out[j].RaisedAt)
		}
		return out[i].AlertID < out[j].AlertID
	})
	return out
}

// Cleared returns the retained cleared alerts, oldest first.
func (m *Manager) Cleared() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, len(m.cleared))
	copy(out, m.cleared)
	return out
}

// ActiveCount is the number of open (active or acknowledged) alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// OpenFor returns the open alert for one (patient, vital type) pair.
func (m *Manager) OpenFor(patientID string, vt models.VitalType) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.open[alertKey{patientID: patientID, vitalType: vt}]
	if !ok {
		return models.Alert{}, false
	}
	return *alert, true
}

func alertMessage(reading models.VitalSignReading, severity models.Severity) string {
	value := "n/a"
	if reading.Value != nil {
		value = fmt.Sprintf("%g", *reading.Value)
	}
	unit := reading.Unit
	if unit != "" {
		unit = " " + unit
	}
	return fmt.Sprintf("%s %s%s (%s)", reading.Type, value, unit, severity)
}
