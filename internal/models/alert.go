package models

import "time"

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	// AlertStateNone is a synthetic "no alert" state used only in
	// transition records; it is never stored on an Alert.
	AlertStateNone         AlertState = "none"
	AlertStateActive       AlertState = "active"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateCleared      AlertState = "cleared"
)

// Open reports whether the state counts toward the active-alert total.
// Cleared alerts are retained for audit but excluded from active counts.
func (s AlertState) Open() bool {
	return s == AlertStateActive || s == AlertStateAcknowledged
}

// Severity of an alert, recorded from the classifier result that raised it.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one alerting episode for a (patient, vital type) pair.
// At most one non-cleared alert exists per pair at any time.
type Alert struct {
	AlertID   string    `json:"alert_id"`
	PatientID string    `json:"patient_id"`
	VitalType VitalType `json:"vital_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`

	State    AlertState `json:"state"`
	RaisedAt time.Time  `json:"raised_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	ClearedAt      *time.Time `json:"cleared_at,omitempty"`
}

// AlertTransition records one state change for the audit trail.
type AlertTransition struct {
	EventID   string     `json:"event_id"`
	Alert     Alert      `json:"alert"`
	From      AlertState `json:"from"`
	To        AlertState `json:"to"`
	// ReadingAt is the timestamp of the reading that drove the transition,
	// zero for operator-driven transitions (acknowledge).
	ReadingAt  time.Time `json:"reading_at,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
