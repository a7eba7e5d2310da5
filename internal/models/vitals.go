package models

import "time"

// VitalType identifies one kind of periodically measured vital sign.
type VitalType string

const (
	VitalHeartRate       VitalType = "heart_rate"
	VitalTemperature     VitalType = "temperature"
	VitalBPSystolic      VitalType = "blood_pressure_systolic"
	VitalBPDiastolic     VitalType = "blood_pressure_diastolic"
	VitalOxygenSat       VitalType = "oxygen_saturation"
	VitalRespiratoryRate VitalType = "respiratory_rate"
)

// KnownVitalTypes lists every vital type the engine classifies.
var KnownVitalTypes = []VitalType{
	VitalHeartRate,
	VitalTemperature,
	VitalBPSystolic,
	VitalBPDiastolic,
	VitalOxygenSat,
	VitalRespiratoryRate,
}

// IsKnown reports whether t is one of the recognized vital types.
func (t VitalType) IsKnown() bool {
	for _, known := range KnownVitalTypes {
		if t == known {
			return true
		}
	}
	return false
}

// VitalSignReading is one measurement for one patient. Readings are
// immutable; the engine only ever compares the latest reading with the
// immediately preceding one per (patient, vital type).
type VitalSignReading struct {
	PatientID string    `json:"patient_id"`
	Type      VitalType `json:"vital_type"`
	Value     *float64  `json:"value"` // nil when the device reported no number
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Patient is the externally owned patient record as returned by the
// monitoring backend, with the latest vitals embedded.
type Patient struct {
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	Room      string `json:"room,omitempty"`
	Age       int    `json:"age,omitempty"`
	MRN       string `json:"mrn,omitempty"`

	// Triage fields, produced by clinical staff (never inferred here).
	Priority *int       `json:"priority,omitempty"` // Manchester level 1-5, nil = not triaged
	TriagedAt *time.Time `json:"triaged_at,omitempty"`
	ArrivedAt time.Time  `json:"arrived_at"`

	Vitals []VitalSignReading `json:"vitals,omitempty"`
}

// TriageAssessment is recorded by clinical staff via POST /triage.
// The engine consumes only priority and the timestamps.
type TriageAssessment struct {
	PatientID      string    `json:"patient_id"`
	Priority       int       `json:"priority"` // 1 = most urgent (Manchester)
	ChiefComplaint string    `json:"chief_complaint,omitempty"`
	AssessedAt     time.Time `json:"assessed_at"`
}
