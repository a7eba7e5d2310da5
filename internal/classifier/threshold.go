package classifier

import (
	"fmt"
	"math"
	"os"

	"vitalwatch/internal/models"

	"gopkg.in/yaml.v3"
)

// Status is the clinical classification of a single reading.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Band is one inclusive numeric range.
type Band struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v falls inside the inclusive range.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Profile holds the configured bands for one vital type.
type Profile struct {
	Normal   Band `yaml:"normal"`
	Warning  Band `yaml:"warning"`
	Critical Band `yaml:"critical"`
}

// Profiles maps vital types to their threshold configuration. The ranges
// are global, not age- or condition-adjusted (known simplification).
type Profiles map[models.VitalType]Profile

// DefaultProfiles returns the built-in adult threshold configuration.
func DefaultProfiles() Profiles {
	return Profiles{
		models.VitalHeartRate: {
			Normal:   Band{Min: 60, Max: 100},
			Warning:  Band{Min: 50, Max: 120},
			Critical: Band{Min: 30, Max: 180},
		},
		models.VitalTemperature: {
			Normal:   Band{Min: 36.1, Max: 37.2},
			Warning:  Band{Min: 35.5, Max: 38.5},
			Critical: Band{Min: 34.0, Max: 41.0},
		},
		models.VitalBPSystolic: {
			Normal:   Band{Min: 90, Max: 130},
			Warning:  Band{Min: 80, Max: 160},
			Critical: Band{Min: 60, Max: 220},
		},
		models.VitalBPDiastolic: {
			Normal:   Band{Min: 60, Max: 85},
			Warning:  Band{Min: 50, Max: 100},
			Critical: Band{Min: 40, Max: 130},
		},
		models.VitalOxygenSat: {
			Normal:   Band{Min: 95, Max: 100},
			Warning:  Band{Min: 90, Max: 100},
			Critical: Band{Min: 70, Max: 100},
		},
		models.VitalRespiratoryRate: {
			Normal:   Band{Min: 12, Max: 20},
			Warning:  Band{Min: 10, Max: 24},
			Critical: Band{Min: 6, Max: 40},
		},
	}
}

// LoadProfiles reads a YAML profile file and merges it over the defaults,
// so a partial file only overrides the vital types it names.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold profiles: %w", err)
	}

	var loaded map[models.VitalType]Profile
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse threshold profiles: %w", err)
	}

	profiles := DefaultProfiles()
	for vt, p := range loaded {
		profiles[vt] = p
	}
	return profiles, nil
}

// Classifier maps vital-sign values to clinical statuses. Pure lookup,
// no side effects.
type Classifier struct {
	profiles Profiles
}

// NewClassifier creates a classifier over the given profiles
// (DefaultProfiles when nil).
func NewClassifier(profiles Profiles) *Classifier {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Classifier{profiles: profiles}
}

// Classify returns the status band for one value.
//
// A missing value or missing profile is a classification gap and resolves
// to StatusUnknown, never an error. A numeric value that falls outside
// every configured band is StatusCritical: unclassifiable extremes must
// never read as normal.
func (c *Classifier) Classify(vt models.VitalType, value *float64) Status {
	if value == nil || math.IsNaN(*value) {
		return StatusUnknown
	}

	profile, ok := c.profiles[vt]
	if !ok {
		return StatusUnknown
	}

	v := *value
	switch {
	case profile.Normal.Contains(v):
		return StatusNormal
	case profile.Warning.Contains(v):
		return StatusWarning
	default:
		// Inside the critical band or beyond all bands.
		return StatusCritical
	}
}

// Severity converts a status to an alert severity. Only warning and
// critical statuses carry a severity; ok is false otherwise.
func (s Status) Severity() (models.Severity, bool) {
	switch s {
	case StatusWarning:
		return models.SeverityWarning, true
	case StatusCritical:
		return models.SeverityCritical, true
	default:
		return "", false
	}
}
