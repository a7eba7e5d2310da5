package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vitalwatch/internal/classifier"
	"vitalwatch/internal/models"

	"go.uber.org/zap"
)

const snapshotKeyPrefix = "vitalwatch:patient:"
const snapshotKeySuffix = ":latest"

// AnnotatedReading is the latest reading for one (patient, vital type)
// pair together with its classification and trend.
type AnnotatedReading struct {
	Reading models.VitalSignReading `json:"reading"`
	Status  classifier.Status       `json:"status"`
	Trend   classifier.Trend        `json:"trend"`
}

// SnapshotStore persists the latest annotated readings per patient so a
// restarted engine resumes from last-known-good data instead of a blank
// view. The engine is the sole writer.
type SnapshotStore struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotStore creates a snapshot store. ttl bounds how long a
// snapshot can outlive the engine that wrote it.
func NewSnapshotStore(kv KV, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{kv: kv, ttl: ttl, logger: logger}
}

func snapshotKey(patientID string) string {
	return snapshotKeyPrefix + patientID + snapshotKeySuffix
}

// Save writes one patient's latest readings.
func (s *SnapshotStore) Save(ctx context.Context, patientID string, latest map[models.VitalType]AnnotatedReading) error {
	data, err := json.Marshal(latest)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, snapshotKey(patientID), string(data), s.ttl); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load reads one patient's snapshot. A missing snapshot returns ErrMiss.
func (s *SnapshotStore) Load(ctx context.Context, patientID string) (map[models.VitalType]AnnotatedReading, error) {
	raw, err := s.kv.Get(ctx, snapshotKey(patientID))
	if err != nil {
		return nil, err
	}

	var latest map[models.VitalType]AnnotatedReading
	if err := json.Unmarshal([]byte(raw), &latest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return latest, nil
}

// LoadAll restores every stored patient snapshot, keyed by patient id.
func (s *SnapshotStore) LoadAll(ctx context.Context) (map[string]map[models.VitalType]AnnotatedReading, error) {
	keys, err := s.kv.ScanKeys(ctx, snapshotKeyPrefix+"*"+snapshotKeySuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshots: %w", err)
	}

	out := make(map[string]map[models.VitalType]AnnotatedReading, len(keys))
	for _, key := range keys {
		patientID := strings.TrimSuffix(strings.TrimPrefix(key, snapshotKeyPrefix), snapshotKeySuffix)
		latest, err := s.Load(ctx, patientID)
		if err != nil {
			// Expired between scan and get, or corrupt: skip, keep going.
			s.logger.Debug("Skipping unreadable snapshot",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		out[patientID] = latest
	}
	return out, nil
}

// Delete removes one patient's snapshot (discharge or deselection).
func (s *SnapshotStore) Delete(ctx context.Context, patientID string) error {
	return s.kv.Del(ctx, snapshotKey(patientID))
}
