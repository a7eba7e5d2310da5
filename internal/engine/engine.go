package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/classifier"
	"vitalwatch/internal/config"
	"vitalwatch/internal/models"
	"vitalwatch/internal/scheduler"
	"vitalwatch/internal/store"
	"vitalwatch/internal/triage"

	"go.uber.org/zap"
)

// Timer names. Each one polls independently at its own cadence.
const (
	TimerPatients = "patients"
	TimerAlerts   = "alerts"
	TimerHistory  = "history"
)

// Backend is the slice of the monitoring API the engine drives.
type Backend interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
	ListAlerts(ctx context.Context) ([]models.Alert, error)
	VitalsHistory(ctx context.Context, patientID string, hours int) ([]models.VitalSignReading, error)
	AcknowledgeAlert(ctx context.Context, alertID, userID string) error
}

// EventType tags a state-change event delivered to subscribers.
type EventType string

const (
	EventPatientsUpdated EventType = "patients_updated"
	EventQueueUpdated    EventType = "queue_updated"
	EventAlertsUpdated   EventType = "alerts_updated"
	EventHistoryUpdated  EventType = "history_updated"
	EventStaleChanged    EventType = "stale_changed"
	EventNotification    EventType = "notification"
)

// Event is pushed to subscribers after the engine's own state has been
// updated; a UI layer renders from the accessors, it never mutates.
type Event struct {
	Type         EventType            `json:"type"`
	PatientID    string               `json:"patient_id,omitempty"`
	Timer        string               `json:"timer,omitempty"`
	Stale        bool                 `json:"stale,omitempty"`
	Notification *alerts.Notification `json:"notification,omitempty"`
}

// Engine is the vital-sign monitoring core: it polls the backend,
// classifies and trend-annotates readings, reconciles alerts, and keeps
// the triage queue ordered. The latest-reading cache is its only shared
// mutable state and is written exclusively from scheduler apply
// callbacks, one at a time per timer.
type Engine struct {
	cfg        *config.Config
	backend    Backend
	classifier *classifier.Classifier
	trend      *classifier.TrendAnalyzer
	alerts     *alerts.Manager
	dispatcher *alerts.Dispatcher
	sched      *scheduler.Scheduler
	snapshots  *store.SnapshotStore // nil when Redis is not configured
	logger     *zap.Logger

	runCtx context.Context

	mu       sync.RWMutex
	patients []models.Patient
	latest   map[string]map[models.VitalType]store.AnnotatedReading
	queue    []triage.Entry
	stale    map[string]bool
	history  []models.VitalSignReading

	selectedPatient string
	epoch           uint64 // bumped on every select/deselect

	subsMu sync.Mutex
	subs   []func(Event)
}

// New builds an engine. snapshots and audit may be nil.
func New(cfg *config.Config, backend Backend, snapshots *store.SnapshotStore, audit alerts.AuditSink, logger *zap.Logger) (*Engine, error) {
	profiles := classifier.DefaultProfiles()
	if cfg.Thresholds.ProfilePath != "" {
		loaded, err := classifier.LoadProfiles(cfg.Thresholds.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load threshold profiles: %w", err)
		}
		profiles = loaded
	}

	dispatcher := alerts.NewDispatcher(cfg.Engine.Muted, logger)

	e := &Engine{
		cfg:        cfg,
		backend:    backend,
		classifier: classifier.NewClassifier(profiles),
		trend:      classifier.NewTrendAnalyzer(cfg.Trend.ChangeThreshold),
		dispatcher: dispatcher,
		alerts:     alerts.NewManager(dispatcher, audit, logger),
		sched:      scheduler.NewScheduler(logger),
		snapshots:  snapshots,
		logger:     logger,
		latest:     make(map[string]map[models.VitalType]store.AnnotatedReading),
		stale:      make(map[string]bool),
	}

	// Raised alerts reach UI subscribers through the same event stream
	// as everything else.
	dispatcher.AddSink(alerts.SinkFunc(func(ctx context.Context, n alerts.Notification) error {
		e.emit(Event{Type: EventNotification, PatientID: n.PatientID, Notification: &n})
		return nil
	}))

	return e, nil
}

// Dispatcher exposes the notification dispatcher so additional sinks
// (MQTT, test recorders) can be attached before Start.
func (e *Engine) Dispatcher() *alerts.Dispatcher { return e.dispatcher }

// Subscribe registers a callback for state-change events. Callbacks run
// on the applying goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Engine) emit(event Event) {
	e.subsMu.Lock()
	subs := make([]func(Event), len(e.subs))
	copy(subs, e.subs)
	e.subsMu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

// Start restores any persisted snapshot and begins the patients and
// alerts timers. The history timer only runs while a patient is
// selected.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx

	if e.snapshots != nil {
		restored, err := e.snapshots.LoadAll(ctx)
		if err != nil {
			e.logger.Warn("Failed to restore snapshots", zap.Error(err))
		} else if len(restored) > 0 {
			e.mu.Lock()
			e.latest = restored
			e.mu.Unlock()
			e.logger.Info("Restored patient snapshots", zap.Int("patients", len(restored)))
		}
	}

	if e.cfg.Engine.Paused {
		e.sched.PauseAll()
	}

	e.sched.Start(ctx, TimerPatients, e.cfg.PatientsInterval(), e.cfg.APITimeout(), e.patientsTask)
	e.sched.Start(ctx, TimerAlerts, e.cfg.AlertsInterval(), e.cfg.APITimeout(), e.alertsTask)

	e.logger.Info("Monitoring engine started",
		zap.Duration("patients_interval", e.cfg.PatientsInterval()),
		zap.Duration("alerts_interval", e.cfg.AlertsInterval()),
	)
}

// Stop tears down all timers. Idempotent.
func (e *Engine) Stop() {
	e.sched.StopAll()
	e.logger.Info("Monitoring engine stopped")
}

// RefreshOnce performs one synchronous patients fetch-and-apply, used
// for the startup warm fetch and by tests. It bypasses the tick sequence
// guard; per-pair reading timestamps still protect against reordering.
func (e *Engine) RefreshOnce(ctx context.Context) error {
	patients, err := e.backend.ListPatients(ctx)
	if err != nil {
		e.setStale(TimerPatients, true)
		return fmt.Errorf("failed to fetch patients: %w", err)
	}
	e.applyPatients(ctx, patients)
	return nil
}

// patientsTask is the TimerPatients fetch. A failed fetch keeps
// last-known-good state, flags it stale, and retries on the next natural
// tick; no backoff beyond the timer's own interval.
func (e *Engine) patientsTask(ctx context.Context, seq uint64) error {
	patients, err := e.backend.ListPatients(ctx)
	if err != nil {
		e.setStale(TimerPatients, true)
		return err
	}

	e.sched.Apply(TimerPatients, seq, func() {
		e.applyPatients(ctx, patients)
	})
	return nil
}

func (e *Engine) applyPatients(ctx context.Context, patients []models.Patient) {
	now := time.Now()

	type classified struct {
		reading models.VitalSignReading
		status  classifier.Status
	}
	var toReconcile []classified

	e.mu.Lock()
	e.patients = patients

	entries := make([]triage.Entry, 0, len(patients))
	for _, p := range patients {
		waitingSince := p.ArrivedAt
		if waitingSince.IsZero() && p.TriagedAt != nil {
			waitingSince = *p.TriagedAt
		}
		entries = append(entries, triage.Entry{
			PatientID:    p.PatientID,
			Name:         p.Name,
			Priority:     p.Priority,
			WaitingSince: waitingSince,
		})

		byType, ok := e.latest[p.PatientID]
		if !ok {
			byType = make(map[models.VitalType]store.AnnotatedReading)
			e.latest[p.PatientID] = byType
		}
		for _, reading := range p.Vitals {
			prev, hasPrev := byType[reading.Type]
			if hasPrev && !reading.Timestamp.After(prev.Reading.Timestamp) {
				// Embedded vitals can lag the cache after a stale-ish
				// backend response; never step backwards. An equal
				// timestamp is the same reading polled again: re-pairing
				// it with itself would flatten an established trend.
				continue
			}

			status := e.classifier.Classify(reading.Type, reading.Value)
			var prevValue *float64
			if hasPrev {
				prevValue = prev.Reading.Value
			}
			byType[reading.Type] = store.AnnotatedReading{
				Reading: reading,
				Status:  status,
				Trend:   e.trend.Analyze(reading.Value, prevValue),
			}

			toReconcile = append(toReconcile, classified{reading: reading, status: status})
		}
	}

	e.queue = triage.Order(entries, now)
	e.mu.Unlock()

	// Reconcile outside the engine lock: alert transitions fan out to
	// subscribers, which are allowed to read engine state.
	for _, c := range toReconcile {
		e.alerts.Reconcile(ctx, c.reading, c.status)
	}

	e.setStale(TimerPatients, false)
	e.persistSnapshots(ctx, patients)

	e.emit(Event{Type: EventPatientsUpdated})
	e.emit(Event{Type: EventQueueUpdated})
}

func (e *Engine) persistSnapshots(ctx context.Context, patients []models.Patient) {
	if e.snapshots == nil {
		return
	}

	e.mu.RLock()
	toSave := make(map[string]map[models.VitalType]store.AnnotatedReading, len(patients))
	for _, p := range patients {
		if byType, ok := e.latest[p.PatientID]; ok && len(byType) > 0 {
			snapshot := make(map[models.VitalType]store.AnnotatedReading, len(byType))
			for vt, ar := range byType {
				snapshot[vt] = ar
			}
			toSave[p.PatientID] = snapshot
		}
	}
	e.mu.RUnlock()

	for patientID, snapshot := range toSave {
		if err := e.snapshots.Save(ctx, patientID, snapshot); err != nil {
			e.logger.Warn("Failed to persist snapshot",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}
}

// alertsTask is the TimerAlerts fetch: acknowledgments recorded at other
// stations are folded into local state.
func (e *Engine) alertsTask(ctx context.Context, seq uint64) error {
	remote, err := e.backend.ListAlerts(ctx)
	if err != nil {
		e.setStale(TimerAlerts, true)
		return err
	}

	e.sched.Apply(TimerAlerts, seq, func() {
		e.alerts.SyncAcknowledged(ctx, remote)
		e.setStale(TimerAlerts, false)
		e.emit(Event{Type: EventAlertsUpdated})
	})
	return nil
}

// SelectPatient starts the vitals-history timer for one patient. Any
// previous selection's in-flight fetches are invalidated by bumping the
// selection epoch; a late result carrying an old epoch is discarded.
func (e *Engine) SelectPatient(patientID string) {
	e.mu.Lock()
	e.selectedPatient = patientID
	e.epoch++
	epoch := e.epoch
	e.history = nil
	hours := e.cfg.Intervals.HistoryHours
	interval := e.cfg.HistoryInterval()
	e.mu.Unlock()

	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	e.sched.Start(ctx, TimerHistory, interval, e.cfg.APITimeout(),
		func(taskCtx context.Context, seq uint64) error {
			readings, err := e.backend.VitalsHistory(taskCtx, patientID, hours)
			if err != nil {
				e.setStale(TimerHistory, true)
				return err
			}

			e.sched.Apply(TimerHistory, seq, func() {
				e.mu.Lock()
				if e.epoch != epoch {
					e.mu.Unlock()
					e.logger.Debug("History result for a stale selection discarded",
						zap.String("patient_id", patientID),
					)
					return
				}
				e.history = readings
				e.mu.Unlock()

				e.setStale(TimerHistory, false)
				e.emit(Event{Type: EventHistoryUpdated, PatientID: patientID})
			})
			return nil
		})
}

// DeselectPatient stops the history timer and invalidates in-flight
// history fetches.
func (e *Engine) DeselectPatient() {
	e.mu.Lock()
	e.selectedPatient = ""
	e.epoch++
	e.history = nil
	e.mu.Unlock()

	e.sched.Stop(TimerHistory)
}

// Acknowledge submits an operator acknowledgment to the backend and, on
// success, applies it locally. A backend failure is returned so the
// operator gets an explicit retry affordance.
func (e *Engine) Acknowledge(ctx context.Context, alertID, by string) error {
	if err := e.backend.AcknowledgeAlert(ctx, alertID, by); err != nil {
		return err
	}
	e.alerts.Acknowledge(ctx, alertID, by)
	e.emit(Event{Type: EventAlertsUpdated})
	return nil
}

// Pause suspends all timers; in-flight fetches complete, cached state is
// kept.
func (e *Engine) Pause() { e.sched.PauseAll() }

// Resume re-enables ticking with the last cached state intact.
func (e *Engine) Resume() { e.sched.ResumeAll() }

// Paused reports whether polling is suspended.
func (e *Engine) Paused() bool { return e.sched.Paused() }

// SetMuted toggles the audible alert signal at runtime.
func (e *Engine) SetMuted(muted bool) { e.dispatcher.SetMuted(muted) }

// Muted reports the mute flag.
func (e *Engine) Muted() bool { return e.dispatcher.Muted() }

// SetTrendThreshold updates the relative-change trend threshold at
// runtime.
func (e *Engine) SetTrendThreshold(threshold float64) { e.trend.SetThreshold(threshold) }

// SetInterval restarts a named timer with a new cadence at runtime.
func (e *Engine) SetInterval(name string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if e.runCtx == nil {
		return fmt.Errorf("engine not started")
	}

	// Interval fields are read by SelectPatient from other goroutines, so
	// writes go through the engine mutex too.
	switch name {
	case TimerPatients:
		e.mu.Lock()
		e.cfg.Intervals.PatientsMs = int(interval / time.Millisecond)
		e.mu.Unlock()
		e.sched.Start(e.runCtx, TimerPatients, interval, e.cfg.APITimeout(), e.patientsTask)
	case TimerAlerts:
		e.mu.Lock()
		e.cfg.Intervals.AlertsMs = int(interval / time.Millisecond)
		e.mu.Unlock()
		e.sched.Start(e.runCtx, TimerAlerts, interval, e.cfg.APITimeout(), e.alertsTask)
	case TimerHistory:
		e.mu.Lock()
		e.cfg.Intervals.HistoryMs = int(interval / time.Millisecond)
		selected := e.selectedPatient
		e.mu.Unlock()
		if selected != "" {
			e.SelectPatient(selected)
		}
	default:
		return fmt.Errorf("unknown timer %q", name)
	}
	return nil
}

func (e *Engine) setStale(timer string, stale bool) {
	e.mu.Lock()
	changed := e.stale[timer] != stale
	e.stale[timer] = stale
	e.mu.Unlock()

	if changed {
		e.emit(Event{Type: EventStaleChanged, Timer: timer, Stale: stale})
	}
}

// Stale reports whether the named timer's last fetch failed; the cached
// data is flagged, not hidden.
func (e *Engine) Stale(timer string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stale[timer]
}

// Patients returns the latest patient list.
func (e *Engine) Patients() []models.Patient {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Patient, len(e.patients))
	copy(out, e.patients)
	return out
}

// Queue returns the ordered triage queue.
func (e *Engine) Queue() []triage.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]triage.Entry, len(e.queue))
	copy(out, e.queue)
	return out
}

// Latest returns the annotated latest readings for one patient.
func (e *Engine) Latest(patientID string) map[models.VitalType]store.AnnotatedReading {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byType, ok := e.latest[patientID]
	if !ok {
		return nil
	}
	out := make(map[models.VitalType]store.AnnotatedReading, len(byType))
	for vt, ar := range byType {
		out[vt] = ar
	}
	return out
}

// History returns the selected patient's reading history.
func (e *Engine) History() []models.VitalSignReading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.VitalSignReading, len(e.history))
	copy(out, e.history)
	return out
}

// Selected returns the currently selected patient id, empty when none.
func (e *Engine) Selected() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.selectedPatient
}

// OpenAlerts returns active and acknowledged alerts, newest first.
func (e *Engine) OpenAlerts() []models.Alert { return e.alerts.Open() }

// ClearedAlerts returns the retained cleared alerts.
func (e *Engine) ClearedAlerts() []models.Alert { return e.alerts.Cleared() }

// ActiveAlertCount counts open (active or acknowledged) alerts.
func (e *Engine) ActiveAlertCount() int { return e.alerts.ActiveCount() }
