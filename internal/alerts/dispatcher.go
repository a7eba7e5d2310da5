package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vitalwatch/internal/models"

	"go.uber.org/zap"
)

// Notification is the user-facing signal for one alert transition.
// Sound is the audible part; the rest is the visual badge payload, which
// is delivered regardless of the mute flag.
type Notification struct {
	AlertID   string           `json:"alert_id"`
	PatientID string           `json:"patient_id"`
	VitalType models.VitalType `json:"vital_type"`
	Severity  models.Severity  `json:"severity"`
	Message   string           `json:"message"`
	From      models.AlertState `json:"from"`
	To        models.AlertState `json:"to"`
	Sound     bool             `json:"sound"`
	RaisedAt  time.Time        `json:"raised_at"`
}

// Sink receives notifications. A sink error is logged and never blocks
// delivery to the remaining sinks.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Dispatcher maps alert transitions to notifications, exactly once per
// (alert id, from, to) triple.
type Dispatcher struct {
	mu        sync.Mutex
	muted     bool
	delivered map[string]struct{}
	sinks     []Sink
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with no sinks.
func NewDispatcher(muted bool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		muted:     muted,
		delivered: make(map[string]struct{}),
		logger:    logger,
	}
}

// AddSink registers a delivery target.
func (d *Dispatcher) AddSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// SetMuted toggles the audible part of future notifications. Muting
// never suppresses the visual badge payload.
func (d *Dispatcher) SetMuted(muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = muted
}

// Muted reports the current mute flag.
func (d *Dispatcher) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// OnAlertTransition delivers the signal for one state change. Only a
// transition into active from none/cleared carries sound; acknowledgment
// and clearing are silent. Re-delivering the same transition (a retried
// classification pass) is a no-op.
func (d *Dispatcher) OnAlertTransition(ctx context.Context, alert models.Alert, from, to models.AlertState) {
	key := fmt.Sprintf("%s:%s>%s", alert.AlertID, from, to)

	d.mu.Lock()
	if _, seen := d.delivered[key]; seen {
		d.mu.Unlock()
		return
	}
	d.delivered[key] = struct{}{}

	raised := to == models.AlertStateActive &&
		(from == models.AlertStateNone || from == models.AlertStateCleared)
	if !raised {
		// Ack and clear change the badge, not the speaker.
		d.mu.Unlock()
		return
	}

	n := Notification{
		AlertID:   alert.AlertID,
		PatientID: alert.PatientID,
		VitalType: alert.VitalType,
		Severity:  alert.Severity,
		Message:   alert.Message,
		From:      from,
		To:        to,
		Sound:     !d.muted,
		RaisedAt:  alert.RaisedAt,
	}
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Notify(ctx, n); err != nil {
			d.logger.Warn("Notification sink failed",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}
}
