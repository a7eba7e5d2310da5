package httpapi

import (
	"net/http"
	"time"

	"vitalwatch/internal/engine"
	"vitalwatch/internal/models"
	"vitalwatch/internal/store"
	"vitalwatch/internal/triage"

	"go.uber.org/zap"
)

// MonitorHandler exposes the monitoring engine to station UIs.
type MonitorHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewMonitorHandler(e *engine.Engine, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{engine: e, logger: logger}
}

type queueEntryDTO struct {
	PatientID         string    `json:"patient_id"`
	Name              string    `json:"name"`
	Priority          *int      `json:"priority"`
	EffectivePriority int       `json:"effective_priority"`
	WaitingSince      time.Time `json:"waiting_since"`
	WaitingMinutes    int       `json:"waiting_minutes"`
}

func toQueueDTO(entries []triage.Entry, now time.Time) []queueEntryDTO {
	out := make([]queueEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, queueEntryDTO{
			PatientID:         e.PatientID,
			Name:              e.Name,
			Priority:          e.Priority,
			EffectivePriority: e.EffectivePriority(),
			WaitingSince:      e.WaitingSince,
			WaitingMinutes:    int(now.Sub(e.WaitingSince).Minutes()),
		})
	}
	return out
}

// GetQueue returns the ordered triage queue.
func (h *MonitorHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"entries": toQueueDTO(h.engine.Queue(), now),
		"stale":   h.engine.Stale(engine.TimerPatients),
	}))
}

type patientDTO struct {
	models.Patient
	Latest map[models.VitalType]store.AnnotatedReading `json:"latest"`
}

// GetPatients returns the roster with the latest annotated reading per
// vital type.
func (h *MonitorHandler) GetPatients(w http.ResponseWriter, r *http.Request) {
	patients := h.engine.Patients()
	out := make([]patientDTO, 0, len(patients))
	for _, p := range patients {
		p.Vitals = nil // raw embedded vitals are superseded by the annotated cache
		out = append(out, patientDTO{
			Patient: p,
			Latest:  h.engine.Latest(p.PatientID),
		})
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": out,
		"stale": h.engine.Stale(engine.TimerPatients),
	}))
}

// GetPatientVitals selects the patient (starting the history poll for it)
// and returns the latest annotated readings plus whatever history window
// has been fetched so far.
func (h *MonitorHandler) GetPatientVitals(w http.ResponseWriter, r *http.Request, patientID string) {
	if h.engine.Selected() != patientID {
		h.engine.SelectPatient(patientID)
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"patient_id": patientID,
		"latest":     h.engine.Latest(patientID),
		"history":    h.engine.History(),
		"stale":      h.engine.Stale(engine.TimerHistory),
	}))
}

// GetAlerts returns alerts filtered by ?state=open|cleared (default open),
// capped by ?limit=, plus the active count used for the station badge.
func (h *MonitorHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	var items []models.Alert
	switch state := r.URL.Query().Get("state"); state {
	case "", "open":
		items = h.engine.OpenAlerts()
	case "cleared":
		items = h.engine.ClearedAlerts()
	default:
		writeJSON(w, http.StatusOK, Fail("unknown state filter: "+state))
		return
	}
	if limit := parseInt(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items":        items,
		"active_count": h.engine.ActiveAlertCount(),
		"stale":        h.engine.Stale(engine.TimerAlerts),
	}))
}

// AcknowledgeAlert records an operator acknowledgment. Safe to repeat.
func (h *MonitorHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	var body struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if err := readBodyJSON(r, 1<<16, &body); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}
	if body.AcknowledgedBy == "" {
		body.AcknowledgedBy = r.Header.Get("X-User-Id")
	}

	if err := h.engine.Acknowledge(r.Context(), alertID, body.AcknowledgedBy); err != nil {
		h.logger.Error("Failed to acknowledge alert",
			zap.String("alert_id", alertID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"alert_id": alertID}))
}

// GetConfig reports the current runtime toggles.
func (h *MonitorHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"muted":  h.engine.Muted(),
		"paused": h.engine.Paused(),
	}))
}

type patchConfigRequest struct {
	Muted          *bool    `json:"muted"`
	Paused         *bool    `json:"paused"`
	TrendThreshold *float64 `json:"trend_threshold"`
	Intervals      *struct {
		PatientsMs int `json:"patients_ms"`
		AlertsMs   int `json:"alerts_ms"`
		HistoryMs  int `json:"history_ms"`
	} `json:"intervals"`
}

// PatchConfig applies runtime setting changes. Only the fields present in
// the body are touched.
func (h *MonitorHandler) PatchConfig(w http.ResponseWriter, r *http.Request) {
	var req patchConfigRequest
	if err := readBodyJSON(r, 1<<16, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid request body"))
		return
	}

	if req.Muted != nil {
		h.engine.SetMuted(*req.Muted)
	}
	if req.Paused != nil {
		if *req.Paused {
			h.engine.Pause()
		} else {
			h.engine.Resume()
		}
	}
	if req.TrendThreshold != nil {
		h.engine.SetTrendThreshold(*req.TrendThreshold)
	}
	if req.Intervals != nil {
		type change struct {
			timer string
			ms    int
		}
		for _, c := range []change{
			{engine.TimerPatients, req.Intervals.PatientsMs},
			{engine.TimerAlerts, req.Intervals.AlertsMs},
			{engine.TimerHistory, req.Intervals.HistoryMs},
		} {
			if c.ms <= 0 {
				continue
			}
			if err := h.engine.SetInterval(c.timer, time.Duration(c.ms)*time.Millisecond); err != nil {
				writeJSON(w, http.StatusOK, Fail(err.Error()))
				return
			}
		}
	}

	h.GetConfig(w, r)
}

// Healthz is the liveness probe.
func (h *MonitorHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
