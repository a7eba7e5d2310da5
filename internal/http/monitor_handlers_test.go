package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vitalwatch/internal/config"
	"vitalwatch/internal/engine"
	"vitalwatch/internal/models"

	"go.uber.org/zap"
)

type fakeBackend struct {
	patients []models.Patient
	alerts   []models.Alert
	history  []models.VitalSignReading
	ackErr   error
	acked    []string
}

func (f *fakeBackend) ListPatients(ctx context.Context) ([]models.Patient, error) {
	return f.patients, nil
}

func (f *fakeBackend) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	return f.alerts, nil
}

func (f *fakeBackend) VitalsHistory(ctx context.Context, patientID string, hours int) ([]models.VitalSignReading, error) {
	return f.history, nil
}

func (f *fakeBackend) AcknowledgeAlert(ctx context.Context, alertID, userID string) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, alertID)
	return nil
}

func testRouter(t *testing.T, backend *fakeBackend) (*Router, *engine.Engine) {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{}
	cfg.Intervals.PatientsMs = 5000
	cfg.Intervals.AlertsMs = 3000
	cfg.Intervals.HistoryMs = 10000
	cfg.Intervals.HistoryHours = 24
	cfg.Trend.ChangeThreshold = 0.10

	eng, err := engine.New(cfg, backend, nil, nil, logger)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	r := NewRouter(logger)
	r.RegisterMonitorRoutes(NewMonitorHandler(eng, logger))
	return r, eng
}

func seededBackend(now time.Time) *fakeBackend {
	hr := 72.0
	spo2 := 82.0
	p3 := 3
	p1 := 1
	return &fakeBackend{
		patients: []models.Patient{
			{
				PatientID: "p1",
				Name:      "Garcia, Maria",
				Priority:  &p3,
				ArrivedAt: now.Add(-30 * time.Minute),
				Vitals: []models.VitalSignReading{
					{PatientID: "p1", Type: models.VitalHeartRate, Value: &hr, Unit: "bpm", Timestamp: now},
				},
			},
			{
				PatientID: "p2",
				Name:      "Lee, Sam",
				Priority:  &p1,
				ArrivedAt: now.Add(-5 * time.Minute),
				Vitals: []models.VitalSignReading{
					{PatientID: "p2", Type: models.VitalOxygenSat, Value: &spo2, Unit: "%", Timestamp: now},
				},
			},
		},
	}
}

func TestGetQueue_OrderedWithWrapper(t *testing.T) {
	now := time.Now().UTC()
	r, eng := testRouter(t, seededBackend(now))
	if err := eng.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/monitor/api/v1/queue", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"code":2000`) {
		t.Fatalf("expected wrapper code=2000, got: %s", body)
	}
	// priority 1 sorts ahead of priority 3
	if strings.Index(body, `"patient_id":"p2"`) > strings.Index(body, `"patient_id":"p1"`) {
		t.Fatalf("expected p2 before p1, got: %s", body)
	}
	if !strings.Contains(body, `"stale":false`) {
		t.Fatalf("expected stale=false, got: %s", body)
	}
}

func TestGetPatients_IncludesAnnotatedLatest(t *testing.T) {
	now := time.Now().UTC()
	r, eng := testRouter(t, seededBackend(now))
	if err := eng.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/monitor/api/v1/patients", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"status":"normal"`) {
		t.Fatalf("expected a normal heart-rate annotation, got: %s", body)
	}
	if !strings.Contains(body, `"status":"critical"`) {
		t.Fatalf("expected a critical SpO2 annotation, got: %s", body)
	}
}

func TestGetAlerts_StateFilterAndCount(t *testing.T) {
	now := time.Now().UTC()
	r, eng := testRouter(t, seededBackend(now))
	if err := eng.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/monitor/api/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"active_count":1`) {
		t.Fatalf("expected one active alert, got: %s", body)
	}
	if !strings.Contains(body, `"patient_id":"p2"`) {
		t.Fatalf("expected the SpO2 alert, got: %s", body)
	}

	// no cleared alerts yet
	req = httptest.NewRequest(http.MethodGet, "/monitor/api/v1/alerts?state=cleared", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if strings.Contains(w.Body.String(), `"patient_id"`) {
		t.Fatalf("expected no cleared alerts, got: %s", w.Body.String())
	}

	// unknown filter is rejected with the error wrapper
	req = httptest.NewRequest(http.MethodGet, "/monitor/api/v1/alerts?state=bogus", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"code":-1`) {
		t.Fatalf("expected error wrapper, got: %s", w.Body.String())
	}
}

func TestGetAlerts_LimitCapsItems(t *testing.T) {
	now := time.Now().UTC()
	hrLow := 20.0
	spo2 := 82.0
	backend := &fakeBackend{
		patients: []models.Patient{
			{
				PatientID: "p1",
				Name:      "Garcia, Maria",
				ArrivedAt: now.Add(-30 * time.Minute),
				Vitals: []models.VitalSignReading{
					{PatientID: "p1", Type: models.VitalHeartRate, Value: &hrLow, Unit: "bpm", Timestamp: now},
				},
			},
			{
				PatientID: "p2",
				Name:      "Lee, Sam",
				ArrivedAt: now.Add(-5 * time.Minute),
				Vitals: []models.VitalSignReading{
					{PatientID: "p2", Type: models.VitalOxygenSat, Value: &spo2, Unit: "%", Timestamp: now},
				},
			},
		},
	}
	r, eng := testRouter(t, backend)
	if err := eng.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/monitor/api/v1/alerts?limit=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if got := strings.Count(body, `"alert_id"`); got != 1 {
		t.Fatalf("expected 1 alert with limit=1, got %d: %s", got, body)
	}
	// the badge count is unaffected by the page cap
	if !strings.Contains(body, `"active_count":2`) {
		t.Fatalf("expected active_count=2, got: %s", body)
	}

	// a bogus limit falls back to returning everything
	req = httptest.NewRequest(http.MethodGet, "/monitor/api/v1/alerts?limit=abc", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := strings.Count(w.Body.String(), `"alert_id"`); got != 2 {
		t.Fatalf("expected 2 alerts without a valid limit, got %d", got)
	}
}

func TestAcknowledgeAlert_RoundTripAndFailure(t *testing.T) {
	now := time.Now().UTC()
	backend := seededBackend(now)
	r, eng := testRouter(t, backend)
	if err := eng.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	open := eng.OpenAlerts()
	if len(open) != 1 {
		t.Fatalf("expected one open alert, got %d", len(open))
	}

	req := httptest.NewRequest(http.MethodPost,
		"/monitor/api/v1/alerts/"+open[0].AlertID+"/acknowledge",
		strings.NewReader(`{"acknowledged_by":"nurse-7"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"code":2000`) {
		t.Fatalf("expected success, got: %s", w.Body.String())
	}
	if len(backend.acked) != 1 || backend.acked[0] != open[0].AlertID {
		t.Fatalf("expected backend ack for %s, got %v", open[0].AlertID, backend.acked)
	}
	if got := eng.OpenAlerts()[0].State; got != models.AlertStateAcknowledged {
		t.Fatalf("expected acknowledged state, got %s", got)
	}

	// backend failure surfaces as the error wrapper, local state untouched
	backend.ackErr = errors.New("backend unreachable")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost,
		"/monitor/api/v1/alerts/"+open[0].AlertID+"/acknowledge", nil))
	if !strings.Contains(w.Body.String(), `"code":-1`) {
		t.Fatalf("expected error wrapper, got: %s", w.Body.String())
	}
}

func TestPatchConfig_TogglesMuteAndPause(t *testing.T) {
	r, eng := testRouter(t, &fakeBackend{})

	req := httptest.NewRequest(http.MethodPatch, "/monitor/api/v1/config",
		strings.NewReader(`{"muted":true,"paused":true,"trend_threshold":0.2}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"muted":true`) || !strings.Contains(body, `"paused":true`) {
		t.Fatalf("expected muted and paused, got: %s", body)
	}
	if !eng.Muted() || !eng.Paused() {
		t.Fatalf("expected engine muted and paused")
	}

	req = httptest.NewRequest(http.MethodPatch, "/monitor/api/v1/config",
		strings.NewReader(`{"muted":false,"paused":false}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if eng.Muted() || eng.Paused() {
		t.Fatalf("expected engine unmuted and resumed")
	}
}

func TestRouter_MethodAndPathGuards(t *testing.T) {
	r, _ := testRouter(t, &fakeBackend{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/monitor/api/v1/queue", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/monitor/api/v1/patients/p1/bogus", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected healthy, got %d %s", w.Code, w.Body.String())
	}
}

func TestGetPatientVitals_SelectsPatient(t *testing.T) {
	now := time.Now().UTC()
	backend := seededBackend(now)
	r, eng := testRouter(t, backend)
	if err := eng.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop()

	req := httptest.NewRequest(http.MethodGet, "/monitor/api/v1/patients/p1/vitals", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"patient_id":"p1"`) {
		t.Fatalf("expected p1 detail, got: %s", w.Body.String())
	}
	if eng.Selected() != "p1" {
		t.Fatalf("expected p1 selected, got %q", eng.Selected())
	}
}
