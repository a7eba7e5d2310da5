package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vitalwatch/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// MonitoringClient talks to the hospital monitoring backend. All
// interfaces are JSON over HTTP, polled rather than pushed.
type MonitoringClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewMonitoringClient creates a client. The per-request timeout is the
// fetch bound for one scheduler tick; the scheduler additionally caps it
// with the tick's own context.
func NewMonitoringClient(baseURL string, timeout time.Duration, logger *zap.Logger) *MonitoringClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &MonitoringClient{
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListPatients fetches the monitored patients with their latest embedded
// vitals. GET /monitoring/patients
func (c *MonitoringClient) ListPatients(ctx context.Context) ([]models.Patient, error) {
	var patients []models.Patient
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&patients).
		Get("/monitoring/patients")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch patients: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("patients fetch returned status %d", resp.StatusCode())
	}
	return patients, nil
}

// ListAlerts fetches the backend's view of active/acknowledged alerts.
// GET /monitoring/alerts
func (c *MonitoringClient) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&alerts).
		Get("/monitoring/alerts")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("alerts fetch returned status %d", resp.StatusCode())
	}
	return alerts, nil
}

// VitalsHistory fetches the ordered reading history for one patient.
// GET /monitoring/vitals-history/{patientId}?hours=N
func (c *MonitoringClient) VitalsHistory(ctx context.Context, patientID string, hours int) ([]models.VitalSignReading, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if hours <= 0 {
		hours = 24
	}

	var readings []models.VitalSignReading
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("patientId", patientID).
		SetQueryParam("hours", fmt.Sprintf("%d", hours)).
		SetResult(&readings).
		Get("/monitoring/vitals-history/{patientId}")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vitals history: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("vitals history fetch returned status %d", resp.StatusCode())
	}
	return readings, nil
}

// AcknowledgeAlert submits an operator acknowledgment.
// POST /monitoring/alerts/{id}/acknowledge
//
// The backend treats acknowledging an already-acknowledged or
// already-cleared alert as a no-op; 404 and 409 map to no-op success
// here so a double-click or a race with a clear never surfaces an error.
func (c *MonitoringClient) AcknowledgeAlert(ctx context.Context, alertID, userID string) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", alertID).
		SetBody(map[string]string{"acknowledged_by": userID}).
		Post("/monitoring/alerts/{id}/acknowledge")
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusConflict:
		c.logger.Debug("Acknowledge was a no-op",
			zap.String("alert_id", alertID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("acknowledge returned status %d", resp.StatusCode())
	}
	return nil
}

// UpdateMonitoringConfig pushes cadence/threshold settings to the
// backend. PATCH /monitoring/config. Optional for the backend; the
// engine keeps its local defaults regardless of the outcome.
func (c *MonitoringClient) UpdateMonitoringConfig(ctx context.Context, patch map[string]any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(patch).
		Patch("/monitoring/config")
	if err != nil {
		return fmt.Errorf("failed to update monitoring config: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("config update returned status %d", resp.StatusCode())
	}
	return nil
}

// SubmitTriage records a triage assessment made by clinical staff.
// POST /triage
func (c *MonitoringClient) SubmitTriage(ctx context.Context, assessment models.TriageAssessment) error {
	if assessment.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if assessment.Priority < 1 || assessment.Priority > 5 {
		return fmt.Errorf("priority must be between 1 and 5")
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(assessment).
		Post("/triage")
	if err != nil {
		return fmt.Errorf("failed to submit triage assessment: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("triage submit returned status %d", resp.StatusCode())
	}
	return nil
}
