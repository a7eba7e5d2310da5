package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router uses the standard library http.ServeMux (no third-party router
// dependency needed for this route surface).
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterMonitorRoutes wires the station monitoring API.
func (r *Router) RegisterMonitorRoutes(m *MonitorHandler) {
	// queue
	r.Handle("/monitor/api/v1/queue", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		m.GetQueue(w, req)
	})

	// patients
	r.Handle("/monitor/api/v1/patients", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		m.GetPatients(w, req)
	})

	// patients/{id}/vitals
	r.Handle("/monitor/api/v1/patients/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/monitor/api/v1/patients/")
		patientID, ok := strings.CutSuffix(rest, "/vitals")
		if !ok || patientID == "" || strings.Contains(patientID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		m.GetPatientVitals(w, req, patientID)
	})

	// alerts
	r.Handle("/monitor/api/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		m.GetAlerts(w, req)
	})

	// alerts/{id}/acknowledge
	r.Handle("/monitor/api/v1/alerts/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/monitor/api/v1/alerts/")
		alertID, ok := strings.CutSuffix(rest, "/acknowledge")
		if !ok || alertID == "" || strings.Contains(alertID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		m.AcknowledgeAlert(w, req, alertID)
	})

	// config
	r.Handle("/monitor/api/v1/config", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			m.GetConfig(w, req)
		case http.MethodPatch:
			m.PatchConfig(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// health
	r.Handle("/healthz", m.Healthz)
}
