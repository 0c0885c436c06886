package endpoints

import (
	"net/http"

	"github.com/EasterCompany/dex-triage-service/services"
	"github.com/EasterCompany/dex-triage-service/utils"
)

// handleService provides a comprehensive status report for the service.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	metrics := services.RuntimeMetrics()
	metrics["capture"] = s.router.Stats()
	metrics["tasks"] = s.executor.Stats().Snapshot()
	if s.model != nil {
		metrics["model"] = s.model.Stats()
	}
	metrics["task_history"] = s.store != nil

	report := utils.ServiceReport{
		Service: ServiceName,
		Version: utils.GetVersion(),
		Health:  utils.GetHealth(),
		Metrics: metrics,
	}

	// Check health status to set the correct HTTP status code
	status := http.StatusOK
	if report.Health.Status != utils.StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
