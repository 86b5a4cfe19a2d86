package handlers

import "net/http"

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	summary := api.manager.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         summary.Status,
		"active_jobs":    summary.ActiveJobs,
		"failed_jobs":    summary.FailedJobs,
		"completed_jobs": summary.CompletedJobs,
	})
}
