package handlers

import "net/http"

func (api *API) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cache":     api.cache.Stats(),
		"usage":     api.optimizer.Usage(),
		"pipelines": api.manager.Health(),
	})
}
