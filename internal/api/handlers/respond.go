package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/onnwee/event-companion/backend/internal/logger"
)

const log = logger.Component("api")

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Ctx(r.Context()).Warn("Failed to encode response", "path", r.URL.Path, "error", err)
	}
}
