package journal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// HandleRecent serves GET /api/journal?limit=N.
func (j *Journal) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "limit must be an integer"})
			return
		}
		limit = n
	}

	events, err := j.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to read journal", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
