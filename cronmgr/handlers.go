package cronmgr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

func (cm *CronManager) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/jobs", cm.HandleGetJobs).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{id}", cm.HandleGetJob).Methods(http.MethodGet)
	router.HandleFunc("/api/jobs/{id}/run", cm.HandleRunJob).Methods(http.MethodPost)
}

func (cm *CronManager) HandleGetJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cm.GetAllJobs())
}

func (cm *CronManager) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := cm.GetJob(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleRunJob runs a job synchronously and returns its updated state. A job
// that fails still yields 200; the failure is reported in lastError.
func (cm *CronManager) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := cm.RunNow(id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Job not found"})
		return
	case errors.Is(err, ErrJobRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Job is already running"})
		return
	}

	job, err := cm.GetJob(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
