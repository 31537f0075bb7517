package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/runtime"
)

// handleExecute accepts a job. A refused job is answered with success false.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ExecuteResponse{Error: err.Error()})
		return
	}

	id, err := s.runtime.Execute(models.ExecutionJob{
		Kind:     req.Kind,
		Command:  req.Command,
		Params:   req.Params,
		HostName: req.HostName,
		DeviceID: req.DeviceID,
		TreeID:   req.TreeID,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runtime.ErrInvalidJob) {
			status = http.StatusBadRequest
		}
		s.logger.Warn("Execution refused", logging.F("command", req.Command), logging.Err(err))
		writeJSON(w, status, models.ExecuteResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, models.ExecuteResponse{Success: true, ExecutionID: id})
}

// handleExecutionStatus reports the status of an execution. The hostName and
// deviceId query parameters, when given, must match the job.
func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.runtime.GetStatus(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runtime.ErrExecutionNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, models.ExecutionStatusResponse{Error: err.Error()})
		return
	}

	q := r.URL.Query()
	if host := q.Get("hostName"); host != "" && record.Job.HostName != "" && host != record.Job.HostName {
		writeJSON(w, http.StatusNotFound, models.ExecutionStatusResponse{Error: "execution not found on host " + host})
		return
	}
	if device := q.Get("deviceId"); device != "" && record.Job.DeviceID != "" && device != record.Job.DeviceID {
		writeJSON(w, http.StatusNotFound, models.ExecutionStatusResponse{Error: "execution not found on device " + device})
		return
	}

	writeJSON(w, http.StatusOK, models.ExecutionStatusResponse{
		Success: true,
		Kind:    record.Job.Kind,
		Status:  record.Status,
		Result:  record.Result,
		Error:   record.Error,
	})
}

// handleExecutionLogs returns the log entries recorded so far
func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	logs, err := s.runtime.GetLogs(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runtime.ErrExecutionNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "logs": logs})
}

// handleCancelExecution stops a running execution
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.runtime.Cancel(id); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, runtime.ErrExecutionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, runtime.ErrNotRunning):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
