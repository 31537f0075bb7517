package api

import (
	"errors"
	"net/http"

	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/middleware"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

// handleLockStatus returns the holder of the treeId lock, null when unlocked
func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	treeID := r.URL.Query().Get("treeId")
	if treeID == "" {
		writeJSON(w, http.StatusBadRequest, models.LockResponse{Error: "treeId is required"})
		return
	}

	lock, err := s.locks.GetLock(treeID)
	if err != nil {
		s.logger.Error("Failed to get lock", logging.F("tree_id", treeID), logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, models.LockResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, models.LockResponse{Success: true, Lock: lock})
}

// handleLockAcquire grants the lock or answers 409 with the current holder
func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	req, ok := s.lockRequest(w, r)
	if !ok {
		return
	}

	lock, err := s.locks.AcquireLock(models.TreeLock{
		TreeID:     req.TreeID,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		AcquiredAt: s.clock.Now(),
	})
	switch {
	case errors.Is(err, storage.ErrLockHeld):
		writeJSON(w, http.StatusConflict, models.LockResponse{Lock: lock, Error: "tree is locked by another session"})
		return
	case errors.Is(err, storage.ErrInvalidLock):
		writeJSON(w, http.StatusBadRequest, models.LockResponse{Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("Failed to acquire lock", logging.F("tree_id", req.TreeID), logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, models.LockResponse{Error: err.Error()})
		return
	}

	s.logger.Info("Tree lock acquired", logging.F("tree_id", req.TreeID), logging.F("user_id", req.UserID))
	writeJSON(w, http.StatusOK, models.LockResponse{Success: true, Lock: lock})
}

// handleLockRelease removes the lock of the requesting session
func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	req, ok := s.lockRequest(w, r)
	if !ok {
		return
	}

	if err := s.locks.ReleaseLock(req.TreeID, req.SessionID); err != nil {
		s.logger.Error("Failed to release lock", logging.F("tree_id", req.TreeID), logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, models.LockResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, models.LockResponse{Success: true})
}

// lockRequest decodes a lock body. When the caller is authenticated the
// session in the body must be the session of the token.
func (s *Server) lockRequest(w http.ResponseWriter, r *http.Request) (models.LockRequest, bool) {
	var req models.LockRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.LockResponse{Error: err.Error()})
		return req, false
	}
	if req.TreeID == "" || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, models.LockResponse{Error: "tree_id and session_id are required"})
		return req, false
	}

	if claims, ok := middleware.GetClaims(r); ok && claims.SessionID != "" && claims.SessionID != req.SessionID {
		writeJSON(w, http.StatusForbidden, models.LockResponse{Error: "session does not match token"})
		return req, false
	}
	return req, true
}

// checkEditable refuses a mutation when an authenticated caller does not hold
// a lock that another session holds
func (s *Server) checkEditable(w http.ResponseWriter, r *http.Request, treeID string) bool {
	claims, ok := middleware.GetClaims(r)
	if !ok {
		return true
	}

	lock, err := s.locks.GetLock(treeID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.TreeResponse{Error: err.Error()})
		return false
	}
	if lock != nil && lock.SessionID != claims.SessionID {
		writeJSON(w, http.StatusLocked, models.TreeResponse{Error: "tree is locked by " + lock.UserID})
		return false
	}
	return true
}
