package models

import "time"

// TreeLock is the edit ownership of a tree.
// TreeID is the user interface identifier the tree belongs to.
type TreeLock struct {
	TreeID     string    `json:"tree_id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockRequest is the body of lock acquire and release calls
type LockRequest struct {
	TreeID    string `json:"tree_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// LockResponse is returned by lock status and acquire calls
type LockResponse struct {
	Success bool      `json:"success"`
	Lock    *TreeLock `json:"lock"`
	Error   string    `json:"error,omitempty"`
}
