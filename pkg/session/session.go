// Package session holds the identity a console instance acts under.
package session

import (
	"github.com/google/uuid"
)

// Session is the explicit identity passed to every component that talks to the
// host. A new Session is created per console process; its ID is what lock
// ownership is compared against.
type Session struct {
	// ID is unique per console process
	ID string

	// UserID identifies the operator
	UserID string

	// HostName is the host that drives the device
	HostName string

	// DeviceID is the device under test
	DeviceID string

	// Token is sent as a bearer token on every request
	Token string
}

// New creates a session with a fresh random ID
func New(userID, hostName, deviceID string) *Session {
	return &Session{
		ID:       uuid.New().String(),
		UserID:   userID,
		HostName: hostName,
		DeviceID: deviceID,
	}
}

// Owns reports whether a lock held by sessionID belongs to this session
func (s *Session) Owns(sessionID string) bool {
	return sessionID != "" && sessionID == s.ID
}

// Authorize signs a bearer token for the session when a secret is configured
func (s *Session) Authorize(tokens *TokenService) error {
	if tokens == nil {
		return nil
	}
	token, err := tokens.GenerateToken(s)
	if err != nil {
		return err
	}
	s.Token = token
	return nil
}
