// Package locking manages the edit lock on navigation trees.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/session"
)

// ErrLockHeld reports that another session holds the lock
var ErrLockHeld = errors.New("tree is locked by another session")

// DefaultReleaseTimeout bounds the release attempted by an auto-unlock teardown
const DefaultReleaseTimeout = 5 * time.Second

// LockState is what the editor shows for a tree
type LockState struct {
	// IsLocked is true only when this session holds the lock
	IsLocked bool `json:"is_locked"`

	// ShowReadOnlyOverlay is set whenever this session does not hold the
	// lock, including when nobody does
	ShowReadOnlyOverlay bool `json:"show_read_only_overlay"`

	// LockInfo is the current holder, nil when unlocked
	LockInfo *models.TreeLock `json:"lock_info,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// HeldByOther reports whether another session holds the lock
func (s LockState) HeldByOther() bool {
	return !s.IsLocked && s.LockInfo != nil
}

// Manager tracks lock state per tree for one session.
//
// Locks have no server-side expiry or heartbeat. A console that exits without
// running its auto-unlock teardown leaves the lock held until someone
// releases it on the host.
type Manager struct {
	client  LockClient
	session *session.Session
	clock   clock.Clock
	logger  logging.Logger

	mu     sync.RWMutex
	states map[string]LockState
}

// NewManager creates a lock manager for sess
func NewManager(client LockClient, sess *session.Session, clk clock.Clock, logger logging.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		client:  client,
		session: sess,
		clock:   clk,
		logger:  logger,
		states:  make(map[string]LockState),
	}
}

// CheckLockStatus queries the holder of treeID and updates the tree state.
// When the host cannot be reached the tree falls back to read-only.
func (m *Manager) CheckLockStatus(ctx context.Context, treeID string) (LockState, error) {
	holder, err := m.client.Status(ctx, treeID)
	if err != nil {
		m.logger.Warn("Lock status unavailable, using read-only mode",
			logging.F("tree_id", treeID), logging.Err(err))
		return m.setState(treeID, nil), err
	}
	return m.setState(treeID, holder), nil
}

// Acquire tries to take the lock on treeID. Contention is not an error: it
// returns false after refreshing the state with the actual holder.
func (m *Manager) Acquire(ctx context.Context, treeID string) (bool, error) {
	resp, err := m.client.Acquire(ctx, m.request(treeID))
	if err != nil {
		m.setState(treeID, nil)
		return false, err
	}

	if resp.Success {
		lock := resp.Lock
		if lock == nil {
			lock = &models.TreeLock{
				TreeID:     treeID,
				SessionID:  m.session.ID,
				UserID:     m.session.UserID,
				AcquiredAt: m.clock.Now(),
			}
		}
		m.setState(treeID, lock)
		m.logger.Info("Tree lock acquired", logging.F("tree_id", treeID))
		return true, nil
	}

	state, err := m.CheckLockStatus(ctx, treeID)
	if err != nil {
		return false, nil
	}
	holder := "unknown"
	if state.LockInfo != nil {
		holder = state.LockInfo.UserID
	}
	m.logger.Warn("Tree lock not acquired",
		logging.F("tree_id", treeID),
		logging.Err(fmt.Errorf("%w: held by %s", ErrLockHeld, holder)))
	return false, nil
}

// Release gives up the lock on treeID. Releasing a lock this session does
// not hold is not an error.
func (m *Manager) Release(ctx context.Context, treeID string) error {
	if err := m.client.Release(ctx, m.request(treeID)); err != nil {
		return err
	}
	m.setState(treeID, nil)
	m.logger.Info("Tree lock released", logging.F("tree_id", treeID))
	return nil
}

// SetupAutoUnlock returns a teardown func that releases the lock on treeID.
// Failures are logged and never returned. The func is safe to call more
// than once.
func (m *Manager) SetupAutoUnlock(treeID string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultReleaseTimeout)
			defer cancel()
			if err := m.Release(ctx, treeID); err != nil {
				m.logger.Warn("Automatic unlock failed", logging.F("tree_id", treeID), logging.Err(err))
			}
		})
	}
}

// State returns the last known state of treeID. Trees never checked are
// read-only.
func (m *Manager) State(treeID string) LockState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[treeID]; ok {
		return state
	}
	return LockState{ShowReadOnlyOverlay: true}
}

// IsLocked reports whether this session holds the lock on treeID
func (m *Manager) IsLocked(treeID string) bool {
	return m.State(treeID).IsLocked
}

// Session returns the session the manager acts for
func (m *Manager) Session() *session.Session {
	return m.session
}

func (m *Manager) setState(treeID string, holder *models.TreeLock) LockState {
	isLocked := holder != nil && m.session.Owns(holder.SessionID)
	state := LockState{
		IsLocked:            isLocked,
		ShowReadOnlyOverlay: !isLocked,
		LockInfo:            holder,
		CheckedAt:           m.clock.Now(),
	}
	m.mu.Lock()
	m.states[treeID] = state
	m.mu.Unlock()
	return state
}

func (m *Manager) request(treeID string) models.LockRequest {
	return models.LockRequest{
		TreeID:    treeID,
		SessionID: m.session.ID,
		UserID:    m.session.UserID,
	}
}
