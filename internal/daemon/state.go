// Package daemon wires every engine built across this module into the
// unix-socket RPC server described in spec §4.15. State.go implements
// the single-writer DaemonState object spec §9 calls for: every piece
// of shared in-memory state lives behind one mutex, never as a
// process-wide global.
package daemon

import (
	"sync"
	"time"

	"github.com/boshu2/agentctl/internal/task"
)

// ConnInfo is what the daemon remembers about an authenticated connection.
type ConnInfo struct {
	Account    string
	Token      string
	ConnectedAt time.Time
	LastActive time.Time
}

// State is the daemon's single-writer shared mutable state (spec §9).
// Every field here is guarded by mu; callers must not read/write the
// maps directly.
type State struct {
	mu sync.Mutex

	board task.Board

	connected map[string]*ConnInfo
	health    map[string]time.Time

	expectedFiles map[string][]string // sessionID -> expected files
}

// NewState returns an empty State with an empty task board.
func NewState() *State {
	return &State{
		board:         task.NewBoard(),
		connected:     make(map[string]*ConnInfo),
		health:        make(map[string]time.Time),
		expectedFiles: make(map[string][]string),
	}
}

// Board returns a snapshot of the current task board.
func (s *State) Board() task.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// UpdateBoard atomically replaces the board with the result of fn, which
// receives the current board and returns the new one plus any error. On
// error the board is left untouched, matching the mutator contract.
func (s *State) UpdateBoard(fn func(task.Board) (task.Board, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.board)
	if err != nil {
		return err
	}
	s.board = next
	return nil
}

// MarkConnected records an authenticated connection.
func (s *State) MarkConnected(account, token string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[account] = &ConnInfo{Account: account, Token: token, ConnectedAt: now, LastActive: now}
	s.health[account] = now
}

// MarkActive refreshes the health timestamp for account (healthMonitor.markActive).
func (s *State) MarkActive(account string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[account] = now
	if c, ok := s.connected[account]; ok {
		c.LastActive = now
	}
}

// MarkDisconnected drops a connection's tracked state.
func (s *State) MarkDisconnected(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connected, account)
}

// VerifyToken checks tok against the token recorded for account at
// auth time (session-scoped verification for a live connection).
func (s *State) VerifyToken(account, tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connected[account]
	return ok && c.Token == tok
}

// SetExpectedFiles records the expected-files set for a session id.
func (s *State) SetExpectedFiles(sessionID string, files []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedFiles[sessionID] = files
}

// ExpectedFiles returns the expected-files set for a session id.
func (s *State) ExpectedFiles(sessionID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.expectedFiles[sessionID]
	return files, ok
}

// HealthSnapshot returns a copy of the account->lastActive health map.
func (s *State) HealthSnapshot() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.health))
	for k, v := range s.health {
		out[k] = v
	}
	return out
}
