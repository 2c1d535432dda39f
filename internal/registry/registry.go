// Package registry implements C6, the per-instance in-memory index of
// owned sessions: sessions, the active-player binding, and per-session
// fan-out. The three maps are guarded by independent locks, grounded on
// the teacher's party.Manager (RWMutex-guarded map, atomic id counter) and
// login.SessionManager (sync.Map-based player index).
package registry

import (
	"errors"
	"sync"

	"github.com/udisondev/wagerboard/internal/core"
)

// ErrSessionNotFound is returned by operations addressing a game_id this
// instance does not own.
var ErrSessionNotFound = errors.New("registry: session not found")

// ErrAlreadyBound is returned when a player is already present in another
// active session's binding.
var ErrAlreadyBound = errors.New("registry: player already bound to a session")

// Registry is the C6 session registry. Zero value is not usable; use New.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session

	playersMu     sync.Mutex
	activePlayers map[string]string

	fanoutMu sync.Mutex
	fanouts  map[string]*fanout
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sessions:      make(map[string]*core.Session),
		activePlayers: make(map[string]string),
		fanouts:       make(map[string]*fanout),
	}
}

// CreateSession stores a newly constructed session. Returns an error if a
// session with the same GameID is already owned locally.
func (r *Registry) CreateSession(s *core.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.GameID]; exists {
		return errors.New("registry: session already exists")
	}
	r.sessions[s.GameID] = s
	return nil
}

// GetSession returns a defensive clone of the locally-owned session, or
// (nil, false) if this instance does not own gameID.
func (r *Registry) GetSession(gameID string) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[gameID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Mutate applies fn to the live session under the registry's write lock
// and returns a clone of the post-mutation state for broadcasting. fn must
// not suspend (no I/O, no channel sends) — the lock is held for its
// duration, per the locking discipline in spec §5.
func (r *Registry) Mutate(gameID string, fn func(*core.Session) error) (*core.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[gameID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// RemoveSession deletes gameID from the local index and returns its last
// known state (cloned), or (nil, false) if it was not owned locally.
func (r *Registry) RemoveSession(gameID string) (*core.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[gameID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, gameID)
	return s.Clone(), true
}

// BindPlayer associates playerID with gameID in the active-player index,
// enforcing "one game per player" locally. Returns ErrAlreadyBound if the
// player is already bound to a (possibly different) session.
func (r *Registry) BindPlayer(playerID, gameID string) error {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	if existing, ok := r.activePlayers[playerID]; ok && existing != gameID {
		return ErrAlreadyBound
	}
	r.activePlayers[playerID] = gameID
	return nil
}

// UnbindPlayer removes playerID from the active-player index.
func (r *Registry) UnbindPlayer(playerID string) {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	delete(r.activePlayers, playerID)
}

// ActiveGameFor reports the game_id playerID is currently bound to, if any.
func (r *Registry) ActiveGameFor(playerID string) (string, bool) {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	gameID, ok := r.activePlayers[playerID]
	return gameID, ok
}

// IsBound reports whether playerID has any active-player binding.
func (r *Registry) IsBound(playerID string) bool {
	_, ok := r.ActiveGameFor(playerID)
	return ok
}

// SessionsOwnedByCreator returns the game ids of every locally-owned
// WAITING session whose creator is playerID, for use by disconnect
// cleanup.
func (r *Registry) SessionsOwnedByCreator(playerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for gameID, s := range r.sessions {
		if s.State == core.Waiting && s.Creator == playerID {
			ids = append(ids, gameID)
		}
	}
	return ids
}
