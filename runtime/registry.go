package runtime

import (
	"sync"

	"chat-rooms/contract"
	"chat-rooms/domain"
)

type Set map[string]struct{}

// Registry is the process-wide map from room to currently attached sessions.
// It holds connection state only; nothing here survives a restart.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]contract.EventSink // map session -> Sink
	roomSessions map[domain.RoomID]Set         // map room to session IDs
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[string]contract.EventSink),
		roomSessions: make(map[domain.RoomID]Set),
	}
}

// GetSinksForRoom retrieves all active communication channels for a specific room.
// It performs a two-step lookup:
// 1. Identifies session IDs associated with the room via roomSessions.
// 2. Resolves those IDs into actual EventSinks using the sessions map.
//
// Sessions that already detached are simply absent and silently skipped.
// Returns nil if the room doesn't exist or has no attached session.
func (r *Registry) GetSinksForRoom(roomID domain.RoomID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomSessions[roomID]
	if !ok {
		return nil
	}
	var activeSinks []contract.EventSink
	for sessionID := range members {
		if sink, exists := r.sessions[sessionID]; exists {
			activeSinks = append(activeSinks, sink)
		}
	}
	return activeSinks
}

// Subscribe registers a session's active connection and assigns it to a room.
// Idempotent per session: re-subscribing the same session replaces its sink.
// If the room does not yet exist in the registry, it is initialized on the fly.
func (r *Registry) Subscribe(sessionID string, roomID domain.RoomID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = sink

	if _, ok := r.roomSessions[roomID]; !ok {
		r.roomSessions[roomID] = make(Set)
	}
	r.roomSessions[roomID][sessionID] = struct{}{}
}

// Unsubscribe removes a session from the registry and its room.
// It cleans up the session and ensures no empty sets are left in the room map
// to prevent memory leaks over time. Safe to call more than once.
func (r *Registry) Unsubscribe(sessionID string, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)

	if members, ok := r.roomSessions[roomID]; ok {
		delete(members, sessionID)

		// If no one is left in the room, remove the room entry entirely
		if len(members) == 0 {
			delete(r.roomSessions, roomID)
		}
	}
}

// SessionCount reports the number of live sessions, for the stats surface.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
