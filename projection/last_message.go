// Package projection builds local read models from observed events.
// Handles ordering and lookups; does not emit events or touch transports.
package projection

import (
	"context"
	"sync"

	"chat-rooms/domain"
	"chat-rooms/domain/event"
)

// LastMessages keeps the most recent message per room, fed by the fan-out.
// It only knows about messages posted since the process started; callers
// fall back to storage for rooms that were quiet so far.
type LastMessages struct {
	mu     sync.RWMutex
	byRoom map[domain.RoomID]domain.Message
}

func NewLastMessages() *LastMessages {
	return &LastMessages{byRoom: make(map[domain.RoomID]domain.Message)}
}

func (l *LastMessages) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessagePosted:
		l.mu.Lock()
		l.byRoom[evt.Room] = domain.Message{
			ID:        evt.ID,
			Room:      evt.Room,
			SenderID:  evt.SenderID,
			Content:   evt.Content,
			CreatedAt: evt.At,
		}
		l.mu.Unlock()
	}
	return nil
}

func (l *LastMessages) Get(roomID domain.RoomID) (domain.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	message, ok := l.byRoom[roomID]
	return message, ok
}
