// Package event defines the closed set of broadcast variants delivered to
// connected sessions. Unknown inbound shapes are rejected at the transport
// layer before they can become events.
package event

import (
	"time"

	"chat-rooms/domain"

	"github.com/google/uuid"
)

type DomainEvent interface {
	RoomID() domain.RoomID
}

// MessagePosted is emitted after a message has been durably committed.
type MessagePosted struct {
	ID       uuid.UUID
	Room     domain.RoomID
	SenderID string
	Content  string
	At       time.Time
}

func (m MessagePosted) RoomID() domain.RoomID {
	return m.Room
}

type ReactionAction string

const (
	ActionAdd    ReactionAction = "add"
	ActionRemove ReactionAction = "remove"
)

type ReactionUpdated struct {
	Room      domain.RoomID
	MessageID uuid.UUID
	UserID    string
	Emoji     string
	Action    ReactionAction
}

func (r ReactionUpdated) RoomID() domain.RoomID {
	return r.Room
}

// MessagesRead notifies a room that a reader marked its unread messages read.
type MessagesRead struct {
	Room     domain.RoomID
	UserID   string
	Username string
}

func (m MessagesRead) RoomID() domain.RoomID {
	return m.Room
}
