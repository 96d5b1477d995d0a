package domain

import (
	"github.com/google/uuid"
)

// Command is an inbound intent scoped to a single room.
type Command interface {
	RoomID() RoomID
}

type PostMessageCommand struct {
	Room     RoomID
	SenderID string
	Content  string
}

func (p PostMessageCommand) RoomID() RoomID {
	return p.Room
}

type AddReactionCommand struct {
	Room      RoomID
	MessageID uuid.UUID
	UserID    string
	Emoji     string
}

func (a AddReactionCommand) RoomID() RoomID {
	return a.Room
}

type RemoveReactionCommand struct {
	Room      RoomID
	MessageID uuid.UUID
	UserID    string
	Emoji     string
}

func (r RemoveReactionCommand) RoomID() RoomID {
	return r.Room
}

type FetchHistoryCommand struct {
	Room     RoomID
	ViewerID string
}

func (f FetchHistoryCommand) RoomID() RoomID {
	return f.Room
}
