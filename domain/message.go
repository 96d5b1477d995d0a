// Package domain contains core concepts of the chat system.
// This file defines Message entities and related rules.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat event inside a room. The only mutable field is IsRead,
// which flips to true once and never back.
type Message struct {
	ID        uuid.UUID
	Room      RoomID
	SenderID  string
	Content   string
	CreatedAt time.Time
	IsRead    bool
}

// MessageView is a message enriched for a specific viewer: sender name
// resolved, reactions folded into per-emoji summaries.
type MessageView struct {
	Message
	SenderName string
	Reactions  []ReactionSummary
}

// RoomView is a room enriched for the listing surface.
type RoomView struct {
	Room
	DisplayName string
	LastMessage *MessageView
}
