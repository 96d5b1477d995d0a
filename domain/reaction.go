// Package domain contains core concepts of the chat system.
// This file defines Reaction entities and the summary fold served to clients.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reaction is a single emoji a user attaches to a message.
// A user holds at most one reaction per message; upserting replaces it.
type Reaction struct {
	MessageID uuid.UUID
	UserID    string
	Username  string
	Emoji     string
	CreatedAt time.Time
}

type ReactingUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type ReactionSummary struct {
	Emoji       string         `json:"emoji"`
	Count       int            `json:"count"`
	Users       []ReactingUser `json:"users"`
	UserReacted bool           `json:"user_reacted"`
}

// SummarizeReactions folds raw reaction rows into per-emoji groups.
// Groups appear in order of their first reaction, users in insertion order,
// so the output is deterministic for a given input sequence. Because a user
// holds a single reaction per message, UserReacted is true for at most one
// group per viewer.
func SummarizeReactions(reactions []Reaction, viewerID string) []ReactionSummary {
	var order []string
	groups := make(map[string]*ReactionSummary)

	for _, r := range reactions {
		summary, ok := groups[r.Emoji]
		if !ok {
			summary = &ReactionSummary{Emoji: r.Emoji}
			groups[r.Emoji] = summary
			order = append(order, r.Emoji)
		}
		summary.Count++
		summary.Users = append(summary.Users, ReactingUser{ID: r.UserID, Username: r.Username})
		if viewerID != "" && r.UserID == viewerID {
			summary.UserReacted = true
		}
	}

	out := make([]ReactionSummary, 0, len(order))
	for _, emoji := range order {
		out = append(out, *groups[emoji])
	}
	return out
}
