// Package domain contains core concepts of the chat system.
// This file defines Room entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"sort"
	"strings"
	"time"

	"chat-rooms/errors"

	"github.com/google/uuid"
)

type RoomID string

type RoomKind string

const (
	KindDirect RoomKind = "DIRECT"
	KindGroup  RoomKind = "GROUP"
)

// Room is a conversation scope with a fixed member set.
// Billing fields (IsPaid, Price) are opaque metadata carried for the
// collaborator surface; nothing in the messaging core interprets them.
type Room struct {
	ID        RoomID
	Kind      RoomKind
	Name      string
	Members   []string
	IsPaid    bool
	Price     float64
	CreatedAt time.Time
}

// NewDirectRoom builds a 1-on-1 room. Exactly two distinct members,
// enforced here so no creation path can produce a malformed direct room.
func NewDirectRoom(a, b string) (Room, error) {
	if a == "" || b == "" || a == b {
		return Room{}, errors.ErrDirectRoomMembers
	}
	return Room{
		ID:        RoomID(uuid.NewString()),
		Kind:      KindDirect,
		Members:   []string{a, b},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewGroupRoom builds a group room containing only its creator.
// Further members are added through the membership surface.
func NewGroupRoom(name, creator string, isPaid bool, price float64) (Room, error) {
	if strings.TrimSpace(name) == "" {
		return Room{}, errors.ErrRoomNameRequired
	}
	return Room{
		ID:        RoomID(uuid.NewString()),
		Kind:      KindGroup,
		Name:      name,
		Members:   []string{creator},
		IsPaid:    isPaid,
		Price:     price,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (r Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// DisplayNameFor resolves the name shown to a viewer.
// A direct room is displayed as the other member's name.
func (r Room) DisplayNameFor(viewerID string, username func(userID string) string) string {
	if r.Kind != KindDirect {
		return r.Name
	}
	for _, m := range r.Members {
		if m != viewerID {
			return username(m)
		}
	}
	return r.Name
}

// DirectPairKey returns a canonical key for an unordered member pair.
// Two direct rooms with the same pair collide on this key, which is how
// the repository deduplicates direct room creation.
func DirectPairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}
