package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrNotMember    = fmt.Errorf("user is not a member of the room")
	ErrNotFound     = fmt.Errorf("entity not found")
	ErrEmptyContent = fmt.Errorf("message content is empty")
	ErrMissingEmoji = fmt.Errorf("emoji is required")

	ErrDirectRoomMembers = fmt.Errorf("a direct room requires exactly two members")
	ErrRoomNameRequired  = fmt.Errorf("a group room requires a name")

	ErrUserAlreadyExists = fmt.Errorf("user already exists")
	ErrInvalidPassword   = fmt.Errorf("password does not meet complexity requirements")
	ErrInvalidToken      = fmt.Errorf("invalid or expired token")
)
