package web

import (
	"time"

	"chat-rooms/domain"
)

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type messageResponse struct {
	ID        string                   `json:"id"`
	Room      string                   `json:"room"`
	Sender    userResponse             `json:"sender"`
	Content   string                   `json:"content"`
	Timestamp time.Time                `json:"timestamp"`
	IsRead    bool                     `json:"is_read"`
	Reactions []domain.ReactionSummary `json:"reactions"`
}

type roomResponse struct {
	ID          string           `json:"id"`
	Kind        string           `json:"kind"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Members     []string         `json:"members"`
	IsPaid      bool             `json:"is_paid"`
	Price       float64          `json:"price"`
	CreatedAt   time.Time        `json:"created_at"`
	LastMessage *messageResponse `json:"last_message,omitempty"`
}

type directRoomRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type groupRoomRequest struct {
	Name   string  `json:"name" validate:"required,min=1,max=128"`
	IsPaid bool    `json:"is_paid"`
	Price  float64 `json:"price" validate:"gte=0"`
}

type postMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

func toMessageResponse(view domain.MessageView) messageResponse {
	reactions := view.Reactions
	if reactions == nil {
		reactions = []domain.ReactionSummary{}
	}
	return messageResponse{
		ID:   view.ID.String(),
		Room: string(view.Room),
		Sender: userResponse{
			ID:       view.SenderID,
			Username: view.SenderName,
		},
		Content:   view.Content,
		Timestamp: view.CreatedAt,
		IsRead:    view.IsRead,
		Reactions: reactions,
	}
}

func toRoomResponse(view domain.RoomView) roomResponse {
	resp := roomResponse{
		ID:          string(view.ID),
		Kind:        string(view.Kind),
		Name:        view.Name,
		DisplayName: view.DisplayName,
		Members:     view.Members,
		IsPaid:      view.IsPaid,
		Price:       view.Price,
		CreatedAt:   view.CreatedAt,
	}
	if view.LastMessage != nil {
		last := toMessageResponse(*view.LastMessage)
		resp.LastMessage = &last
	}
	return resp
}
