// Package ws hosts the realtime side of the gateway: one Session per
// WebSocket connection, registered in the room registry for fan-out.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-rooms/domain"
	"chat-rooms/domain/event"
	"chat-rooms/observability"
	"chat-rooms/runtime"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// inboundEvent is the loose wire shape sent by clients. Type defaults to
// chat_message when absent (legacy clients omit it).
type inboundEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
}

// localError is delivered only to the session that caused it, never
// broadcast to the room.
type localError struct {
	room   domain.RoomID
	reason string
}

func (l localError) RoomID() domain.RoomID {
	return l.room
}

// Session is the server-side state of one live connection.
// Lifecycle: the handler authenticates (Connecting), registers the session
// (Joined), and close() is the single exit to Closed — safe to hit twice.
type Session struct {
	id           string
	room         domain.RoomID
	userID       string
	conn         *websocket.Conn
	orchestrator *runtime.Orchestrator
	monitoring   *observability.Monitoring
	log          *slog.Logger
	outbound     chan event.DomainEvent
	done         chan struct{}
	closeOnce    sync.Once
}

func newSession(conn *websocket.Conn, room domain.RoomID, userID string,
	orchestrator *runtime.Orchestrator, monitoring *observability.Monitoring,
	log *slog.Logger, bufferSize int) *Session {
	return &Session{
		id:           uuid.NewString(),
		room:         room,
		userID:       userID,
		conn:         conn,
		orchestrator: orchestrator,
		monitoring:   monitoring,
		log:          log,
		outbound:     make(chan event.DomainEvent, bufferSize),
		done:         make(chan struct{}),
	}
}

// Consume is called by the fanout worker.
// The outbound queue is bounded: a session that cannot keep up loses events
// instead of stalling delivery to the rest of the room.
func (s *Session) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case s.outbound <- e:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Debug("Session outbound queue full, dropping event",
			"session_id", s.id, "room_id", s.room)
		s.monitoring.IncrEventsDropped()
		return nil
	}
}

// readPump consumes inbound frames until the transport drops, dispatching
// each variant to the orchestrator. Malformed or unknown frames produce a
// local error event and no side effect.
func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var inbound inboundEvent
		if err := s.conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Session read failed", "session_id", s.id, "error", err)
			}
			return
		}

		switch inbound.Type {
		case "", "chat_message":
			s.handleChatMessage(ctx, inbound)
		case "reaction_update":
			s.handleReactionUpdate(ctx, inbound)
		default:
			s.sendError(fmt.Sprintf("unknown event type %q", inbound.Type))
		}
	}
}

func (s *Session) handleChatMessage(ctx context.Context, inbound inboundEvent) {
	_, err := s.orchestrator.PostMessage(ctx, domain.PostMessageCommand{
		Room:     s.room,
		SenderID: s.userID,
		Content:  inbound.Message,
	})
	if err != nil {
		s.sendError(err.Error())
	}
}

func (s *Session) handleReactionUpdate(ctx context.Context, inbound inboundEvent) {
	messageID, err := uuid.Parse(inbound.MessageID)
	if err != nil {
		s.sendError("invalid message_id")
		return
	}

	switch event.ReactionAction(inbound.Action) {
	case event.ActionAdd:
		_, err = s.orchestrator.AddReaction(ctx, domain.AddReactionCommand{
			Room:      s.room,
			MessageID: messageID,
			UserID:    s.userID,
			Emoji:     inbound.Emoji,
		})
	case event.ActionRemove:
		_, err = s.orchestrator.RemoveReaction(ctx, domain.RemoveReactionCommand{
			Room:      s.room,
			MessageID: messageID,
			UserID:    s.userID,
			Emoji:     inbound.Emoji,
		})
	default:
		s.sendError(fmt.Sprintf("unknown reaction action %q", inbound.Action))
		return
	}
	if err != nil {
		s.sendError(err.Error())
	}
}

// writePump serializes outbound events onto the socket. It owns all writes,
// including the keepalive pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case evt := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(encodeEvent(evt)); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// encodeEvent maps domain events to their wire shapes. Chat messages keep
// the legacy minimal frame without a type key.
func encodeEvent(evt event.DomainEvent) map[string]any {
	switch e := evt.(type) {
	case event.MessagePosted:
		return map[string]any{
			"message": e.Content,
			"user_id": e.SenderID,
		}
	case event.ReactionUpdated:
		return map[string]any{
			"type":       "reaction_update",
			"message_id": e.MessageID.String(),
			"emoji":      e.Emoji,
			"user_id":    e.UserID,
			"action":     string(e.Action),
		}
	case event.MessagesRead:
		return map[string]any{
			"type":     "messages_read",
			"user_id":  e.UserID,
			"username": e.Username,
		}
	case localError:
		return map[string]any{
			"type":  "error",
			"error": e.reason,
		}
	default:
		return map[string]any{}
	}
}

func (s *Session) sendError(reason string) {
	select {
	case s.outbound <- localError{room: s.room, reason: reason}:
	default:
	}
}

// close is reentrant-safe: the registry Leave and the transport close run
// exactly once no matter how many paths signal shutdown.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.orchestrator.UnregisterParticipant(s.id, s.room)
		close(s.done)
		_ = s.conn.Close()
		s.log.Debug("Session closed", "session_id", s.id, "room_id", s.room)
	})
}
