package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"chat-rooms/auth"
	"chat-rooms/domain"
	"chat-rooms/errors"
	"chat-rooms/observability"
	"chat-rooms/runtime"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type Handler struct {
	orchestrator         *runtime.Orchestrator
	monitoring           *observability.Monitoring
	log                  *slog.Logger
	connectionBufferSize int
	upgrader             websocket.Upgrader
}

func NewHandler(orchestrator *runtime.Orchestrator, monitoring *observability.Monitoring,
	log *slog.Logger, connectionBufferSize int) *Handler {
	return &Handler{
		orchestrator:         orchestrator,
		monitoring:           monitoring,
		log:                  log,
		connectionBufferSize: connectionBufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{roomID}", h.handleChat)
}

// handleChat runs the Connecting phase: token and room membership are
// checked before the upgrade, so a rejected client never becomes Joined and
// the underlying transport is refused with a plain HTTP status.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	roomID := domain.RoomID(chi.URLParam(r, "roomID"))
	room, err := h.orchestrator.Authorize(roomID, claims.UserID)
	if err == errors.ErrNotFound {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err == errors.ErrNotMember {
		http.Error(w, "not a member of this room", http.StatusForbidden)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	session := newSession(conn, room.ID, claims.UserID,
		h.orchestrator, h.monitoring, h.log, h.connectionBufferSize)

	// Joined: from here on the session receives every broadcast of the room.
	h.orchestrator.RegisterParticipant(session.id, room.ID, session)
	h.log.Info("Session joined",
		"session_id", session.id, "room_id", room.ID, "user_id", claims.UserID)

	go session.writePump()
	session.readPump(r.Context())
}

// authenticate accepts the token either as a query parameter (browser
// WebSocket clients cannot set headers) or as a bearer header.
func (h *Handler) authenticate(r *http.Request) (*auth.CustomClaims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return nil, errors.ErrInvalidToken
	}
	return auth.ValidateToken(token)
}
