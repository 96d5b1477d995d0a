package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chat-rooms/auth"
	"chat-rooms/domain"
	"chat-rooms/errors"
	"chat-rooms/observability"
	"chat-rooms/repositories"
	"chat-rooms/runtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const defaultSearchLimit = 20

var validate = validator.New()

type Handler struct {
	orchestrator  *runtime.Orchestrator
	users         repositories.IUserRepository
	registry      *runtime.Registry
	monitoring    *observability.Monitoring
	log           *slog.Logger
	tokenDuration time.Duration
}

func NewHandler(orchestrator *runtime.Orchestrator, users repositories.IUserRepository,
	registry *runtime.Registry, monitoring *observability.Monitoring,
	log *slog.Logger, tokenDuration time.Duration) *Handler {
	return &Handler{
		orchestrator:  orchestrator,
		users:         users,
		registry:      registry,
		monitoring:    monitoring,
		log:           log,
		tokenDuration: tokenDuration,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := auth.ValidateRegister(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("Password hashing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.users.CreateUser(req.Email, req.Username, hashed)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, user.Roles, h.tokenDuration)
	if err != nil {
		h.log.Error("Token generation failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.log.Info("User registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  userResponse{ID: user.ID, Username: user.Username},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := auth.ValidateLogin(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.GetUserByEmail(req.Email)
	if err != nil {
		// Same answer whether the account exists or the password is wrong.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	match, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, user.Roles, h.tokenDuration)
	if err != nil {
		h.log.Error("Token generation failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userResponse{ID: user.ID, Username: user.Username},
	})
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	views, err := h.orchestrator.ListRooms(claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(views, func(view domain.RoomView, _ int) roomResponse {
		return toRoomResponse(view)
	}))
}

func (h *Handler) handleCreateDirectRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req directRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, created, err := h.orchestrator.CreateDirectRoom(claims.UserID, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toRoomResponse(domain.RoomView{
		Room:        room,
		DisplayName: room.DisplayNameFor(claims.UserID, h.orchestrator.Username),
	}))
}

func (h *Handler) handleCreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if !hasRole(claims, "admin") {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req groupRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.orchestrator.CreateGroupRoom(claims.UserID, req.Name, req.IsPaid, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomResponse(domain.RoomView{
		Room:        room,
		DisplayName: room.Name,
	}))
}

func (h *Handler) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	if err := h.orchestrator.DeleteRoom(roomID, claims.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory serves the room's full ordered history. Fetching it marks
// the viewer's unread messages as read and notifies the room.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	views, err := h.orchestrator.History(r.Context(), domain.FetchHistoryCommand{
		Room:     roomID,
		ViewerID: claims.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(views, func(view domain.MessageView, _ int) messageResponse {
		return toMessageResponse(view)
	}))
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := h.orchestrator.PostMessage(r.Context(), domain.PostMessageCommand{
		Room:     roomID,
		SenderID: claims.UserID,
		Content:  req.Content,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(domain.MessageView{
		Message:    message,
		SenderName: h.orchestrator.Username(message.SenderID),
		Reactions:  []domain.ReactionSummary{},
	}))
}

func (h *Handler) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	h.handleReaction(w, r, true)
}

func (h *Handler) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	h.handleReaction(w, r, false)
}

func (h *Handler) handleReaction(w http.ResponseWriter, r *http.Request, add bool) {
	claims := claimsFrom(r)
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeDomainError(w, errors.ErrMissingEmoji)
		return
	}

	var view domain.MessageView
	if add {
		view, err = h.orchestrator.AddReaction(r.Context(), domain.AddReactionCommand{
			Room:      roomID,
			MessageID: messageID,
			UserID:    claims.UserID,
			Emoji:     req.Emoji,
		})
	} else {
		view, err = h.orchestrator.RemoveReaction(r.Context(), domain.RemoveReactionCommand{
			Room:      roomID,
			MessageID: messageID,
			UserID:    claims.UserID,
			Emoji:     req.Emoji,
		})
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(view))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	roomID := domain.RoomID(chi.URLParam(r, "roomID"))

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	views, err := h.orchestrator.SearchMessages(r.Context(), roomID, claims.UserID, query, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(views, func(view domain.MessageView, _ int) messageResponse {
		return toMessageResponse(view)
	}))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitoring.Snapshot(h.registry.SessionCount()))
}
