package runtime

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-rooms/contract"
	"chat-rooms/domain"
	"chat-rooms/domain/event"
	"chat-rooms/errors"
	"chat-rooms/moderation"
	"chat-rooms/observability"
	"chat-rooms/projection"
	"chat-rooms/repositories"
	"chat-rooms/runtime/workers"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
)

//go:embed censored/*
var censoredFolder embed.FS

// MessageSearcher resolves a full-text query to message IDs within a room.
type MessageSearcher interface {
	Search(ctx context.Context, room domain.RoomID, query string, limit int) ([]uuid.UUID, error)
}

// Orchestrator bridges the transports to the stores and the fan-out.
// Every mutating path follows the same protocol: validate, persist, then
// enqueue the broadcast — an event is never emitted for a write that did
// not durably commit.
type Orchestrator struct {
	log             *slog.Logger
	supervisor      contract.ISupervisor
	registry        contract.IRegistry
	rooms           repositories.IRoomRepository
	messages        repositories.IMessageRepository
	reactions       repositories.IReactionRepository
	users           repositories.IUserRepository
	lastMessages    *projection.LastMessages
	searcher        MessageSearcher
	monitoring      *observability.Monitoring
	moderator       moderation.Moderator
	domainEvents    chan event.DomainEvent
	telemetryEvents chan event.DomainEvent
	sinkTimeout     time.Duration
	charReplacement rune

	// commitLocks orders persist+enqueue per room so fan-out order always
	// matches commit order. Never held during fan-out itself.
	commitLocks sync.Map
}

func NewOrchestrator(log *slog.Logger, supervisor *workers.Supervisor,
	registry *Registry, rooms repositories.IRoomRepository,
	messages repositories.IMessageRepository, reactions repositories.IReactionRepository,
	users repositories.IUserRepository, searcher MessageSearcher,
	monitoring *observability.Monitoring,
	bufferSize int, sinkTimeout time.Duration, charReplacement rune) *Orchestrator {
	return &Orchestrator{
		log:             log,
		supervisor:      supervisor,
		registry:        registry,
		rooms:           rooms,
		messages:        messages,
		reactions:       reactions,
		users:           users,
		lastMessages:    projection.NewLastMessages(),
		searcher:        searcher,
		monitoring:      monitoring,
		domainEvents:    make(chan event.DomainEvent, bufferSize),
		telemetryEvents: make(chan event.DomainEvent, bufferSize),
		sinkTimeout:     sinkTimeout,
		charReplacement: charReplacement,
	}
}

// Start prepares moderation and the fan-out pipeline, then launches the
// supervised workers. Heavy work (loading word lists, building the
// Aho-Corasick automaton) happens before anything is registered.
func (o *Orchestrator) Start(ctx context.Context) error {
	loader := NewCensoredLoader(censoredFolder)
	data, err := loader.LoadAll("censored")
	if err != nil {
		return err
	}
	o.log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	o.log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))

	o.moderator, err = moderation.NewModerator(data.Words, o.charReplacement)
	if err != nil {
		return err
	}

	permanentSinks := []contract.EventSink{o.lastMessages}
	if sink, ok := o.searcher.(contract.EventSink); ok {
		permanentSinks = append(permanentSinks, sink)
	}

	fanout := workers.NewEventFanout(o.log, permanentSinks, o.registry,
		o.domainEvents, o.telemetryEvents, o.sinkTimeout)
	telemetry := workers.NewTelemetryWorker(o.log, o.telemetryEvents, o.monitoring)

	o.supervisor.Add(fanout)
	o.supervisor.Add(telemetry)

	o.log.Info("Starting orchestrator and all supervised workers")
	go o.supervisor.Run(ctx)
	return nil
}

// Stop initiates a graceful shutdown of the supervised workers.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

// Authorize loads a room and checks the user may attach to it.
func (o *Orchestrator) Authorize(roomID domain.RoomID, userID string) (domain.Room, error) {
	room, err := o.rooms.Get(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if !room.HasMember(userID) {
		return domain.Room{}, errors.ErrNotMember
	}
	return room, nil
}

// PostMessage validates, censors, persists, and broadcasts a chat message.
// On any failure nothing is broadcast.
func (o *Orchestrator) PostMessage(_ context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	room, err := o.rooms.Get(cmd.Room)
	if err != nil {
		return domain.Message{}, err
	}
	if !room.HasMember(cmd.SenderID) {
		return domain.Message{}, errors.ErrNotMember
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return domain.Message{}, errors.ErrEmptyContent
	}

	sanitized, found := o.moderator.Censor(cmd.Content)
	if len(found) > 0 {
		info := whatlanggo.Detect(cmd.Content)
		o.log.Warn("Censored message content",
			"room_id", room.ID,
			"sender", cmd.SenderID,
			"lang", info.Lang.Iso6391(),
			"words", len(found))
	}

	lock := o.commitLock(room.ID)
	lock.Lock()
	defer lock.Unlock()

	message, err := o.messages.StoreMessage(domain.Message{
		Room:     room.ID,
		SenderID: cmd.SenderID,
		Content:  sanitized,
	})
	if err != nil {
		return domain.Message{}, err
	}

	o.publish(event.MessagePosted{
		ID:       message.ID,
		Room:     message.Room,
		SenderID: message.SenderID,
		Content:  message.Content,
		At:       message.CreatedAt,
	})
	return message, nil
}

// AddReaction replaces the user's reaction on a message and broadcasts the
// update. Returns the refreshed message view for the acting user.
func (o *Orchestrator) AddReaction(_ context.Context, cmd domain.AddReactionCommand) (domain.MessageView, error) {
	if strings.TrimSpace(cmd.Emoji) == "" {
		return domain.MessageView{}, errors.ErrMissingEmoji
	}
	message, err := o.resolveMessage(cmd.Room, cmd.MessageID, cmd.UserID)
	if err != nil {
		return domain.MessageView{}, err
	}

	lock := o.commitLock(message.Room)
	lock.Lock()
	if _, err := o.reactions.Upsert(message.ID, cmd.UserID, cmd.Emoji); err != nil {
		lock.Unlock()
		return domain.MessageView{}, err
	}
	o.publish(event.ReactionUpdated{
		Room:      message.Room,
		MessageID: message.ID,
		UserID:    cmd.UserID,
		Emoji:     cmd.Emoji,
		Action:    event.ActionAdd,
	})
	lock.Unlock()

	return o.messageView(message, cmd.UserID)
}

// RemoveReaction deletes the user's matching reaction if present. The update
// is broadcast even when no row existed; removal is advisory for clients.
func (o *Orchestrator) RemoveReaction(_ context.Context, cmd domain.RemoveReactionCommand) (domain.MessageView, error) {
	if strings.TrimSpace(cmd.Emoji) == "" {
		return domain.MessageView{}, errors.ErrMissingEmoji
	}
	message, err := o.resolveMessage(cmd.Room, cmd.MessageID, cmd.UserID)
	if err != nil {
		return domain.MessageView{}, err
	}

	lock := o.commitLock(message.Room)
	lock.Lock()
	if err := o.reactions.Remove(message.ID, cmd.UserID, cmd.Emoji); err != nil {
		lock.Unlock()
		return domain.MessageView{}, err
	}
	o.publish(event.ReactionUpdated{
		Room:      message.Room,
		MessageID: message.ID,
		UserID:    cmd.UserID,
		Emoji:     cmd.Emoji,
		Action:    event.ActionRemove,
	})
	lock.Unlock()

	return o.messageView(message, cmd.UserID)
}

// History is the read-receipt flow: mark everything the viewer hadn't read,
// notify the room if anything flipped, then return the ordered messages with
// reaction summaries computed for the viewer.
func (o *Orchestrator) History(_ context.Context, cmd domain.FetchHistoryCommand) ([]domain.MessageView, error) {
	room, err := o.Authorize(cmd.Room, cmd.ViewerID)
	if err != nil {
		return nil, err
	}

	lock := o.commitLock(room.ID)
	lock.Lock()
	affected, err := o.messages.MarkUnreadAsRead(room.ID, cmd.ViewerID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if len(affected) > 0 {
		o.publish(event.MessagesRead{
			Room:     room.ID,
			UserID:   cmd.ViewerID,
			Username: o.username(cmd.ViewerID),
		})
	}
	lock.Unlock()

	messages, _, err := o.messages.GetMessages(room.ID, nil)
	if err != nil {
		return nil, err
	}

	views := make([]domain.MessageView, 0, len(messages))
	for _, message := range messages {
		view, err := o.messageView(message, cmd.ViewerID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// SearchMessages resolves a full-text query against the room's index.
func (o *Orchestrator) SearchMessages(ctx context.Context, roomID domain.RoomID, viewerID, query string, limit int) ([]domain.MessageView, error) {
	if _, err := o.Authorize(roomID, viewerID); err != nil {
		return nil, err
	}
	ids, err := o.searcher.Search(ctx, roomID, query, limit)
	if err != nil {
		return nil, err
	}

	views := make([]domain.MessageView, 0, len(ids))
	for _, id := range ids {
		message, err := o.messages.GetMessageByID(id)
		if err == errors.ErrNotFound {
			// Index can lag behind a cascade delete.
			continue
		}
		if err != nil {
			return nil, err
		}
		view, err := o.messageView(message, viewerID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// ListRooms returns the viewer's rooms with display names and last messages.
func (o *Orchestrator) ListRooms(viewerID string) ([]domain.RoomView, error) {
	rooms, err := o.rooms.ListForUser(viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]domain.RoomView, 0, len(rooms))
	for _, room := range rooms {
		view := domain.RoomView{
			Room:        room,
			DisplayName: room.DisplayNameFor(viewerID, o.username),
		}
		last, ok := o.lastMessages.Get(room.ID)
		if !ok {
			// Projection is empty until the room sees traffic; storage is
			// the source of truth for rooms that were quiet since boot.
			var found bool
			last, found, err = o.messages.GetLastMessage(room.ID)
			if err != nil {
				return nil, err
			}
			ok = found
		}
		if ok {
			lastView, err := o.messageView(last, viewerID)
			if err != nil {
				return nil, err
			}
			view.LastMessage = &lastView
		}
		views = append(views, view)
	}
	return views, nil
}

// CreateDirectRoom creates (or returns the existing) 1-on-1 room for a pair.
func (o *Orchestrator) CreateDirectRoom(creatorID, otherUserID string) (domain.Room, bool, error) {
	if _, err := o.users.GetUserByID(otherUserID); err != nil {
		return domain.Room{}, false, err
	}
	room, err := domain.NewDirectRoom(creatorID, otherUserID)
	if err != nil {
		return domain.Room{}, false, err
	}
	return o.rooms.CreateDirect(room)
}

// CreateGroupRoom creates a group room owned by its creator.
func (o *Orchestrator) CreateGroupRoom(creatorID, name string, isPaid bool, price float64) (domain.Room, error) {
	room, err := domain.NewGroupRoom(name, creatorID, isPaid, price)
	if err != nil {
		return domain.Room{}, err
	}
	if err := o.rooms.Save(room); err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// DeleteRoom cascades over the room's messages and their reactions.
func (o *Orchestrator) DeleteRoom(roomID domain.RoomID, actorID string) error {
	if _, err := o.Authorize(roomID, actorID); err != nil {
		return err
	}
	return o.rooms.Delete(roomID)
}

// RegisterParticipant attaches a live session to a room.
func (o *Orchestrator) RegisterParticipant(sessionID string, roomID domain.RoomID, sink contract.EventSink) {
	o.registry.Subscribe(sessionID, roomID, sink)
}

// UnregisterParticipant disconnects a session.
func (o *Orchestrator) UnregisterParticipant(sessionID string, roomID domain.RoomID) {
	o.registry.Unsubscribe(sessionID, roomID)
}

func (o *Orchestrator) Username(userID string) string {
	return o.username(userID)
}

// resolveMessage loads a message and checks both the claimed room and the
// actor's membership before any reaction state changes.
func (o *Orchestrator) resolveMessage(roomID domain.RoomID, messageID uuid.UUID, actorID string) (domain.Message, error) {
	message, err := o.messages.GetMessageByID(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if message.Room != roomID {
		return domain.Message{}, errors.ErrNotFound
	}
	if _, err := o.Authorize(message.Room, actorID); err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

func (o *Orchestrator) messageView(message domain.Message, viewerID string) (domain.MessageView, error) {
	rows, err := o.reactions.ListForMessage(message.ID)
	if err != nil {
		return domain.MessageView{}, err
	}
	for i := range rows {
		rows[i].Username = o.username(rows[i].UserID)
	}
	return domain.MessageView{
		Message:    message,
		SenderName: o.username(message.SenderID),
		Reactions:  domain.SummarizeReactions(rows, viewerID),
	}, nil
}

// username resolves a user ID for display; the raw ID is a readable enough
// fallback when the account record is gone.
func (o *Orchestrator) username(userID string) string {
	user, err := o.users.GetUserByID(userID)
	if err != nil {
		return userID
	}
	return user.Username
}

// publish enqueues a committed event for fan-out. The channel is bounded;
// when it is full the event is dropped and counted rather than blocking the
// request path.
func (o *Orchestrator) publish(evt event.DomainEvent) {
	select {
	case o.domainEvents <- evt:
	default:
		o.log.Warn(fmt.Sprintf("Domain event channel full for Room %s, dropping broadcast", evt.RoomID()))
		o.monitoring.IncrEventsDropped()
	}
}

func (o *Orchestrator) commitLock(roomID domain.RoomID) *sync.Mutex {
	lock, _ := o.commitLocks.LoadOrStore(roomID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
