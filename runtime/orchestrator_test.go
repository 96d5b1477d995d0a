package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-rooms/domain"
	"chat-rooms/domain/event"
	"chat-rooms/errors"
	"chat-rooms/observability"
	"chat-rooms/repositories"
	"chat-rooms/runtime/workers"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// captureSink records every event delivered to it, standing in for a session.
type captureSink struct {
	events chan event.DomainEvent
}

func newCaptureSink() *captureSink {
	return &captureSink{events: make(chan event.DomainEvent, 32)}
}

func (c *captureSink) Consume(_ context.Context, e event.DomainEvent) error {
	c.events <- e
	return nil
}

func (c *captureSink) next(t *testing.T) event.DomainEvent {
	t.Helper()
	select {
	case evt := <-c.events:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("No event was broadcast in time")
		return nil
	}
}

func (c *captureSink) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case evt := <-c.events:
		t.Fatalf("Unexpected broadcast: %#v", evt)
	case <-time.After(200 * time.Millisecond):
	}
}

type stubSearcher struct {
	ids []uuid.UUID
}

func (s stubSearcher) Search(_ context.Context, _ domain.RoomID, _ string, _ int) ([]uuid.UUID, error) {
	return s.ids, nil
}

type fixture struct {
	orchestrator *Orchestrator
	registry     *Registry
	messages     *repositories.MessageRepository
	reactions    *repositories.ReactionRepository
	rooms        *repositories.RoomRepository
	users        *repositories.UserRepository
}

func newFixture(t *testing.T, searcher MessageSearcher) fixture {
	t.Helper()
	req := require.New(t)
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	monitoring, err := observability.NewMonitoring(log)
	req.NoError(err)

	registry := NewRegistry()
	messages := repositories.NewMessageRepository(db, log, nil)
	reactions := repositories.NewReactionRepository(db, log)
	rooms := repositories.NewRoomRepository(db, log)
	users := repositories.NewUserRepository(db)

	orchestrator := NewOrchestrator(log,
		workers.NewSupervisor(log, 100*time.Millisecond),
		registry, rooms, messages, reactions, users, searcher, monitoring,
		32, time.Second, '*')

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req.NoError(orchestrator.Start(ctx))

	return fixture{
		orchestrator: orchestrator,
		registry:     registry,
		messages:     messages,
		reactions:    reactions,
		rooms:        rooms,
		users:        users,
	}
}

func (f fixture) createUser(t *testing.T, email, username string) string {
	t.Helper()
	user, err := f.users.CreateUser(email, username, "hash")
	require.NoError(t, err)
	return user.ID
}

func (f fixture) createDirect(t *testing.T, a, b string) domain.Room {
	t.Helper()
	room, _, err := f.orchestrator.CreateDirectRoom(a, b)
	require.NoError(t, err)
	return room
}

func TestOrchestrator_PostMessage_NonMember_NothingPersistedOrBroadcast(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	carol := f.createUser(t, "carol@example.com", "Carol")
	room := f.createDirect(t, alice, bob)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	// When an outsider posts into the room
	_, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: carol,
		Content:  "let me in",
	})

	// Then the rejection leaves no trace: no message, no broadcast
	req.ErrorIs(err, errors.ErrNotMember)
	stored, _, err := f.messages.GetMessages(room.ID, nil)
	req.NoError(err)
	req.Empty(stored)
	sink.expectSilence(t)
}

func TestOrchestrator_PostMessage_BlankContentRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	_, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "   \n\t ",
	})
	req.ErrorIs(err, errors.ErrEmptyContent)
}

func TestOrchestrator_PostMessage_PersistsCensoredContentThenBroadcasts(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	// When a member posts content containing a blacklisted word
	message, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "you are a moron sometimes",
	})
	req.NoError(err)

	// Then the stored content is censored before anything else sees it
	req.Equal("you are a ***** sometimes", message.Content)

	stored, _, err := f.messages.GetMessages(room.ID, nil)
	req.NoError(err)
	req.Len(stored, 1)
	req.Equal(message.Content, stored[0].Content)

	// And the broadcast carries the same censored content
	evt := sink.next(t)
	posted, ok := evt.(event.MessagePosted)
	req.True(ok)
	req.Equal(message.ID, posted.ID)
	req.Equal(message.Content, posted.Content)
	req.Equal(alice, posted.SenderID)
}

func TestOrchestrator_Broadcast_FollowsCommitOrder(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	contents := []string{"one", "two", "three", "four", "five"}
	for _, content := range contents {
		_, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
			Room:     room.ID,
			SenderID: alice,
			Content:  content,
		})
		req.NoError(err)
	}

	// Broadcast order must match the order messages were committed
	for _, content := range contents {
		posted, ok := sink.next(t).(event.MessagePosted)
		req.True(ok)
		req.Equal(content, posted.Content)
	}
}

func TestOrchestrator_AddReaction_ReplacesAndBroadcasts(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	message, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "react to this",
	})
	req.NoError(err)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	// When Bob reacts twice with different emojis
	_, err = f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: room.ID, MessageID: message.ID, UserID: bob, Emoji: "👍",
	})
	req.NoError(err)
	view, err := f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: room.ID, MessageID: message.ID, UserID: bob, Emoji: "❤️",
	})
	req.NoError(err)

	// Then only the latest reaction survives, flagged for the acting user
	req.Len(view.Reactions, 1)
	req.Equal("❤️", view.Reactions[0].Emoji)
	req.Equal(1, view.Reactions[0].Count)
	req.True(view.Reactions[0].UserReacted)
	req.Equal("Bob", view.Reactions[0].Users[0].Username)

	// And both updates were broadcast in order
	first, ok := sink.next(t).(event.ReactionUpdated)
	req.True(ok)
	req.Equal("👍", first.Emoji)
	req.Equal(event.ActionAdd, first.Action)

	second, ok := sink.next(t).(event.ReactionUpdated)
	req.True(ok)
	req.Equal("❤️", second.Emoji)
}

func TestOrchestrator_ConcurrentReactions_BroadcastConvergesOnStoredState(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	message, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "pick one",
	})
	req.NoError(err)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	// When Bob fires many competing reactions at once
	emojis := []string{"👍", "❤️", "🎉", "😂", "😮"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
				Room: room.ID, MessageID: message.ID, UserID: bob, Emoji: emojis[i%len(emojis)],
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Then a client replaying the broadcasts in order ends on exactly the
	// reaction the store kept
	var last event.ReactionUpdated
	for i := 0; i < 20; i++ {
		updated, ok := sink.next(t).(event.ReactionUpdated)
		req.True(ok)
		last = updated
	}
	sink.expectSilence(t)

	rows, err := f.reactions.ListForMessage(message.ID)
	req.NoError(err)
	req.Len(rows, 1)
	req.Equal(last.Emoji, rows[0].Emoji)
}

func TestOrchestrator_RemoveReaction_Broadcasts(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	message, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "react to this",
	})
	req.NoError(err)

	_, err = f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: room.ID, MessageID: message.ID, UserID: bob, Emoji: "👍",
	})
	req.NoError(err)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	view, err := f.orchestrator.RemoveReaction(context.Background(), domain.RemoveReactionCommand{
		Room: room.ID, MessageID: message.ID, UserID: bob, Emoji: "👍",
	})
	req.NoError(err)
	req.Empty(view.Reactions)

	removed, ok := sink.next(t).(event.ReactionUpdated)
	req.True(ok)
	req.Equal(event.ActionRemove, removed.Action)
	req.Equal(bob, removed.UserID)
}

func TestOrchestrator_Reaction_Guards(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	carol := f.createUser(t, "carol@example.com", "Carol")
	room := f.createDirect(t, alice, bob)

	message, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "guarded",
	})
	req.NoError(err)

	// Missing emoji
	_, err = f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: room.ID, MessageID: message.ID, UserID: bob,
	})
	req.ErrorIs(err, errors.ErrMissingEmoji)

	// Unknown message
	_, err = f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: room.ID, MessageID: uuid.New(), UserID: bob, Emoji: "👍",
	})
	req.ErrorIs(err, errors.ErrNotFound)

	// Message exists but the claimed room doesn't match
	_, err = f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: "other-room", MessageID: message.ID, UserID: bob, Emoji: "👍",
	})
	req.ErrorIs(err, errors.ErrNotFound)

	// Outsider reacting
	_, err = f.orchestrator.AddReaction(context.Background(), domain.AddReactionCommand{
		Room: room.ID, MessageID: message.ID, UserID: carol, Emoji: "👍",
	})
	req.ErrorIs(err, errors.ErrNotMember)
}

func TestOrchestrator_History_MarksReadAndNotifiesOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	_, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "unread so far",
	})
	req.NoError(err)

	sink := newCaptureSink()
	f.orchestrator.RegisterParticipant("session-1", room.ID, sink)

	// When Bob fetches the history
	views, err := f.orchestrator.History(context.Background(), domain.FetchHistoryCommand{
		Room:     room.ID,
		ViewerID: bob,
	})
	req.NoError(err)
	req.Len(views, 1)
	req.True(views[0].IsRead)
	req.Equal("Alice", views[0].SenderName)

	// Then the room is told Bob read everything
	read, ok := sink.next(t).(event.MessagesRead)
	req.True(ok)
	req.Equal(bob, read.UserID)
	req.Equal("Bob", read.Username)

	// And a second fetch changes nothing, so no second receipt goes out
	_, err = f.orchestrator.History(context.Background(), domain.FetchHistoryCommand{
		Room:     room.ID,
		ViewerID: bob,
	})
	req.NoError(err)
	sink.expectSilence(t)
}

func TestOrchestrator_History_RequiresMembership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	carol := f.createUser(t, "carol@example.com", "Carol")
	room := f.createDirect(t, alice, bob)

	_, err := f.orchestrator.History(context.Background(), domain.FetchHistoryCommand{
		Room:     room.ID,
		ViewerID: carol,
	})
	req.ErrorIs(err, errors.ErrNotMember)
}

func TestOrchestrator_CreateDirectRoom_DeduplicatesAndChecksUser(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")

	// Unknown counterpart
	_, _, err := f.orchestrator.CreateDirectRoom(alice, "ghost")
	req.ErrorIs(err, errors.ErrNotFound)

	room, created, err := f.orchestrator.CreateDirectRoom(alice, bob)
	req.NoError(err)
	req.True(created)

	again, created, err := f.orchestrator.CreateDirectRoom(bob, alice)
	req.NoError(err)
	req.False(created)
	req.Equal(room.ID, again.ID)
}

func TestOrchestrator_ListRooms_DisplayNameAndLastMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	_, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "latest word",
	})
	req.NoError(err)

	views, err := f.orchestrator.ListRooms(alice)
	req.NoError(err)
	req.Len(views, 1)

	// A direct room is displayed as the other member's name
	req.Equal("Bob", views[0].DisplayName)
	req.NotNil(views[0].LastMessage)
	req.Equal("latest word", views[0].LastMessage.Content)
}

func TestOrchestrator_SearchMessages_SkipsStaleIDs(t *testing.T) {
	req := require.New(t)

	var searcher stubSearcher
	f := newFixture(t, &searcher)

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	room := f.createDirect(t, alice, bob)

	message, err := f.orchestrator.PostMessage(context.Background(), domain.PostMessageCommand{
		Room:     room.ID,
		SenderID: alice,
		Content:  "findable",
	})
	req.NoError(err)

	// Given the index returns one live ID and one stale one
	searcher.ids = []uuid.UUID{message.ID, uuid.New()}

	views, err := f.orchestrator.SearchMessages(context.Background(), room.ID, alice, "findable", 10)
	req.NoError(err)
	req.Len(views, 1)
	req.Equal(message.ID, views[0].ID)
}

func TestOrchestrator_DeleteRoom_RequiresMembership(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, stubSearcher{})

	alice := f.createUser(t, "alice@example.com", "Alice")
	bob := f.createUser(t, "bob@example.com", "Bob")
	carol := f.createUser(t, "carol@example.com", "Carol")
	room := f.createDirect(t, alice, bob)

	req.ErrorIs(f.orchestrator.DeleteRoom(room.ID, carol), errors.ErrNotMember)
	req.NoError(f.orchestrator.DeleteRoom(room.ID, alice))

	_, err := f.rooms.Get(room.ID)
	req.ErrorIs(err, errors.ErrNotFound)
}
