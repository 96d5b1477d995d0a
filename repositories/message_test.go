package repositories

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"chat-rooms/domain"
	"chat-rooms/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_Store_Multiple_Messages_Ascending_Order(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	repository := NewMessageRepository(db, slog.Default(), nil)
	room := domain.RoomID("room-1")
	contents := []string{"first", "second", "third"}

	// Given three messages stored in sequence
	for _, content := range contents {
		_, err := repository.StoreMessage(domain.Message{
			Room:     room,
			SenderID: "alice",
			Content:  content,
		})
		req.NoError(err)
	}

	// When the room is read back
	fetched, _, err := repository.GetMessages(room, nil)
	req.NoError(err)

	// Then messages come back in store order
	req.Len(fetched, len(contents))
	for i, message := range fetched {
		req.Equal(contents[i], message.Content)
		req.False(message.IsRead)
	}
	req.True(fetched[0].CreatedAt.Before(fetched[1].CreatedAt))
	req.True(fetched[1].CreatedAt.Before(fetched[2].CreatedAt))
}

func Test_Store_Messages_And_Limit(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	limit := 2
	repository := NewMessageRepository(db, slog.Default(), &limit)
	room := domain.RoomID("room-1")

	for i := 0; i < 3; i++ {
		_, err := repository.StoreMessage(domain.Message{
			Room:     room,
			SenderID: "alice",
			Content:  fmt.Sprintf("message %d", i),
		})
		req.NoError(err)
	}

	fetched, _, err := repository.GetMessages(room, nil)
	req.NoError(err)
	req.Len(fetched, limit)
}

func Test_GetMessages_Cursor_Resumes_After_Last_Key(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	limit := 2
	repository := NewMessageRepository(db, slog.Default(), &limit)
	room := domain.RoomID("room-1")

	for i := 0; i < 5; i++ {
		_, err := repository.StoreMessage(domain.Message{
			Room:     room,
			SenderID: "alice",
			Content:  fmt.Sprintf("message %d", i),
		})
		req.NoError(err)
	}

	// When paging through the room
	var all []domain.Message
	var cursor *string
	for i := 0; i < 3; i++ {
		page, next, err := repository.GetMessages(room, cursor)
		req.NoError(err)
		all = append(all, page...)
		cursor = next
	}

	// Then every message is seen exactly once, in order
	req.Len(all, 5)
	for i, message := range all {
		req.Equal(fmt.Sprintf("message %d", i), message.Content)
	}
}

func Test_Concurrent_Stores_Keep_Distinct_Ascending_Stamps(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	repository := NewMessageRepository(db, slog.Default(), nil)
	room := domain.RoomID("room-1")
	writers := 10
	perWriter := 20

	// When many goroutines store into the same room at once
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := repository.StoreMessage(domain.Message{
					Room:     room,
					SenderID: fmt.Sprintf("writer-%d", w),
					Content:  "concurrent",
				})
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	// Then no message is lost and timestamps are strictly increasing
	fetched, _, err := repository.GetMessages(room, nil)
	req.NoError(err)
	req.Len(fetched, writers*perWriter)
	for i := 1; i < len(fetched); i++ {
		req.True(fetched[i-1].CreatedAt.Before(fetched[i].CreatedAt),
			"timestamps must never collide or regress")
	}
}

func Test_GetMessageByID_Through_Index(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	repository := NewMessageRepository(db, slog.Default(), nil)
	room := domain.RoomID("room-1")

	stored, err := repository.StoreMessage(domain.Message{
		Room:     room,
		SenderID: "alice",
		Content:  "findable",
	})
	req.NoError(err)

	fetched, err := repository.GetMessageByID(stored.ID)
	req.NoError(err)
	req.Equal(stored, fetched)

	_, err = repository.GetMessageByID(uuid.New())
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_GetLastMessage(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	repository := NewMessageRepository(db, slog.Default(), nil)
	room := domain.RoomID("room-1")

	// Given an empty room
	_, found, err := repository.GetLastMessage(room)
	req.NoError(err)
	req.False(found)

	for i := 0; i < 3; i++ {
		_, err := repository.StoreMessage(domain.Message{
			Room:     room,
			SenderID: "alice",
			Content:  fmt.Sprintf("message %d", i),
		})
		req.NoError(err)
	}

	last, found, err := repository.GetLastMessage(room)
	req.NoError(err)
	req.True(found)
	req.Equal("message 2", last.Content)
}

func Test_MarkUnreadAsRead_Excludes_Sender_And_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	repository := NewMessageRepository(db, slog.Default(), nil)
	room := domain.RoomID("room-1")

	fromAlice, err := repository.StoreMessage(domain.Message{Room: room, SenderID: "alice", Content: "hi"})
	req.NoError(err)
	fromBob, err := repository.StoreMessage(domain.Message{Room: room, SenderID: "bob", Content: "hello"})
	req.NoError(err)

	// When Bob fetches the room, only Alice's message flips
	affected, err := repository.MarkUnreadAsRead(room, "bob")
	req.NoError(err)
	req.Equal([]uuid.UUID{fromAlice.ID}, affected)

	fetched, err := repository.GetMessageByID(fromAlice.ID)
	req.NoError(err)
	req.True(fetched.IsRead)

	fetched, err = repository.GetMessageByID(fromBob.ID)
	req.NoError(err)
	req.False(fetched.IsRead)

	// Then a second fetch affects nothing
	affected, err = repository.MarkUnreadAsRead(room, "bob")
	req.NoError(err)
	req.Empty(affected)
}

func Test_Messages_Do_Not_Leak_Across_Rooms(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)

	repository := NewMessageRepository(db, slog.Default(), nil)

	_, err := repository.StoreMessage(domain.Message{Room: "room-1", SenderID: "alice", Content: "in one"})
	req.NoError(err)
	_, err = repository.StoreMessage(domain.Message{Room: "room-2", SenderID: "alice", Content: "in two"})
	req.NoError(err)

	fetched, _, err := repository.GetMessages("room-1", nil)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("in one", fetched[0].Content)
}
