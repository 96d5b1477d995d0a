//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-rooms/domain"
	"chat-rooms/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) (domain.Message, error)
	GetMessages(room domain.RoomID, cursor *string) ([]domain.Message, *string, error)
	GetMessageByID(id uuid.UUID) (domain.Message, error)
	GetLastMessage(room domain.RoomID) (domain.Message, bool, error)
	MarkUnreadAsRead(room domain.RoomID, excludingSender string) ([]uuid.UUID, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int

	mu        sync.Mutex
	lastStamp map[domain.RoomID]int64
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *MessageRepository {
	return &MessageRepository{
		db:            db,
		log:           log,
		limitMessages: limitMessages,
		lastStamp:     make(map[domain.RoomID]int64),
	}
}

// diskMessage is the stored shape of a message. Kept separate from the
// domain struct so key layout and value schema can evolve independently.
type diskMessage struct {
	ID      string `json:"id"`
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	At      int64  `json:"at"`
	IsRead  bool   `json:"is_read"`
}

// StoreMessage persists a message with a server-assigned timestamp.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     land on the same nanosecond.
//
// A secondary "msgidx:{uuid}" entry maps the message ID back to its primary
// key so reactions and viewers can resolve a message without knowing its room
// position. Both entries commit in the same transaction.
func (m *MessageRepository) StoreMessage(message domain.Message) (domain.Message, error) {
	if message.ID == uuid.Nil {
		message.ID = uuid.New()
	}
	message.CreatedAt = m.nextStamp(message.Room)
	message.IsRead = false

	key := messageKey(message.Room, message.CreatedAt, message.ID)
	bytes, err := json.Marshal(fromMessage(message))
	if err != nil {
		return domain.Message{}, err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), bytes); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey(message.ID)), []byte(key))
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// nextStamp assigns a per-room monotonically increasing timestamp.
// The wall clock can go backwards or repeat within a nanosecond; the total
// order of a room is (timestamp, id), so two stores in the same room must
// never share a stamp with swapped commit order.
func (m *MessageRepository) nextStamp(room domain.RoomID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := time.Now().UTC().UnixNano()
	if last, ok := m.lastStamp[room]; ok && stamp <= last {
		stamp = last + 1
	}
	m.lastStamp[room] = stamp
	return time.Unix(0, stamp).UTC()
}

// GetMessages retrieves messages for a room in ascending (timestamp, id)
// order using a prefix scan. Thanks to the padded timestamp in the key,
// messages are naturally sorted by time. A non-nil cursor resumes the scan
// after the last key returned by the previous page.
func (m *MessageRepository) GetMessages(room domain.RoomID, cursor *string) ([]domain.Message, *string, error) {
	var rawMessages [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", room)
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seekKey := prefix
		if cursor != nil {
			seekKey = append([]byte(prefixStr), []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(rawMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				rawMessages = append(rawMessages, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(rawMessages))
	for _, b := range rawMessages {
		message, err := unmarshalMessage(b)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	return messages, lo.ToPtr(lastKey), nil
}

// GetMessageByID resolves a message through the "msgidx" index.
func (m *MessageRepository) GetMessageByID(id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexKey(id)))
		if err == badger.ErrKeyNotFound {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		primaryKey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(primaryKey)
		if err == badger.ErrKeyNotFound {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			message, err = unmarshalMessage(value)
			return err
		})
	})
	return message, err
}

// GetLastMessage returns the newest message of a room, if any. The padded
// timestamp keys make this a reverse seek to the end of the room's prefix.
func (m *MessageRepository) GetLastMessage(room domain.RoomID) (domain.Message, bool, error) {
	var message domain.Message
	found := false
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", room)
		prefix := []byte(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the highest possible timestamp, then step back
		seekKey := append([]byte(prefixStr), []byte("9999999999999999999")...)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(value []byte) error {
			var err error
			message, err = unmarshalMessage(value)
			found = err == nil
			return err
		})
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return message, found, nil
}

// MarkUnreadAsRead flips IsRead on every unread message in the room not sent
// by excludingSender and returns the affected IDs. Runs in a single Badger
// transaction so a concurrent call observes either none or all of the flips.
// Calling it again with nothing unread is a no-op returning an empty set.
func (m *MessageRepository) MarkUnreadAsRead(room domain.RoomID, excludingSender string) ([]uuid.UUID, error) {
	var affected []uuid.UUID
	err := m.db.Update(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", room))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		type pending struct {
			key   []byte
			value []byte
		}
		var updates []pending

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var record diskMessage
			err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			if record.IsRead || record.Sender == excludingSender {
				continue
			}
			record.IsRead = true
			value, err := json.Marshal(record)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(record.ID)
			if err != nil {
				return err
			}
			updates = append(updates, pending{key: item.KeyCopy(nil), value: value})
			affected = append(affected, id)
		}

		// Writes are deferred until the iterator is done with its snapshot.
		for _, u := range updates {
			if err := txn.Set(u.key, u.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func messageKey(room domain.RoomID, at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("msg:%s:%019d:%s", room, at.UnixNano(), id)
}

func indexKey(id uuid.UUID) string {
	return "msgidx:" + id.String()
}

func fromMessage(message domain.Message) diskMessage {
	return diskMessage{
		ID:      message.ID.String(),
		Room:    string(message.Room),
		Sender:  message.SenderID,
		Content: message.Content,
		At:      message.CreatedAt.UnixNano(),
		IsRead:  message.IsRead,
	}
}

func unmarshalMessage(value []byte) (domain.Message, error) {
	var record diskMessage
	if err := json.Unmarshal(value, &record); err != nil {
		return domain.Message{}, err
	}
	parsedID, err := uuid.Parse(record.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:        parsedID,
		Room:      domain.RoomID(record.Room),
		SenderID:  record.Sender,
		Content:   record.Content,
		CreatedAt: time.Unix(0, record.At).UTC(),
		IsRead:    record.IsRead,
	}, nil
}
