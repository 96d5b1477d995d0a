//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-rooms/domain"
	"chat-rooms/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IRoomRepository interface {
	CreateDirect(room domain.Room) (domain.Room, bool, error)
	Save(room domain.Room) error
	Get(roomID domain.RoomID) (domain.Room, error)
	ListForUser(userID string) ([]domain.Room, error)
	Delete(roomID domain.RoomID) error
}

type RoomRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) *RoomRepository {
	return &RoomRepository{db: db, log: log}
}

type diskRoom struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	IsPaid    bool     `json:"is_paid"`
	Price     float64  `json:"price"`
	CreatedAt int64    `json:"created_at"`
}

// CreateDirect persists a direct room, deduplicating on the unordered member
// pair. If a room for the pair already exists it is returned instead, with
// created=false. Check and insert share one transaction so two concurrent
// creations for the same pair cannot both commit.
func (r *RoomRepository) CreateDirect(room domain.Room) (domain.Room, bool, error) {
	if room.Kind != domain.KindDirect || len(room.Members) != 2 {
		return domain.Room{}, false, errors.ErrDirectRoomMembers
	}
	pairKey := []byte("direct:" + domain.DirectPairKey(room.Members[0], room.Members[1]))

	var existing domain.Room
	created := false
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey)
		if err == nil {
			existingID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			existing, err = getRoom(txn, domain.RoomID(existingID))
			return err
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		bytes, err := json.Marshal(fromRoom(room))
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(roomKey(room.ID)), bytes); err != nil {
			return err
		}
		if err := txn.Set(pairKey, []byte(room.ID)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Room{}, false, err
	}
	if created {
		return room, true, nil
	}
	return existing, false, nil
}

// Save writes a room record, overwriting any previous membership set.
func (r *RoomRepository) Save(room domain.Room) error {
	bytes, err := json.Marshal(fromRoom(room))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(roomKey(room.ID)), bytes)
	})
}

func (r *RoomRepository) Get(roomID domain.RoomID) (domain.Room, error) {
	var room domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = getRoom(txn, roomID)
		return err
	})
	return room, err
}

// ListForUser scans all rooms and keeps those the user belongs to.
// Room counts are modest; a membership index is not worth the bookkeeping.
func (r *RoomRepository) ListForUser(userID string) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("room:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record diskRoom
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			room := toRoom(record)
			if room.HasMember(userID) {
				rooms = append(rooms, room)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// Delete removes a room together with everything it owns: its direct-pair
// index, every message, each message's ID index, and each message's
// reactions. The cascade runs in a single transaction so a failed delete
// never leaves orphaned messages or reactions behind.
func (r *RoomRepository) Delete(roomID domain.RoomID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		room, err := getRoom(txn, roomID)
		if err != nil {
			return err
		}

		msgPrefix := []byte(fmt.Sprintf("msg:%s:", roomID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)

		type ownedMessage struct {
			key []byte
			id  uuid.UUID
		}
		var messages []ownedMessage
		for it.Seek(msgPrefix); it.ValidForPrefix(msgPrefix); it.Next() {
			item := it.Item()
			var record diskMessage
			err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				it.Close()
				return err
			}
			id, err := uuid.Parse(record.ID)
			if err != nil {
				it.Close()
				return err
			}
			messages = append(messages, ownedMessage{key: item.KeyCopy(nil), id: id})
		}
		it.Close()

		for _, msg := range messages {
			if err := deleteForMessage(txn, msg.id); err != nil {
				return err
			}
			if err := txn.Delete([]byte(indexKey(msg.id))); err != nil {
				return err
			}
			if err := txn.Delete(msg.key); err != nil {
				return err
			}
		}

		if room.Kind == domain.KindDirect && len(room.Members) == 2 {
			pairKey := "direct:" + domain.DirectPairKey(room.Members[0], room.Members[1])
			if err := txn.Delete([]byte(pairKey)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(roomKey(roomID)))
	})
}

func getRoom(txn *badger.Txn, roomID domain.RoomID) (domain.Room, error) {
	item, err := txn.Get([]byte(roomKey(roomID)))
	if err == badger.ErrKeyNotFound {
		return domain.Room{}, errors.ErrNotFound
	}
	if err != nil {
		return domain.Room{}, err
	}
	var record diskRoom
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		return domain.Room{}, err
	}
	return toRoom(record), nil
}

func roomKey(roomID domain.RoomID) string {
	return "room:" + string(roomID)
}

func fromRoom(room domain.Room) diskRoom {
	return diskRoom{
		ID:        string(room.ID),
		Kind:      string(room.Kind),
		Name:      room.Name,
		Members:   room.Members,
		IsPaid:    room.IsPaid,
		Price:     room.Price,
		CreatedAt: room.CreatedAt.UnixNano(),
	}
}

func toRoom(record diskRoom) domain.Room {
	return domain.Room{
		ID:        domain.RoomID(record.ID),
		Kind:      domain.RoomKind(record.Kind),
		Name:      record.Name,
		Members:   record.Members,
		IsPaid:    record.IsPaid,
		Price:     record.Price,
		CreatedAt: time.Unix(0, record.CreatedAt).UTC(),
	}
}
