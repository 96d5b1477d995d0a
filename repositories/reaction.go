//go:generate go run go.uber.org/mock/mockgen -source=reaction.go -destination=../mocks/mock_reaction_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chat-rooms/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IReactionRepository interface {
	Upsert(messageID uuid.UUID, userID, emoji string) (domain.Reaction, error)
	Remove(messageID uuid.UUID, userID, emoji string) error
	ListForMessage(messageID uuid.UUID) ([]domain.Reaction, error)
}

// ReactionRepository enforces the one-reaction-per-user rule structurally:
// the key is "react:{message_id}:{user_id}", so an upsert is a single Set
// that replaces whatever the user had before. Two concurrent upserts by the
// same user serialize on that key and can never leave two rows behind.
type ReactionRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu        sync.Mutex
	lastStamp map[uuid.UUID]int64
}

func NewReactionRepository(db *badger.DB, log *slog.Logger) *ReactionRepository {
	return &ReactionRepository{
		db:        db,
		log:       log,
		lastStamp: make(map[uuid.UUID]int64),
	}
}

type diskReaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	At        int64  `json:"at"`
}

// Upsert replaces any existing reaction by the user on the message with the
// given emoji. Replacement resets the insertion timestamp, matching the
// delete-then-insert semantics of the read model.
func (r *ReactionRepository) Upsert(messageID uuid.UUID, userID, emoji string) (domain.Reaction, error) {
	reaction := domain.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: r.nextStamp(messageID),
	}
	bytes, err := json.Marshal(diskReaction{
		MessageID: messageID.String(),
		UserID:    userID,
		Emoji:     emoji,
		At:        reaction.CreatedAt.UnixNano(),
	})
	if err != nil {
		return domain.Reaction{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(reactionKey(messageID, userID)), bytes)
	})
	if err != nil {
		return domain.Reaction{}, err
	}
	return reaction, nil
}

// nextStamp assigns a per-message monotonically increasing timestamp, so two
// back-to-back upserts on the same message never share an insertion time and
// the read model's insertion order stays deterministic.
func (r *ReactionRepository) nextStamp(messageID uuid.UUID) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp := time.Now().UTC().UnixNano()
	if last, ok := r.lastStamp[messageID]; ok && stamp <= last {
		stamp = last + 1
	}
	r.lastStamp[messageID] = stamp
	return time.Unix(0, stamp).UTC()
}

// Remove deletes the user's reaction if its emoji matches. An absent row or
// a mismatched emoji is a no-op, not an error; removal is advisory from the
// client's point of view.
func (r *ReactionRepository) Remove(messageID uuid.UUID, userID, emoji string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		key := []byte(reactionKey(messageID, userID))
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var record diskReaction
		err = item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
		if err != nil {
			return err
		}
		if record.Emoji != emoji {
			return nil
		}
		return txn.Delete(key)
	})
}

// ListForMessage returns the message's reactions ordered by insertion time.
func (r *ReactionRepository) ListForMessage(messageID uuid.UUID) ([]domain.Reaction, error) {
	var reactions []domain.Reaction
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("react:%s:", messageID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record diskReaction
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			reactions = append(reactions, domain.Reaction{
				MessageID: messageID,
				UserID:    record.UserID,
				Emoji:     record.Emoji,
				CreatedAt: time.Unix(0, record.At).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort by user ID; the read model wants insertion order.
	sort.SliceStable(reactions, func(i, j int) bool {
		return reactions[i].CreatedAt.Before(reactions[j].CreatedAt)
	})
	return reactions, nil
}

// deleteForMessage removes every reaction of a message inside an ongoing
// transaction. Used by the room cascade delete.
func deleteForMessage(txn *badger.Txn, messageID uuid.UUID) error {
	prefix := []byte(fmt.Sprintf("react:%s:", messageID))
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func reactionKey(messageID uuid.UUID, userID string) string {
	return fmt.Sprintf("react:%s:%s", messageID, userID)
}
