// Package search maintains a full-text index over room messages.
package search

import (
	"context"
	"log/slog"

	"chat-rooms/domain"
	"chat-rooms/domain/event"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

// Index is a Bluge-backed message index. It consumes MessagePosted events
// from the fan-out, so indexing lag never sits on the request path.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(path string, log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return &Index{writer: writer, log: log}, nil
}

// Consume implements the EventSink interface: committed messages become
// index documents keyed by their message ID.
func (i *Index) Consume(_ context.Context, e event.DomainEvent) error {
	evt, ok := e.(event.MessagePosted)
	if !ok {
		return nil
	}

	doc := bluge.NewDocument(evt.ID.String()).
		AddField(bluge.NewTextField("content", evt.Content)).
		AddField(bluge.NewKeywordField("room", string(evt.Room))).
		AddField(bluge.NewDateTimeField("at", evt.At))

	return i.writer.Update(doc.ID(), doc)
}

// Search returns the IDs of the room's messages matching the query,
// best matches first.
func (i *Index) Search(ctx context.Context, room domain.RoomID, query string, limit int) ([]uuid.UUID, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField("content")).
		AddMust(bluge.NewTermQuery(string(room)).SetField("room"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				if id, err := uuid.Parse(string(value)); err == nil {
					ids = append(ids, id)
				}
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}
