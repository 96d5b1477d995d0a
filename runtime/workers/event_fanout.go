package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-rooms/contract"
	"chat-rooms/domain/event"
)

// EventFanout broadcasts domain events to the sessions of the originating
// room plus the permanent sinks (storage projections, search index).
//
// It is the single consumer of the ordered domain event channel: events for
// a room are delivered to every sink in the order they were enqueued, which
// the orchestrator guarantees is commit order. A sink that cannot accept an
// event within sinkTimeout is skipped; it never stalls the other sinks.
//
// EventFanout is safe for concurrent use by multiple goroutines.
type EventFanout struct {
	log             *slog.Logger
	permanentSinks  []contract.EventSink
	registry        contract.IRegistry
	domainEvents    chan event.DomainEvent
	telemetryEvents chan event.DomainEvent
	sinkTimeout     time.Duration
}

func NewEventFanout(log *slog.Logger, permanentSinks []contract.EventSink,
	registry contract.IRegistry, domainEvents, telemetryEvents chan event.DomainEvent,
	sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{
		log:             log,
		permanentSinks:  permanentSinks,
		registry:        registry,
		domainEvents:    domainEvents,
		telemetryEvents: telemetryEvents,
		sinkTimeout:     sinkTimeout,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-w.domainEvents:
			w.Fanout(ctx, evt)
			select {
			case w.telemetryEvents <- evt:
			default:
				w.log.Debug("Observability telemetry event lost")
			}
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		}
	}
}

// Fanout delivers one event to every sink currently attached to its room.
// The registry lock is held only inside GetSinksForRoom, never while a sink
// consumes. Delivery stays sequential to preserve per-room ordering; session
// sinks are non-blocking queues, so the timeout only bites on the durable
// permanent sinks.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	roomSinks := w.registry.GetSinksForRoom(evt.RoomID())
	sinks := make([]contract.EventSink, 0, len(w.permanentSinks)+len(roomSinks))
	sinks = append(sinks, w.permanentSinks...)
	sinks = append(sinks, roomSinks...)
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Warn("Sink failed to consume event",
				"room_id", evt.RoomID(),
				"error", err)
		}
		cancel()
	}
}
