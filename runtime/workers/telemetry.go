package workers

import (
	"context"
	"log/slog"

	"chat-rooms/domain/event"
	"chat-rooms/observability"
)

// TelemetryWorker drains the best-effort telemetry channel and turns events
// into monitoring counters. Losing events here is acceptable; the channel is
// fed with a non-blocking send.
type TelemetryWorker struct {
	log           *slog.Logger
	telemetryChan chan event.DomainEvent
	monitoring    *observability.Monitoring
}

func NewTelemetryWorker(log *slog.Logger,
	telemetryChan chan event.DomainEvent,
	monitoring *observability.Monitoring) *TelemetryWorker {
	return &TelemetryWorker{
		log:           log,
		telemetryChan: telemetryChan,
		monitoring:    monitoring,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping telemetry worker")
			return nil
		case evt := <-w.telemetryChan:
			w.handle(evt)
		}
	}
}

func (w *TelemetryWorker) handle(evt event.DomainEvent) {
	switch evt.(type) {
	case event.MessagePosted:
		w.monitoring.IncrMessagesPosted()
	case event.ReactionUpdated:
		w.monitoring.IncrReactionsUpdated()
	case event.MessagesRead:
		w.monitoring.IncrReadReceipts()
	}
}
