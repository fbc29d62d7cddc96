package notifier

import (
	"context"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/logger"
)

// LogNotifier logs what would be announced without contacting a broker
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a new log-only notifier
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(logger.Fields{"component": "notifier"})}
}

// Notify logs one line per sighting
func (n *LogNotifier) Notify(_ context.Context, sightings []event.Sighting) error {
	for i, s := range sightings {
		n.log.Info(Summary(s), logger.Fields{
			"index":     i + 1,
			"total":     len(sightings),
			"name":      s.Name,
			"new_event": s.NewEvent,
		})
	}
	return nil
}

func (n *LogNotifier) Close() error { return nil }
