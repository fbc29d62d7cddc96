package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmoraes/event-harvester/internal/event"
)

// Notifier defines the interface for announcing ingested events
type Notifier interface {
	// Notify announces the given sightings
	Notify(ctx context.Context, sightings []event.Sighting) error
	Close() error
}

// Summary renders a sighting as one human-readable line.
func Summary(s event.Sighting) string {
	var b strings.Builder
	if s.NewEvent {
		b.WriteString("New event: ")
	} else {
		b.WriteString("Updated event: ")
	}
	b.WriteString(s.Name)
	if s.Date != "" {
		fmt.Fprintf(&b, " on %s", s.Date)
	}
	if s.Location != "" {
		fmt.Fprintf(&b, " at %s", s.Location)
	}
	if s.SourceURL != "" {
		fmt.Fprintf(&b, " (%s)", s.SourceURL)
	}
	return b.String()
}
