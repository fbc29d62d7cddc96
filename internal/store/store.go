package store

import (
	"context"
	"errors"
	"time"

	"github.com/vmoraes/event-harvester/internal/event"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity wraps uniqueness and foreign-key violations.
	ErrIntegrity = errors.New("integrity violation")
)

// Tx exposes the primitive reads and writes available inside an atomic unit. Lookups
// return ErrNotFound when nothing matches.
type Tx interface {
	EventByName(name string) (*event.Event, error)
	CreateEvent(e *event.Event) error
	UpdateEvent(e *event.Event) error

	Occurrence(eventID uint, date time.Time) (*event.Occurrence, error)
	CreateOccurrence(o *event.Occurrence) error
	UpdateOccurrence(o *event.Occurrence) error

	Metadata(eventID uint, key event.MetadataKey) (*event.MetadataEntry, error)
	CreateMetadata(m *event.MetadataEntry) error
	UpdateMetadata(m *event.MetadataEntry) error
}

// Store is the write side used by the ingestion pipeline.
type Store interface {
	// Atomic runs fn in a transaction. If fn returns an error, nothing it wrote is kept.
	Atomic(ctx context.Context, fn func(Tx) error) error
	// DeleteEvent removes the named event together with its occurrences and metadata.
	DeleteEvent(ctx context.Context, name string) error
	// Counts returns the number of rows per entity.
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Counts holds per-entity row counts.
type Counts struct {
	Events      int64 `json:"events"`
	Occurrences int64 `json:"occurrences"`
	Metadata    int64 `json:"metadata"`
}

// Listing is one event occurrence joined with its event, as shown by the reports.
type Listing struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description *string `json:"description,omitempty"`
	Date        string  `json:"date"`
	Location    string  `json:"location"`
}

// Reader is the read-only query side consumed by the reporting layer. Queries never
// fail: errors are logged by the implementation and yield empty results.
type Reader interface {
	// AllEvents lists every occurrence ordered by event name, then date.
	AllEvents(ctx context.Context) []Listing
	// Upcoming lists occurrences dated today or later, soonest first, at most limit rows.
	Upcoming(ctx context.Context, limit int) []Listing
	// ByLocation lists occurrences whose location contains text, ignoring case.
	ByLocation(ctx context.Context, text string) []Listing
	// WithMetadata lists occurrences of events having metadata key equal to value.
	WithMetadata(ctx context.Context, key, value string) []Listing
	// MetadataByEvent maps event name to its metadata key/value pairs.
	MetadataByEvent(ctx context.Context) map[string]map[string]string
}
