package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmoraes/event-harvester/internal/event"
)

var (
	_ Store  = (*Memory)(nil)
	_ Reader = (*Memory)(nil)
)

// Memory is an in-process Store and Reader with the same uniqueness and cascade rules as
// the SQL schema. Atomic works on a copy of the state and publishes it only on success.
type Memory struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type memState struct {
	nextID      uint
	events      map[uint]event.Event
	occurrences map[uint]event.Occurrence
	metadata    map[uint]event.MetadataEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		state: memState{
			events:      make(map[uint]event.Event),
			occurrences: make(map[uint]event.Occurrence),
			metadata:    make(map[uint]event.MetadataEntry),
		},
		now: time.Now,
	}
}

// SetClock replaces the clock used for timestamps and for Upcoming.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (s memState) clone() memState {
	c := memState{
		nextID:      s.nextID,
		events:      make(map[uint]event.Event, len(s.events)),
		occurrences: make(map[uint]event.Occurrence, len(s.occurrences)),
		metadata:    make(map[uint]event.MetadataEntry, len(s.metadata)),
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.occurrences {
		c.occurrences[k] = v
	}
	for k, v := range s.metadata {
		c.metadata[k] = v
	}
	return c
}

func (m *Memory) Atomic(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{state: &work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) DeleteEvent(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.state.events {
		if e.Name != name {
			continue
		}
		delete(m.state.events, id)
		for oid, o := range m.state.occurrences {
			if o.EventID == id {
				delete(m.state.occurrences, oid)
			}
		}
		for mid, md := range m.state.metadata {
			if md.EventID == id {
				delete(m.state.metadata, mid)
			}
		}
		return nil
	}
	return fmt.Errorf("deleting event %q: %w", name, ErrNotFound)
}

func (m *Memory) Counts(ctx context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		Events:      int64(len(m.state.events)),
		Occurrences: int64(len(m.state.occurrences)),
		Metadata:    int64(len(m.state.metadata)),
	}, nil
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) id() uint {
	t.state.nextID++
	return t.state.nextID
}

func (t *memTx) EventByName(name string) (*event.Event, error) {
	for _, e := range t.state.events {
		if e.Name == name {
			e := e
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateEvent(e *event.Event) error {
	if _, err := t.EventByName(e.Name); err == nil {
		return fmt.Errorf("creating event %q: %w: duplicate name", e.Name, ErrIntegrity)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	e.ID = t.id()
	t.state.events[e.ID] = *e
	return nil
}

func (t *memTx) UpdateEvent(e *event.Event) error {
	cur, ok := t.state.events[e.ID]
	if !ok {
		return fmt.Errorf("updating event %q: %w", e.Name, ErrNotFound)
	}
	cur.Type = e.Type
	cur.Description = e.Description
	t.state.events[e.ID] = cur
	return nil
}

func (t *memTx) Occurrence(eventID uint, date time.Time) (*event.Occurrence, error) {
	day := event.Truncate(date)
	for _, o := range t.state.occurrences {
		if o.EventID == eventID && o.Date.Equal(day) {
			o := o
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateOccurrence(o *event.Occurrence) error {
	if _, ok := t.state.events[o.EventID]; !ok {
		return fmt.Errorf("creating occurrence: %w: unknown event %d", ErrIntegrity, o.EventID)
	}
	if _, err := t.Occurrence(o.EventID, o.Date); err == nil {
		return fmt.Errorf("creating occurrence %s: %w: duplicate date", event.FormatDate(o.Date), ErrIntegrity)
	}
	o.Date = event.Truncate(o.Date)
	o.ID = t.id()
	t.state.occurrences[o.ID] = *o
	return nil
}

func (t *memTx) UpdateOccurrence(o *event.Occurrence) error {
	cur, ok := t.state.occurrences[o.ID]
	if !ok {
		return fmt.Errorf("updating occurrence %d: %w", o.ID, ErrNotFound)
	}
	cur.Location = o.Location
	t.state.occurrences[o.ID] = cur
	return nil
}

func (t *memTx) Metadata(eventID uint, key event.MetadataKey) (*event.MetadataEntry, error) {
	for _, md := range t.state.metadata {
		if md.EventID == eventID && md.Key == key {
			md := md
			return &md, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateMetadata(md *event.MetadataEntry) error {
	if _, ok := t.state.events[md.EventID]; !ok {
		return fmt.Errorf("creating metadata: %w: unknown event %d", ErrIntegrity, md.EventID)
	}
	if _, err := t.Metadata(md.EventID, md.Key); err == nil {
		return fmt.Errorf("creating metadata %q: %w: duplicate key", md.Key, ErrIntegrity)
	}
	md.UpdatedAt = t.now().UTC()
	md.ID = t.id()
	t.state.metadata[md.ID] = *md
	return nil
}

func (t *memTx) UpdateMetadata(md *event.MetadataEntry) error {
	cur, ok := t.state.metadata[md.ID]
	if !ok {
		return fmt.Errorf("updating metadata %q: %w", md.Key, ErrNotFound)
	}
	md.UpdatedAt = t.now().UTC()
	cur.Value = md.Value
	cur.UpdatedAt = md.UpdatedAt
	t.state.metadata[md.ID] = cur
	return nil
}

// listings joins every occurrence with its event. Callers hold m.mu.
func (m *Memory) listings(keep func(event.Event, event.Occurrence) bool) []Listing {
	out := []Listing{}
	for _, o := range m.state.occurrences {
		e := m.state.events[o.EventID]
		if keep != nil && !keep(e, o) {
			continue
		}
		out = append(out, Listing{
			Name:        e.Name,
			Type:        e.Type,
			Description: e.Description,
			Date:        event.FormatDate(o.Date),
			Location:    o.Location,
		})
	}
	return out
}

func byNameThenDate(ls []Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Name != ls[j].Name {
			return ls[i].Name < ls[j].Name
		}
		return ls[i].Date < ls[j].Date
	})
}

func (m *Memory) AllEvents(ctx context.Context) []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.listings(nil)
	byNameThenDate(out)
	return out
}

func (m *Memory) Upcoming(ctx context.Context, limit int) []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := m.listings(func(_ event.Event, o event.Occurrence) bool {
		return event.IsUpcoming(o.Date, now)
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ByLocation(ctx context.Context, text string) []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(text)
	out := m.listings(func(_ event.Event, o event.Occurrence) bool {
		return strings.Contains(strings.ToLower(o.Location), needle)
	})
	byNameThenDate(out)
	return out
}

func (m *Memory) WithMetadata(ctx context.Context, key, value string) []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := make(map[uint]bool)
	for _, md := range m.state.metadata {
		if string(md.Key) == key && md.Value == value {
			matches[md.EventID] = true
		}
	}
	out := m.listings(func(e event.Event, _ event.Occurrence) bool {
		return matches[e.ID]
	})
	byNameThenDate(out)
	return out
}

func (m *Memory) MetadataByEvent(ctx context.Context) map[string]map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]metadataPair, 0, len(m.state.metadata))
	for _, md := range m.state.metadata {
		rows = append(rows, metadataPair{
			Name:    m.state.events[md.EventID].Name,
			MetaKey: string(md.Key),
			Value:   md.Value,
		})
	}
	return groupMetadata(rows)
}
