package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/extractor"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/store"
)

func candidate(name, date string) event.CandidateRecord {
	return event.CandidateRecord{
		Name:      name,
		Type:      "Event",
		StartDate: date,
		Venue:     event.StringPtr("Venue X"),
		Address:   event.StringPtr("Rio de Janeiro"),
		Price:     event.StringPtr("50"),
	}
}

func newCoordinator(s store.Store) *Coordinator {
	c := New(s, logger.Nop(), nil)
	c.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return c
}

func mustCounts(t *testing.T, s store.Store) store.Counts {
	t.Helper()
	c, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	return c
}

func TestIngestIdempotent(t *testing.T) {
	s := store.NewMemory()
	c := newCoordinator(s)
	ctx := context.Background()
	batch := []event.CandidateRecord{
		candidate("Show A", "2025-06-01"),
		candidate("Show B", "2025-06-02"),
	}

	first := c.Ingest(ctx, batch)
	after := mustCounts(t, s)
	second := c.Ingest(ctx, batch)

	if got := mustCounts(t, s); got != after {
		t.Errorf("counts after re-ingest = %+v, want %+v", got, after)
	}
	if after != (store.Counts{Events: 2, Occurrences: 2, Metadata: 2}) {
		t.Errorf("counts = %+v", after)
	}
	if first.EventsCreated != 2 || second.EventsCreated != 0 || second.EventsUpdated != 2 {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if second.OccurrencesUpdated != 2 || second.MetadataUpdated != 2 {
		t.Errorf("second pass should update in place: %+v", second)
	}
}

func TestIngestLastWriteWins(t *testing.T) {
	s := store.NewMemory()
	c := newCoordinator(s)
	ctx := context.Background()

	a := candidate("Show A", "2025-06-01")
	a.Description = event.StringPtr("first")
	b := candidate("Show A", "2025-06-01")
	b.Type = "MusicEvent"
	b.Price = event.StringPtr("75")
	b.Venue = nil

	res := c.Ingest(ctx, []event.CandidateRecord{a, b})
	if res.Committed != 2 {
		t.Fatalf("Committed = %d, want 2", res.Committed)
	}

	all := s.AllEvents(ctx)
	if len(all) != 1 {
		t.Fatalf("AllEvents() = %+v, want one row", all)
	}
	got := all[0]
	if got.Type != "MusicEvent" {
		t.Errorf("Type = %q, want MusicEvent", got.Type)
	}
	if got.Description != nil {
		t.Errorf("Description = %q, want nil (overwritten unconditionally)", *got.Description)
	}
	if got.Location != "Desconhecido, Rio de Janeiro" {
		t.Errorf("Location = %q", got.Location)
	}
	if price := s.MetadataByEvent(ctx)["Show A"]["price"]; price != "75" {
		t.Errorf("price = %q, want 75", price)
	}
}

func TestIngestOccurrencePerDate(t *testing.T) {
	s := store.NewMemory()
	c := newCoordinator(s)

	c.Ingest(context.Background(), []event.CandidateRecord{
		candidate("Show A", "2025-06-01"),
		// a full ISO timestamp is accepted and lands on the same calendar date
		candidate("Show A", "2025-06-01T21:00:00-03:00"),
		candidate("Show A", "2025-06-08"),
	})

	if got := mustCounts(t, s); got.Events != 1 || got.Occurrences != 2 {
		t.Errorf("counts = %+v, want 1 event with 2 occurrences", got)
	}
}

func TestIngestBadDateKeepsEvent(t *testing.T) {
	s := store.NewMemory()
	c := newCoordinator(s)

	res := c.Ingest(context.Background(), []event.CandidateRecord{candidate("Show A", "01/06/2025")})

	if res.Committed != 1 || res.DatesSkipped != 1 {
		t.Errorf("result = %+v, want 1 committed with a skipped date", res)
	}
	got := mustCounts(t, s)
	want := store.Counts{Events: 1, Occurrences: 0, Metadata: 1}
	if got != want {
		t.Errorf("counts = %+v, want %+v", got, want)
	}
	if len(res.Sightings) != 1 || res.Sightings[0].Date != "" {
		t.Errorf("sightings = %+v", res.Sightings)
	}
}

func TestIngestAbsentMetadataKeepsExisting(t *testing.T) {
	s := store.NewMemory()
	c := newCoordinator(s)
	ctx := context.Background()

	a := candidate("Show A", "2025-06-01")
	a.URL = event.StringPtr("https://example.com/show-a")
	b := candidate("Show A", "2025-06-01")
	b.Price = nil

	c.Ingest(ctx, []event.CandidateRecord{a, b})

	meta := s.MetadataByEvent(ctx)["Show A"]
	if meta["price"] != "50" || meta["url"] != "https://example.com/show-a" {
		t.Errorf("metadata = %v, absent fields must not clear entries", meta)
	}
}

// failingStore makes CreateOccurrence fail for one event name.
type failingStore struct {
	*store.Memory
	failFor string
	err     error
}

func (f *failingStore) Atomic(ctx context.Context, fn func(store.Tx) error) error {
	return f.Memory.Atomic(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, failFor: f.failFor, err: f.err})
	})
}

type failingTx struct {
	store.Tx
	failFor string
	err     error
	current string
}

func (t *failingTx) EventByName(name string) (*event.Event, error) {
	t.current = name
	return t.Tx.EventByName(name)
}

func (t *failingTx) CreateOccurrence(o *event.Occurrence) error {
	if t.current == t.failFor {
		return t.err
	}
	return t.Tx.CreateOccurrence(o)
}

func TestIngestFailureIsolation(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantLog string
	}{
		{name: "integrity", err: store.ErrIntegrity, wantLog: "Integrity violation"},
		{name: "other", err: errors.New("disk full"), wantLog: "Failed to ingest candidate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := &failingStore{Memory: store.NewMemory(), failFor: "Show B", err: tt.err}
			c := New(s, logger.New(logger.LevelInfo, &buf), nil)
			ctx := context.Background()

			res := c.Ingest(ctx, []event.CandidateRecord{
				candidate("Show A", "2025-06-01"),
				candidate("Show B", "2025-06-02"),
				candidate("Show C", "2025-06-03"),
			})

			if res.Committed != 2 || res.Failed != 1 {
				t.Errorf("result = %+v, want 2 committed, 1 failed", res)
			}
			got := mustCounts(t, s)
			want := store.Counts{Events: 2, Occurrences: 2, Metadata: 2}
			if got != want {
				t.Errorf("counts = %+v, want %+v (failed unit rolled back)", got, want)
			}
			out := buf.String()
			if !strings.Contains(out, tt.wantLog) || !strings.Contains(out, `"name":"Show B"`) {
				t.Errorf("log does not identify the failed event:\n%s", out)
			}
		})
	}
}

func TestIngestStopsOnCancelledContext(t *testing.T) {
	s := store.NewMemory()
	c := newCoordinator(s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Ingest(ctx, []event.CandidateRecord{candidate("Show A", "2025-06-01")})
	if res.Candidates != 0 {
		t.Errorf("Candidates = %d, want 0", res.Candidates)
	}
}

func TestShowAEndToEnd(t *testing.T) {
	markup := `<html><head>
<script type="application/ld+json">
{"name":"Show A","@type":"Event","startDate":"2025-06-01",
 "location":{"name":"Venue X","address":"Rio de Janeiro"},
 "offers":{"price":50,"priceCurrency":"BRL"}}
</script></head><body></body></html>`

	s := store.NewMemory()
	ctx := context.Background()
	candidates := extractor.New(logger.Nop(), nil).Extract(markup)
	res := newCoordinator(s).Ingest(ctx, candidates)

	if res.Committed != 1 {
		t.Fatalf("Committed = %d, want 1", res.Committed)
	}

	all := s.AllEvents(ctx)
	if len(all) != 1 {
		t.Fatalf("AllEvents() = %+v", all)
	}
	want := store.Listing{Name: "Show A", Type: "Event", Date: "2025-06-01", Location: "Venue X, Rio de Janeiro"}
	if all[0] != want {
		t.Errorf("listing = %+v, want %+v", all[0], want)
	}

	meta := s.MetadataByEvent(ctx)["Show A"]
	wantMeta := map[string]string{"price": "50", "priceCurrency": "BRL"}
	if len(meta) != len(wantMeta) {
		t.Errorf("metadata = %v, want exactly %v", meta, wantMeta)
	}
	for k, v := range wantMeta {
		if meta[k] != v {
			t.Errorf("metadata[%s] = %q, want %q", k, meta[k], v)
		}
	}

	if len(res.Sightings) != 1 || !res.Sightings[0].NewEvent || res.Sightings[0].IngestedAt != "2026-10-17T12:00:00Z" {
		t.Errorf("sightings = %+v", res.Sightings)
	}
}

func TestResultAdd(t *testing.T) {
	a := Result{Candidates: 2, Committed: 1, Failed: 1, Sightings: []event.Sighting{{Name: "A"}}}
	a.Add(Result{Candidates: 3, Committed: 3, MetadataCreated: 4, Sightings: []event.Sighting{{Name: "B"}}})

	if a.Candidates != 5 || a.Committed != 4 || a.Failed != 1 || a.MetadataCreated != 4 || len(a.Sightings) != 2 {
		t.Errorf("Add() = %+v", a)
	}
}
