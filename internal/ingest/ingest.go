// Package ingest merges extracted candidate records into the store.
//
// Every candidate is processed in its own atomic unit: the event is upserted by name,
// then its occurrence by (event, date), then each present metadata field by (event, key).
// A failing unit is rolled back and logged; earlier and later candidates are unaffected.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/metrics"
	"github.com/vmoraes/event-harvester/internal/store"
)

// Result summarises one or more Ingest calls.
type Result struct {
	Candidates int `json:"candidates"`
	Committed  int `json:"committed"`
	Failed     int `json:"failed"`
	// DatesSkipped counts committed candidates whose start date could not be parsed.
	DatesSkipped int `json:"dates_skipped"`

	EventsCreated      int `json:"events_created"`
	EventsUpdated      int `json:"events_updated"`
	OccurrencesCreated int `json:"occurrences_created"`
	OccurrencesUpdated int `json:"occurrences_updated"`
	MetadataCreated    int `json:"metadata_created"`
	MetadataUpdated    int `json:"metadata_updated"`

	Sightings []event.Sighting `json:"sightings,omitempty"`
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Candidates += other.Candidates
	r.Committed += other.Committed
	r.Failed += other.Failed
	r.DatesSkipped += other.DatesSkipped
	r.EventsCreated += other.EventsCreated
	r.EventsUpdated += other.EventsUpdated
	r.OccurrencesCreated += other.OccurrencesCreated
	r.OccurrencesUpdated += other.OccurrencesUpdated
	r.MetadataCreated += other.MetadataCreated
	r.MetadataUpdated += other.MetadataUpdated
	r.Sightings = append(r.Sightings, other.Sightings...)
}

// Coordinator applies candidates to a Store.
type Coordinator struct {
	store   store.Store
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New returns a Coordinator writing to s. m may be nil.
func New(s store.Store, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:   s,
		log:     log.With(logger.Fields{"component": "ingest"}),
		metrics: m,
		now:     time.Now,
	}
}

// unit tracks what one candidate's atomic unit wrote. It is discarded if the unit fails.
type unit struct {
	newEvent    bool
	occurrence  *event.Occurrence
	dateSkipped bool

	occCreated, occUpdated   int
	metaCreated, metaUpdated int
}

// Ingest processes candidates in order. It never fails as a whole: per-candidate failures
// are logged and counted in the Result. A cancelled context stops processing before the
// next candidate.
func (c *Coordinator) Ingest(ctx context.Context, candidates []event.CandidateRecord) Result {
	var res Result

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			c.log.Warn("Ingestion interrupted", logger.Fields{
				"remaining": len(candidates) - i,
				"error":     err.Error(),
			})
			break
		}

		cand := &candidates[i]
		res.Candidates++

		var u unit
		err := c.store.Atomic(ctx, func(tx store.Tx) error {
			u = unit{}
			return c.apply(tx, cand, &u)
		})
		if err != nil {
			res.Failed++
			c.fail(cand, err)
			continue
		}

		res.Committed++
		c.metrics.Ingested("committed")
		c.record(&res, cand, &u)
	}

	c.log.Info("Ingestion pass finished", logger.Fields{
		"candidates": res.Candidates,
		"committed":  res.Committed,
		"failed":     res.Failed,
	})
	return res
}

func (c *Coordinator) fail(cand *event.CandidateRecord, err error) {
	fields := logger.Fields{"name": cand.Name, "start_date": cand.StartDate}
	if errors.Is(err, store.ErrIntegrity) {
		c.metrics.Ingested("integrity_error")
		c.log.Error("Integrity violation, candidate skipped", fields, err)
		return
	}
	c.metrics.Ingested("error")
	c.log.Error("Failed to ingest candidate", fields, err)
}

func (c *Coordinator) record(res *Result, cand *event.CandidateRecord, u *unit) {
	if u.newEvent {
		res.EventsCreated++
	} else {
		res.EventsUpdated++
	}
	c.metrics.Row("event", u.newEvent)

	if u.dateSkipped {
		res.DatesSkipped++
	}
	res.OccurrencesCreated += u.occCreated
	res.OccurrencesUpdated += u.occUpdated
	if u.occCreated+u.occUpdated > 0 {
		c.metrics.Row("occurrence", u.occCreated > 0)
	}
	res.MetadataCreated += u.metaCreated
	res.MetadataUpdated += u.metaUpdated
	for i := 0; i < u.metaCreated; i++ {
		c.metrics.Row("metadata", true)
	}
	for i := 0; i < u.metaUpdated; i++ {
		c.metrics.Row("metadata", false)
	}

	s := event.Sighting{
		Name:       cand.Name,
		Type:       cand.Type,
		NewEvent:   u.newEvent,
		IngestedAt: c.now().UTC().Format(time.RFC3339),
	}
	if u.occurrence != nil {
		s.Date = event.FormatDate(u.occurrence.Date)
		s.Location = u.occurrence.Location
	}
	if cand.URL != nil {
		s.SourceURL = *cand.URL
	}
	res.Sightings = append(res.Sightings, s)
}

func (c *Coordinator) apply(tx store.Tx, cand *event.CandidateRecord, u *unit) error {
	ev, err := c.upsertEvent(tx, cand, u)
	if err != nil {
		return err
	}

	date, err := event.ParseDate(cand.StartDate)
	if err != nil {
		u.dateSkipped = true
		c.log.Warn("Unparseable start date, occurrence skipped", logger.Fields{
			"name":       cand.Name,
			"start_date": cand.StartDate,
		})
	} else if err := c.upsertOccurrence(tx, ev, date, cand.Location(), u); err != nil {
		return err
	}

	return c.upsertMetadata(tx, ev, cand.Metadata(), u)
}

func (c *Coordinator) upsertEvent(tx store.Tx, cand *event.CandidateRecord, u *unit) (*event.Event, error) {
	ev, err := tx.EventByName(cand.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ev = &event.Event{Name: cand.Name, Type: cand.Type, Description: cand.Description}
		if err := tx.CreateEvent(ev); err != nil {
			return nil, err
		}
		u.newEvent = true
		return ev, nil
	case err != nil:
		return nil, err
	}

	ev.Type = cand.Type
	ev.Description = cand.Description
	if err := tx.UpdateEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *Coordinator) upsertOccurrence(tx store.Tx, ev *event.Event, date time.Time, location string, u *unit) error {
	occ, err := tx.Occurrence(ev.ID, date)
	switch {
	case errors.Is(err, store.ErrNotFound):
		occ = &event.Occurrence{EventID: ev.ID, Date: date, Location: location}
		if err := tx.CreateOccurrence(occ); err != nil {
			return err
		}
		u.occCreated++
	case err != nil:
		return err
	default:
		occ.Location = location
		if err := tx.UpdateOccurrence(occ); err != nil {
			return err
		}
		u.occUpdated++
	}
	u.occurrence = occ
	return nil
}

func (c *Coordinator) upsertMetadata(tx store.Tx, ev *event.Event, fields []event.MetadataField, u *unit) error {
	for _, f := range fields {
		md, err := tx.Metadata(ev.ID, f.Key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := tx.CreateMetadata(&event.MetadataEntry{EventID: ev.ID, Key: f.Key, Value: f.Value}); err != nil {
				return err
			}
			u.metaCreated++
		case err != nil:
			return err
		default:
			md.Value = f.Value
			if err := tx.UpdateMetadata(md); err != nil {
				return err
			}
			u.metaUpdated++
		}
	}
	return nil
}
