package store

import (
	"time"

	"github.com/vmoraes/event-harvester/internal/event"
)

type eventRow struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;size:255;not null;uniqueIndex:uq_events_name"`
	Type        string    `gorm:"column:type;type:text;not null"`
	Description *string   `gorm:"column:description;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (eventRow) TableName() string { return "events" }

type occurrenceRow struct {
	ID      uint `gorm:"column:id;primaryKey;autoIncrement"`
	EventID uint `gorm:"column:event_id;not null;uniqueIndex:uq_occurrences_event_date,priority:1"`
	// Date is an ISO calendar date (YYYY-MM-DD); string order matches date order.
	Date     string `gorm:"column:date;size:10;not null;uniqueIndex:uq_occurrences_event_date,priority:2;index:idx_occurrences_date"`
	Location string `gorm:"column:location;type:text;not null"`

	Event eventRow `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

func (occurrenceRow) TableName() string { return "event_occurrences" }

type metadataRow struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID   uint      `gorm:"column:event_id;not null;uniqueIndex:uq_metadata_event_key,priority:1"`
	Key       string    `gorm:"column:key;size:32;not null;uniqueIndex:uq_metadata_event_key,priority:2"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`

	Event eventRow `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

func (metadataRow) TableName() string { return "event_metadata" }

func (r *eventRow) toEntity() *event.Event {
	return &event.Event{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

func (r *occurrenceRow) toEntity() (*event.Occurrence, error) {
	date, err := event.ParseDate(r.Date)
	if err != nil {
		return nil, err
	}
	return &event.Occurrence{
		ID:       r.ID,
		EventID:  r.EventID,
		Date:     date,
		Location: r.Location,
	}, nil
}

func (r *metadataRow) toEntity() *event.MetadataEntry {
	return &event.MetadataEntry{
		ID:        r.ID,
		EventID:   r.EventID,
		Key:       event.MetadataKey(r.Key),
		Value:     r.Value,
		UpdatedAt: r.UpdatedAt,
	}
}
