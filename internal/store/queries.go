package store

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/logger"
)

const listingColumns = "e.name AS name, e.type AS type, e.description AS description, " +
	"o.date AS date, o.location AS location"

func (s *SQL) listings(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("event_occurrences AS o").
		Select(listingColumns).
		Joins("JOIN events AS e ON e.id = o.event_id")
}

func (s *SQL) scan(query string, q *gorm.DB, fields logger.Fields) []Listing {
	var out []Listing
	if err := q.Scan(&out).Error; err != nil {
		s.log.Error("Query failed: "+query, fields, err)
		return []Listing{}
	}
	if out == nil {
		out = []Listing{}
	}
	return out
}

func (s *SQL) AllEvents(ctx context.Context) []Listing {
	return s.scan("all events", s.listings(ctx).Order("e.name, o.date"), nil)
}

func (s *SQL) Upcoming(ctx context.Context, limit int) []Listing {
	today := event.FormatDate(event.Truncate(s.now()))
	q := s.listings(ctx).Where("o.date >= ?", today).Order("o.date, e.name")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.scan("upcoming", q, logger.Fields{"limit": limit, "from": today})
}

func (s *SQL) ByLocation(ctx context.Context, text string) []Listing {
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	q := s.listings(ctx).
		Where("LOWER(o.location) LIKE ? ESCAPE '!'", pattern).
		Order("e.name, o.date")
	return s.scan("by location", q, logger.Fields{"location": text})
}

func (s *SQL) WithMetadata(ctx context.Context, key, value string) []Listing {
	q := s.listings(ctx).
		Joins("JOIN event_metadata AS m ON m.event_id = e.id").
		Where("m.key = ? AND m.value = ?", key, value).
		Order("e.name, o.date")
	return s.scan("with metadata", q, logger.Fields{"key": key, "value": value})
}

func (s *SQL) MetadataByEvent(ctx context.Context) map[string]map[string]string {
	var rows []metadataPair
	err := s.db.WithContext(ctx).
		Table("event_metadata AS m").
		Select("e.name AS name, m.key AS meta_key, m.value AS value").
		Joins("JOIN events AS e ON e.id = m.event_id").
		Order("e.name").
		Scan(&rows).Error
	if err != nil {
		s.log.Error("Query failed: metadata by event", nil, err)
		return map[string]map[string]string{}
	}
	return groupMetadata(rows)
}

type metadataPair struct {
	Name    string
	MetaKey string
	Value   string
}

func groupMetadata(rows []metadataPair) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, r := range rows {
		if out[r.Name] == nil {
			out[r.Name] = make(map[string]string)
		}
		out[r.Name][r.MetaKey] = r.Value
	}
	return out
}

// escapeLike escapes LIKE wildcards using '!' as the escape character.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
