package extractor

import (
	"encoding/json"
	"strings"

	"github.com/vmoraes/event-harvester/internal/event"
)

// eventTypes is the schema.org Event type and its subtypes.
var eventTypes = map[string]bool{
	"Event":            true,
	"BusinessEvent":    true,
	"ChildrensEvent":   true,
	"ComedyEvent":      true,
	"CourseInstance":   true,
	"DanceEvent":       true,
	"DeliveryEvent":    true,
	"EducationEvent":   true,
	"EventSeries":      true,
	"ExhibitionEvent":  true,
	"Festival":         true,
	"FoodEvent":        true,
	"Hackathon":        true,
	"LiteraryEvent":    true,
	"MusicEvent":       true,
	"PublicationEvent": true,
	"SaleEvent":        true,
	"ScreeningEvent":   true,
	"SocialEvent":      true,
	"SportsEvent":      true,
	"TheaterEvent":     true,
	"VisualArtsEvent":  true,
	"BroadcastEvent":   true,
	"OnDemandEvent":    true,
}

// eventType returns the first event type named by an @type value, which may be a string
// or a list of strings.
func eventType(v interface{}) (string, bool) {
	var names []string
	switch t := v.(type) {
	case string:
		names = []string{t}
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}

	for _, name := range names {
		name = normalizeType(name)
		if eventTypes[name] {
			return name, true
		}
	}
	return "", false
}

func normalizeType(name string) string {
	name = strings.TrimSpace(name)
	for _, prefix := range []string{"https://schema.org/", "http://schema.org/", "schema:"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

// candidateFrom flattens an event entity. Required fields are left empty when missing so
// Validate can report them.
func candidateFrom(obj map[string]interface{}, typeName string) event.CandidateRecord {
	c := event.CandidateRecord{
		Name:        deref(text(obj["name"])),
		Type:        typeName,
		StartDate:   deref(text(obj["startDate"])),
		Description: text(obj["description"]),
		EndDate:     text(obj["endDate"]),
		Image:       image(obj["image"]),
		URL:         text(obj["url"]),
	}

	switch loc := first(obj["location"]).(type) {
	case map[string]interface{}:
		c.Venue = text(loc["name"])
		c.Address = address(loc["address"])
	case string:
		c.Venue = text(loc)
	}

	if offers, ok := first(obj["offers"]).(map[string]interface{}); ok {
		c.Price = text(offers["price"])
		c.PriceCurrency = text(offers["priceCurrency"])
		c.Availability = text(offers["availability"])
	}

	return c
}

// text renders a scalar JSON value as a string. Null, objects and arrays yield nil.
func text(v interface{}) *string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return &s
	case json.Number:
		s := t.String()
		return &s
	case bool:
		s := "false"
		if t {
			s = "true"
		}
		return &s
	default:
		return nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// first unwraps a one-or-many value to its first element.
func first(v interface{}) interface{} {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

// image accepts a URL string, an ImageObject or a list of either.
func image(v interface{}) *string {
	switch t := first(v).(type) {
	case map[string]interface{}:
		if u := text(t["url"]); u != nil {
			return u
		}
		return text(t["contentUrl"])
	default:
		return text(t)
	}
}

// address accepts a plain string or a PostalAddress, flattened to
// "street, locality, region, country" without blank parts.
func address(v interface{}) *string {
	switch t := first(v).(type) {
	case map[string]interface{}:
		var parts []string
		for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "addressCountry"} {
			val := t[key]
			if country, ok := val.(map[string]interface{}); ok {
				val = country["name"]
			}
			if s := text(val); s != nil && *s != "" {
				parts = append(parts, *s)
			}
		}
		if len(parts) == 0 {
			return nil
		}
		s := strings.Join(parts, ", ")
		return &s
	default:
		return text(t)
	}
}
