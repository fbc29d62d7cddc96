package event

import (
	"fmt"
	"strings"
	"time"
)

// Event is the identity record for a named event. Name is unique and compared exactly.
type Event struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Occurrence is one dated, located instance of an Event. At most one exists per
// (EventID, Date); Date never carries a time component.
type Occurrence struct {
	ID       uint      `json:"id"`
	EventID  uint      `json:"event_id"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
}

// MetadataEntry is a key/value attribute of an Event, unique per (EventID, Key).
type MetadataEntry struct {
	ID        uint        `json:"id"`
	EventID   uint        `json:"event_id"`
	Key       MetadataKey `json:"key"`
	Value     string      `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// MetadataKey names one of the allowed metadata attributes.
type MetadataKey string

const (
	KeyPrice         MetadataKey = "price"
	KeyPriceCurrency MetadataKey = "priceCurrency"
	KeyAvailability  MetadataKey = "availability"
	KeyImage         MetadataKey = "image"
	KeyURL           MetadataKey = "url"
)

// MetadataKeys lists the allowed keys in the order they are written.
var MetadataKeys = []MetadataKey{
	KeyPrice,
	KeyPriceCurrency,
	KeyAvailability,
	KeyImage,
	KeyURL,
}

// IsMetadataKey reports whether k is one of the allowed metadata keys.
func IsMetadataKey(k string) bool {
	for _, key := range MetadataKeys {
		if string(key) == k {
			return true
		}
	}
	return false
}

// UnknownPart replaces a missing venue or address when formatting a location.
const UnknownPart = "Desconhecido"

// LocationSeparator joins venue and address.
const LocationSeparator = ", "

// CandidateRecord is one extracted event sighting. Name, Type and StartDate are required;
// every other field is nil when the source did not provide it.
type CandidateRecord struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	StartDate     string  `json:"start_date"`
	Description   *string `json:"description,omitempty"`
	EndDate       *string `json:"end_date,omitempty"`
	Venue         *string `json:"venue,omitempty"`
	Address       *string `json:"address,omitempty"`
	Image         *string `json:"image,omitempty"`
	URL           *string `json:"url,omitempty"`
	Price         *string `json:"price,omitempty"`
	PriceCurrency *string `json:"price_currency,omitempty"`
	Availability  *string `json:"availability,omitempty"`
}

// MissingFieldsError lists the required fields a candidate lacks.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Validate checks that the required fields are present and non-blank.
func (c *CandidateRecord) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(c.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(c.StartDate) == "" {
		missing = append(missing, "startDate")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// Location formats the occurrence location as "venue, address", substituting UnknownPart
// for a missing or blank half.
func (c *CandidateRecord) Location() string {
	return FormatLocation(c.Venue, c.Address)
}

// FormatLocation joins venue and address with LocationSeparator.
func FormatLocation(venue, address *string) string {
	return orUnknown(venue) + LocationSeparator + orUnknown(address)
}

func orUnknown(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return UnknownPart
	}
	return strings.TrimSpace(*s)
}

// MetadataField is one present metadata value of a candidate.
type MetadataField struct {
	Key   MetadataKey
	Value string
}

// Metadata returns the candidate's present metadata fields in MetadataKeys order.
// Absent fields are omitted, never returned as empty values.
func (c *CandidateRecord) Metadata() []MetadataField {
	values := map[MetadataKey]*string{
		KeyPrice:         c.Price,
		KeyPriceCurrency: c.PriceCurrency,
		KeyAvailability:  c.Availability,
		KeyImage:         c.Image,
		KeyURL:           c.URL,
	}

	fields := make([]MetadataField, 0, len(MetadataKeys))
	for _, key := range MetadataKeys {
		if v := values[key]; v != nil {
			fields = append(fields, MetadataField{Key: key, Value: *v})
		}
	}
	return fields
}

// Sighting describes one candidate that was committed to the store.
type Sighting struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Date       string `json:"date,omitempty"`
	Location   string `json:"location,omitempty"`
	NewEvent   bool   `json:"new_event"`
	SourceURL  string `json:"source_url,omitempty"`
	IngestedAt string `json:"ingested_at"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
