package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/vmoraes/event-harvester/internal/crawler"
	"github.com/vmoraes/event-harvester/internal/store"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
}

// ListingResult is the output of the listing queries
type ListingResult struct {
	Title     string          `json:"title"`
	CheckedAt time.Time       `json:"checked_at"`
	Events    []store.Listing `json:"events"`
	Count     int             `json:"count"`
	// Empty is printed in text mode when there are no events.
	Empty string `json:"-"`
}

// WriteListings writes a listing result in the specified format
func WriteListings(w io.Writer, result *ListingResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeListingsText(w, result)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteMetadata writes the per-event metadata mapping
func WriteMetadata(w io.Writer, meta map[string]map[string]string, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, meta)
	case FormatText:
		return writeMetadataText(w, meta)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteSummary writes the outcome of a scrape run
func WriteSummary(w io.Writer, s crawler.Summary, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatText:
		return writeSummaryText(w, s)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeListingsText(w io.Writer, result *ListingResult) error {
	if len(result.Events) == 0 {
		empty := result.Empty
		if empty == "" {
			empty = "No events found."
		}
		fmt.Fprintln(w, empty)
		return nil
	}

	fmt.Fprintf(w, "\n--- %s ---\n", result.Title)
	for _, l := range result.Events {
		fmt.Fprintf(w, "Name: %s\n", l.Name)
		fmt.Fprintf(w, "Type: %s\n", l.Type)
		if l.Description != nil {
			fmt.Fprintf(w, "Description: %s\n", *l.Description)
		}
		fmt.Fprintf(w, "Date: %s\n", l.Date)
		fmt.Fprintf(w, "Location: %s\n", l.Location)
		fmt.Fprintln(w, "---------------------------")
	}
	fmt.Fprintf(w, "\nTotal: %d\n", len(result.Events))
	return nil
}

func writeMetadataText(w io.Writer, meta map[string]map[string]string) error {
	if len(meta) == 0 {
		fmt.Fprintln(w, "No metadata found.")
		return nil
	}

	names := make([]string, 0, len(meta))
	for name := range meta {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "\n--- Metadata by event ---")
	for _, name := range names {
		fmt.Fprintf(w, "Event: %s\n", name)
		keys := make([]string, 0, len(meta[name]))
		for k := range meta[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, meta[name][k])
		}
		fmt.Fprintln(w, "---------------------------")
	}
	return nil
}

func writeSummaryText(w io.Writer, s crawler.Summary) error {
	fmt.Fprintf(w, "Run %s finished in %s\n", s.RunID, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  Pages fetched:    %d\n", s.PagesFetched)
	fmt.Fprintf(w, "  Batches fetched:  %d (%d skipped)\n", s.BatchesFetched, s.BatchesSkipped)
	fmt.Fprintf(w, "  Candidates:       %d\n", s.Ingest.Candidates)
	fmt.Fprintf(w, "  Committed:        %d\n", s.Ingest.Committed)
	fmt.Fprintf(w, "  Failed:           %d\n", s.Ingest.Failed)
	if s.Ingest.DatesSkipped > 0 {
		fmt.Fprintf(w, "  Bad dates:        %d\n", s.Ingest.DatesSkipped)
	}
	fmt.Fprintf(w, "  Stored: %d events, %d occurrences, %d metadata entries\n",
		s.Counts.Events, s.Counts.Occurrences, s.Counts.Metadata)
	return nil
}
