package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vmoraes/event-harvester/internal/store"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortDefault    SortOrder = ""
	SortByDate     SortOrder = "date"
	SortByName     SortOrder = "name"
	SortByLocation SortOrder = "location"
)

// ParseSortOrder validates a --sort value. Empty keeps the query's own order.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(s)); o {
	case SortDefault, SortByDate, SortByName, SortByLocation:
		return o, nil
	default:
		return "", fmt.Errorf("invalid sort order: %s (must be 'date', 'name' or 'location')", s)
	}
}

// sortListings sorts listings in place; ties fall back to date, then name
func sortListings(listings []store.Listing, order SortOrder) {
	switch order {
	case SortByDate:
		sort.SliceStable(listings, func(i, j int) bool {
			return compareByDate(listings[i], listings[j])
		})
	case SortByName:
		sort.SliceStable(listings, func(i, j int) bool {
			a, b := strings.ToLower(listings[i].Name), strings.ToLower(listings[j].Name)
			if a != b {
				return a < b
			}
			return compareByDate(listings[i], listings[j])
		})
	case SortByLocation:
		sort.SliceStable(listings, func(i, j int) bool {
			a, b := strings.ToLower(listings[i].Location), strings.ToLower(listings[j].Location)
			if a != b {
				return a < b
			}
			return compareByDate(listings[i], listings[j])
		})
	}
}

// compareByDate compares two listings by their ISO date, then name
func compareByDate(i, j store.Listing) bool {
	if i.Date != j.Date {
		return i.Date < j.Date
	}
	return strings.ToLower(i.Name) < strings.ToLower(j.Name)
}
