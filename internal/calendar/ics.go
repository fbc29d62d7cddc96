// Package calendar renders stored occurrences as an iCalendar feed.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/store"
)

const prodID = "-//event-harvester//event-harvester//PT"

// uidNamespace scopes the name-based UIDs so re-exports keep stable identifiers.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/vmoraes/event-harvester"))

// GenerateICS generates an iCalendar document with one all-day VEVENT per listing.
// Listings whose date cannot be parsed are left out. An empty calName omits X-WR-CALNAME.
func GenerateICS(listings []store.Listing, calName string, now time.Time) string {
	var ics strings.Builder

	ics.WriteString("BEGIN:VCALENDAR\r\n")
	ics.WriteString("VERSION:2.0\r\n")
	ics.WriteString("PRODID:" + prodID + "\r\n")
	ics.WriteString("CALSCALE:GREGORIAN\r\n")
	ics.WriteString("METHOD:PUBLISH\r\n")
	if calName != "" {
		writeLine(&ics, "X-WR-CALNAME:"+escapeICS(calName))
	}

	stamp := formatICSTime(now)
	for _, l := range listings {
		date, err := event.ParseDate(l.Date)
		if err != nil {
			continue
		}
		writeEvent(&ics, l, date, stamp)
	}

	ics.WriteString("END:VCALENDAR\r\n")
	return ics.String()
}

func writeEvent(ics *strings.Builder, l store.Listing, date time.Time, stamp string) {
	ics.WriteString("BEGIN:VEVENT\r\n")
	writeLine(ics, "UID:"+UID(l.Name, l.Date))
	writeLine(ics, "DTSTAMP:"+stamp)

	// all-day: DTEND is exclusive
	writeLine(ics, "DTSTART;VALUE=DATE:"+date.Format("20060102"))
	writeLine(ics, "DTEND;VALUE=DATE:"+date.AddDate(0, 0, 1).Format("20060102"))

	writeLine(ics, "SUMMARY:"+escapeICS(l.Name))
	description := l.Type
	if l.Description != nil && strings.TrimSpace(*l.Description) != "" {
		description = fmt.Sprintf("%s\n\n%s", l.Type, strings.TrimSpace(*l.Description))
	}
	writeLine(ics, "DESCRIPTION:"+escapeICS(description))
	writeLine(ics, "LOCATION:"+escapeICS(l.Location))
	writeLine(ics, "STATUS:CONFIRMED")
	writeLine(ics, "TRANSP:TRANSPARENT")
	ics.WriteString("END:VEVENT\r\n")
}

// UID returns the stable identifier of an occurrence.
func UID(name, date string) string {
	return uuid.NewSHA1(uidNamespace, []byte(name+"\x00"+date)).String() + "@event-harvester"
}

// writeLine folds content lines longer than 75 octets, never splitting a UTF-8 sequence.
// Continuation lines start with a space, which counts toward their limit.
func writeLine(ics *strings.Builder, line string) {
	limit := 75
	for len(line) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(line[cut]) {
			cut--
		}
		ics.WriteString(line[:cut])
		ics.WriteString("\r\n ")
		line = line[cut:]
		limit = 74
	}
	ics.WriteString(line)
	ics.WriteString("\r\n")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// formatICSTime formats a time.Time as an iCalendar datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeICS escapes special characters for iCalendar format
func escapeICS(s string) string {
	// Replace special characters according to RFC 5545
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\r\n", "\\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
