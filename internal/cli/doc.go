// Package cli implements the command-line interface for event-harvester.
//
// The cli package provides the Cobra-based CLI: the scrape command runs one ingestion
// pass, the query commands (events, upcoming, location, with-metadata, metadata) print
// stored data as text or JSON, calendar exports an iCalendar feed, serve starts the HTTP
// API and menu opens the interactive console menu. Settings come from the config package
// and can be overridden with persistent flags.
package cli
