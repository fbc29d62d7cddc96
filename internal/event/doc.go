// Package event provides the plain domain types shared by the ingestion pipeline.
//
// Event, Occurrence and MetadataEntry mirror the three persisted entities; they carry no
// storage behaviour. CandidateRecord is the validated, not-yet-persisted form of one event
// sighting produced by the extractor, with optional fields modelled as pointers so that
// "absent" and "empty" stay distinguishable all the way to the store.
package event
