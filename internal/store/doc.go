// Package store owns the persisted entities: events, their dated occurrences and their
// metadata entries.
//
// Two implementations satisfy Store and Reader. SQL is backed by gorm and works with
// SQLite, PostgreSQL and MySQL; uniqueness and ON DELETE CASCADE are enforced by the
// database schema. Memory keeps everything in maps and is meant for tests and dry runs.
// Mutations happen only inside Atomic, one unit per candidate record.
package store
