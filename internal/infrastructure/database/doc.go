// Package database opens and migrates the SQLite store backing device
// state history.
//
// The store is a single local file opened through a one-connection pool:
// SQLite serializes writes regardless, and history inserts arrive from
// several coordinators at once. WAL mode keeps history queries from
// blocking those inserts.
//
// Schema changes ship as embedded .up.sql/.down.sql pairs registered via
// MigrationsFS. Migrate applies pending versions in order, each in its
// own transaction, so a failed migration never leaves a half-applied
// schema and a fixed binary resumes where the last one stopped.
package database
