// Package sqlite persists pipeline runs and raw record tables in a SQLite
// database. The schema is managed with golang-migrate from migrations
// embedded in the binary.
package sqlite
