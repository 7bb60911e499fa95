// Package sqlite persists detection stores, track registries and pass
// runs in a SQLite database.
//
// All SQL for the mosquito layers lives here rather than in the layer
// packages (L3-L5), which stay free of storage concerns. The schema is
// managed by embedded golang-migrate migrations applied on Open.
package sqlite
