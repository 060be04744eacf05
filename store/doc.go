// Package store persists the federation core's state: the node registry,
// the follow graph, content-addressed rows, publications, comments, and
// settings.
//
// The store runs on database/sql through sqlx with either the sqlite3
// driver (the default for a self-hosted node) or lib/pq for larger
// installs; queries are written once with ?-placeholders and rebound per
// dialect. Schema migrations are embedded and applied at open time.
//
// FILE content bytes live outside the database in a content-addressed
// blob directory keyed by digest; POST bodies persist inline. Rows that
// no publication references anymore are reclaimed by CleanupOrphaned.
package store
