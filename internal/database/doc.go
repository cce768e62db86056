// Package database connects to the Postgres instance that backs the change
// feed and the item archive.
//
// One pool serves both: the change-feed ingestor holds a dedicated connection
// for LISTEN while the archive writer borrows connections for batch inserts.
package database
