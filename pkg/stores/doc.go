// Package stores provides the SQLite persistence layer for stockweb.
// It keeps anonymous sessions, their watch lists, and a log of UI events.
// Schema changes are applied with embedded golang-migrate migrations.
package stores
