// Package journal persists stream session history and pipeline incidents to
// SQLite. The journal is append-heavy operational record keeping; nothing in
// the live pipeline reads it on the hot path.
package journal
