// Package emulator is an embedded notification server backed by SQLite.
//
// Server implements dpi.Conn. Registrations are watched by delivery
// goroutines owned by the server, so callbacks arrive on goroutines the
// caller does not control, the same as with a remote server. Row changes are
// captured with SQLite update/commit/rollback hooks on the single connection
// the server writes through; statements executed on a subscription are
// analysed with EXPLAIN to find the tables they read.
package emulator
