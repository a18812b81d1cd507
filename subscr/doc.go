// Package subscr registers interest in server side changes and delivers the
// resulting notifications to Go callbacks.
//
// A Form is configured with a Protocol and submitted once on a dpi.Conn,
// producing a Subscription. For in-process protocols the handler is kept in
// a registry keyed by an opaque token; the external system calls back into
// a single trampoline with that token, which decodes the raw message and
// invokes the handler. Handlers for one subscription never run concurrently,
// but they run on goroutines owned by the external system.
//
// A Deregister event is the last one a handler sees. Close revokes the
// registration before it releases the handler.
package subscr
