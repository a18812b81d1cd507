// Package event holds the decoded form of server-pushed notifications.
//
// A notification is decoded into either a ChangeEvent (database, table, query
// and row changes) or a QueueEvent (message-queue arrivals). The hierarchy of a
// change is database → table → row, or database → query → table → row when
// query-level detail was requested.
//
// Decoding does not copy: names and the transaction id alias the buffers of
// the raw message and are valid only while the callback that received the
// event is running. Buffers in a charset other than UTF-8, or holding invalid
// UTF-8, are transcoded into owned strings. Call Clone to keep an event past
// the callback.
//
// Operation codes are decoded with OpCodeFromBits, which silently drops bits
// a newer server may send but this package does not know.
package event
