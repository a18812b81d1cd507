// Package relay forwards received notifications to message brokers.
//
// Events handed to OnChange or OnQueue are flattened into Records and
// appended to a Pebble journal. Each configured sink gets a Worker that
// polls the journal from its own persistent cursor, filters records by
// database and table globs, transforms them and publishes with exponential
// backoff. Journal entries that every sink has passed are deleted.
//
// Sinks and transformers register themselves by name; import relay/sink and
// relay/transformer for the NATS, Kafka, json and msgpack implementations.
package relay
