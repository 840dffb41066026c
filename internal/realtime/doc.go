// Package realtime implements the websocket broadcast manager using the actor pattern.
//
// The Manager owns all connection and channel state in a single goroutine fed by a
// command channel (no mutexes). Per-connection write goroutines with bounded queues
// keep slow or dead clients from stalling the actor; enqueue rejection and transport
// write failures both evict the offending connection with cascading channel cleanup.
package realtime
