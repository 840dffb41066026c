// Package relay bridges realtime broadcasts across server instances.
//
// Each instance publishes its outbound events to a shared Redis Pub/Sub
// channel and replays events received from peers into its local manager.
// Messages carry the origin instance ID so an instance never re-delivers
// its own events.
package relay
