// Package transport binds a crdt.Replica to any number of connections.
//
// A Node owns one replica and serialises every access to it. Connections
// are anything that can deliver a wire.Message to the far side (Conn); the
// adapters live in subpackages:
//
//   - local:  in-process network with queued, reorderable delivery
//   - wsconn: WebSocket client, usually talking through the relay
//
// # Protocol
//
// On Attach a node asks the far side for its complete state and sends its
// own. Local edits are broadcast as update messages to every attached
// connection. Received updates are applied without re-emitting them, so a
// message is never forwarded by a node; relays do the fan-out.
package transport
