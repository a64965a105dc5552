// Package relay is a room-based WebSocket relay.
//
// Clients connect to /<room>, where room matches [A-Za-z0-9_-]+. Every
// message a client sends is forwarded verbatim to every other client in the
// same room. The relay does not decode messages and keeps no document state;
// replicas behind it exchange complete state themselves when they connect.
//
// Rooms can span several relay instances through Redis pub/sub: each
// instance publishes what its own clients send and forwards what other
// instances publish. Prometheus metrics are served on /metrics when enabled.
package relay
