// Package hub is the connection lifecycle controller of the signaling relay.
//
// A Hub owns the room registry and the table of live sessions. Join, Leave
// and Disconnect, signal relay and room broadcast all run under one mutex, so
// the check-old-room, remove, add, update-pointer sequence of a transition is
// atomic with respect to every other connection. Outbound delivery goes
// through Peer.Send, which must never block.
package hub
