// Package signaling is the WebSocket transport of the relay.
//
// Each accepted socket gets a fresh connection identifier, a codec chosen by
// subprotocol and a bounded outbound queue, and is registered with the hub.
// One reader goroutine per socket feeds decoded events to the hub in arrival
// order; one writer goroutine drains the queue and sends keepalive pings.
// Any read failure, limit violation or shutdown ends in hub.Disconnect.
package signaling
