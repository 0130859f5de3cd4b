// Package protocol defines the events exchanged between signaling clients and
// the relay, and the codecs that put them on the wire.
//
// Every frame is an envelope {"type": <event>, "data": <payload>}. Inbound
// and outbound events are closed sets of Go types; unrecognized tags are
// rejected with ErrUnknownType rather than passed through.
package protocol
