// Package signaling relays session-establishment messages between camera
// gateways and viewers.
//
// A gateway announces the streams it serves with a register message. A viewer
// asks for a stream with watch; the Router forwards the request to the bound
// gateway and remembers the pairing so later offer, answer and ice messages
// can flow in both directions. Payloads are never interpreted.
package signaling
