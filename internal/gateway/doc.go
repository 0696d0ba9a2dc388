// Package gateway is the camera side of the signaling protocol.
//
// A Client registers its streams with the relay, then answers each watch by
// opening a PeerConnection with a "camera" data channel and trickling the
// offer and ICE candidates back through the relay. The viewer's answer and
// candidates arrive the same way.
package gateway
