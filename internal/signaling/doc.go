// Package signaling implements the room-based WebRTC signaling relay.
//
// Browsers connect over a WebSocket, join a named room, and exchange SDP
// offers/answers and ICE candidates through the relay. Payloads are passed
// through untouched; the relay never takes part in the media session.
package signaling
