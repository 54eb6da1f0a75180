// Package server implements the HTTP and WebSocket side of roomchat.
//
// A Hub holds the live connections keyed by connection id. Each Client runs a
// read pump and a write pump; inbound text frames go through the Relay, which
// persists the message before broadcasting it to the other clients of the
// same room. Connections are only upgraded for a valid session whose user is
// a member of the requested room.
package server
