// Package gvquic is the QUIC transport for the gossip engine.
//
// Every node presents a self-signed certificate over an Ed25519 key;
// the peer's identity is derived from that key,
// so there is no certificate authority anywhere.
// A connection is "authenticated" in the sense that the remote
// provably holds the private key behind the ID it is known by.
//
// Frames map one-to-one onto unidirectional QUIC streams:
// the sender opens a stream, writes the frame, and closes the stream;
// the receiver reads to EOF.
// Stream boundaries are the frame boundaries,
// so neither side ever parses a length prefix.
package gvquic
