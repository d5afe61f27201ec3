// Package protocol implements the binary wire format for Loom's live
// (WebSocket) transport.
//
// Every message is a frame with a fixed 4-byte header followed by a
// variable-length payload:
//
//	[type:1][flags:1][payload length:2, big-endian][payload...]
//
// Frame payloads are encoded with a compact binary codec (varints,
// length-prefixed strings). The decoder enforces allocation and
// collection-count limits so a hostile peer cannot force large
// allocations with a forged length prefix.
//
// The HTTP side of the framework (bootstrap, no-script fallback,
// long-poll) does not use this package; it is parameter-driven and
// handled by pkg/httpx and pkg/session.
package protocol
