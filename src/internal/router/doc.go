// Package router is the transparent TCP session router.
//
// Connections diverted by the capture chain arrive at a single listener. For
// each one the router recovers the original destination (SO_ORIGINAL_DST),
// works out the requested host from the TLS ClientHello, the HTTP Host header
// or the DNS address book, and then:
//   - REDIRECT: dials target:original-port and pipes bytes both ways
//   - BLOCK: resets the connection
//   - PASSTHROUGH: dials the original destination unchanged
//
// Bytes read while sniffing are replayed to the upstream. Outbound sockets
// carry the route mark so the capture chain lets them through.
package router
