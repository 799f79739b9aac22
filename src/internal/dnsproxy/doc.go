// Package dnsproxy answers the DNS queries diverted by the capture chain.
//
// Every query is checked against the current rule snapshot:
//   - redirected hosts get a synthesized A or AAAA answer pointing at the target
//   - blocked hosts get a null address, REFUSED or NXDOMAIN depending on block_mode
//   - everything else is forwarded to the upstream resolvers
//
// Identical queries in flight share one upstream exchange. Addresses from
// forwarded answers are kept in an AddressBook so the session router can
// attribute TCP connections that carry no host name.
//
// Supported upstream URLs:
//   - udp://ip:port - plain DNS over UDP, retried over TCP on truncation
//   - tcp://ip:port - plain DNS over TCP
//   - doh://host/path - DNS-over-HTTPS
package dnsproxy
