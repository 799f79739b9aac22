// Package networking owns the host side of traffic interception.
//
// # Capture chain
//
// IPTablesCapture installs a dedicated nat chain (HOSTS_REDIRECT by default)
// for IPv4 and, when ip6tables has nat support, IPv6:
//
//	-m mark --mark <route_mark> -j RETURN           own outbound sockets
//	-p udp --dport 53 -j REDIRECT --to-ports <dns>   DNS interceptor
//	-p tcp --dport 53 -j REDIRECT --to-ports <dns>
//	-d 127.0.0.0/8 -j RETURN                         loopback
//	-d <local address> -j RETURN                     the host itself
//	-p tcp --dport <port> -j REDIRECT --to-ports <router>
//
// The chain is linked from PREROUTING (optionally per inbound interface) and
// from OUTPUT when locally originated traffic is captured too. Extra rules
// from the config are expanded with fasttemplate before they are added.
//
// # Sockets
//
// MarkedDialer sets SO_MARK on outbound sockets so the chain lets them
// through, and OriginalDst reads SO_ORIGINAL_DST from a redirected
// connection.
//
// # Monitoring
//
// Monitor subscribes to netlink address and link updates and reports bursts
// of changes once, so the capture chain can be refreshed with the new set of
// local addresses.
package networking
