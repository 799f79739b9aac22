// Package upstreams provides DNS upstream resolver implementations.
package upstreams

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Upstream represents a DNS upstream resolver.
type Upstream interface {
	// Query sends a DNS query to the upstream and returns the response.
	Query(ctx context.Context, req *dns.Msg) (*dns.Msg, error)
	// String returns a human-readable representation of the upstream.
	String() string
	// Close closes any resources held by the upstream.
	Close() error
}

// ParseUpstream parses an upstream URL.
// Supported formats:
//   - udp://ip:port - plain DNS over UDP, retried over TCP when truncated
//   - tcp://ip:port - plain DNS over TCP
//   - doh://host/path or https://host/path - DNS-over-HTTPS
//   - ip or ip:port - shorthand for udp:// (port defaults to 53)
func ParseUpstream(upstreamURL string, timeout time.Duration) (Upstream, error) {
	u, err := url.Parse(upstreamURL)
	// "8.8.8.8:53" fails to parse as URL, "8.8.8.8" has no scheme
	if err != nil || u.Scheme == "" || u.Host == "" && !strings.Contains(upstreamURL, "://") {
		return NewPlainUpstream(networkUDP, upstreamURL, timeout)
	}

	switch u.Scheme {
	case networkUDP, networkTCP:
		return NewPlainUpstream(u.Scheme, u.Host, timeout)
	case "doh", "https":
		return NewDoHUpstream(upstreamURL, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported upstream scheme: %s", u.Scheme)
	}
}

// ParseUpstreams parses every URL and combines them into one upstream that
// fails over in order.
func ParseUpstreams(urls []string, timeout time.Duration) (Upstream, error) {
	var list []Upstream
	for _, upstreamURL := range urls {
		upstream, err := ParseUpstream(upstreamURL, timeout)
		if err != nil {
			for _, u := range list {
				_ = u.Close()
			}
			return nil, fmt.Errorf("failed to parse upstream %q: %w", upstreamURL, err)
		}
		list = append(list, upstream)
	}

	switch len(list) {
	case 0:
		return nil, fmt.Errorf("no upstreams configured")
	case 1:
		return list[0], nil
	default:
		return NewMultiUpstream(list), nil
	}
}

type dialerSetter interface {
	SetDialer(d *net.Dialer)
}

// UseDialer makes u open its sockets through d. Upstreams that do not dial
// on their own are left untouched.
func UseDialer(u Upstream, d *net.Dialer) {
	if setter, ok := u.(dialerSetter); ok && d != nil {
		setter.SetDialer(d)
	}
}

func queryInfo(req *dns.Msg) string {
	if len(req.Question) == 0 {
		return "unknown"
	}
	q := req.Question[0]
	return fmt.Sprintf("%s %s", q.Name, dns.TypeToString[q.Qtype])
}
