package upstreams

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

const (
	networkUDP = "udp"
	networkTCP = "tcp"

	defaultDNSPort = "53"
)

// PlainUpstream implements Upstream using unencrypted DNS over UDP or TCP.
type PlainUpstream struct {
	network string
	address string
	client  *dns.Client
	// tcpClient retries truncated UDP answers
	tcpClient *dns.Client
}

// NewPlainUpstream creates a UDP or TCP upstream. The port defaults to 53.
func NewPlainUpstream(network, address string, timeout time.Duration) (*PlainUpstream, error) {
	if network != networkUDP && network != networkTCP {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	host := address
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(trimBrackets(host), defaultDNSPort)
	}

	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return nil, fmt.Errorf("invalid %s address: %w", network, err)
	}
	if net.ParseIP(h) == nil {
		return nil, fmt.Errorf("invalid %s address %q: host must be an IP address", network, address)
	}

	return &PlainUpstream{
		network:   network,
		address:   host,
		client:    &dns.Client{Net: network, Timeout: timeout},
		tcpClient: &dns.Client{Net: networkTCP, Timeout: timeout},
	}, nil
}

// Query sends a DNS query to the upstream.
func (u *PlainUpstream) Query(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	log.Debugf("[%04x] Querying upstream: %s for %s", req.Id, u, queryInfo(req))

	resp, _, err := u.client.ExchangeContext(ctx, req, u.address)
	if err != nil {
		u.logError(ctx, req, err)
		return nil, err
	}

	if resp.Truncated && u.network == networkUDP {
		log.Debugf("[%04x] Truncated response from %s, retrying over TCP", req.Id, u)
		resp, _, err = u.tcpClient.ExchangeContext(ctx, req, u.address)
		if err != nil {
			u.logError(ctx, req, err)
			return nil, err
		}
	}

	return resp, nil
}

func (u *PlainUpstream) logError(ctx context.Context, req *dns.Msg, err error) {
	if ctx.Err() == context.DeadlineExceeded {
		log.Warnf("[%04x] Upstream timeout (context) for query: %s (upstream: %s)", req.Id, queryInfo(req), u)
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		log.Debugf("[%04x] Upstream timeout (network) for query: %s (upstream: %s)", req.Id, queryInfo(req), u)
	} else {
		log.Debugf("[%04x] Upstream error for query %s (upstream: %s): %v", req.Id, queryInfo(req), u, err)
	}
}

func (u *PlainUpstream) String() string {
	return u.network + "://" + u.address
}

// SetDialer makes the upstream open its sockets through d.
func (u *PlainUpstream) SetDialer(d *net.Dialer) {
	u.client.Dialer = withTimeout(d, u.client.Timeout)
	u.tcpClient.Dialer = withTimeout(d, u.tcpClient.Timeout)
}

// Close closes any resources held by the upstream.
func (u *PlainUpstream) Close() error {
	return nil
}

func withTimeout(d *net.Dialer, timeout time.Duration) *net.Dialer {
	dialer := *d
	if dialer.Timeout == 0 {
		dialer.Timeout = timeout
	}
	return &dialer
}

func trimBrackets(host string) string {
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
