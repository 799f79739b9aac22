package upstreams

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"github.com/miekg/dns"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// MultiUpstream fails over between upstreams. The upstream that answered
// last is asked first.
type MultiUpstream struct {
	upstreams []Upstream
	preferred atomic.Int32
}

func NewMultiUpstream(upstreams []Upstream) *MultiUpstream {
	return &MultiUpstream{upstreams: upstreams}
}

// Query returns the first usable response. SERVFAIL and REFUSED answers move
// on to the next upstream; if nothing better turns up the last of them is
// returned as is.
func (m *MultiUpstream) Query(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	n := len(m.upstreams)
	if n == 0 {
		return nil, fmt.Errorf("no upstreams configured")
	}

	start := int(m.preferred.Load())
	var (
		lastErr  error
		lastResp *dns.Msg
	)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := (start + i) % n
		upstream := m.upstreams[idx]

		resp, err := upstream.Query(ctx, req)
		if err != nil {
			lastErr = err
			log.Debugf("[%04x] Upstream %s failed: %v", req.Id, upstream, err)
			continue
		}
		if resp.Rcode == dns.RcodeServerFailure || resp.Rcode == dns.RcodeRefused {
			lastResp = resp
			log.Debugf("[%04x] Upstream %s answered %s", req.Id, upstream, dns.RcodeToString[resp.Rcode])
			continue
		}

		if idx != start {
			m.preferred.Store(int32(idx))
			log.Infof("Switched to upstream %s", upstream)
		}
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("all upstreams failed, last error: %w", lastErr)
}

func (m *MultiUpstream) String() string {
	names := make([]string, len(m.upstreams))
	for i, upstream := range m.upstreams {
		names[i] = upstream.String()
	}
	return strings.Join(names, ", ")
}

func (m *MultiUpstream) SetDialer(d *net.Dialer) {
	for _, upstream := range m.upstreams {
		UseDialer(upstream, d)
	}
}

func (m *MultiUpstream) Close() error {
	for _, upstream := range m.upstreams {
		_ = upstream.Close()
	}
	return nil
}
