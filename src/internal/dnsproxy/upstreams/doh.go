package upstreams

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	dohScheme   = "doh://"
	httpsScheme = "https://"

	dohIdleConnTimeout     = 30 * time.Second
	dohMaxIdleConns        = 10
	dohMaxIdleConnsPerHost = 5

	dnsMessageContentType = "application/dns-message"
)

// DoHUpstream implements Upstream using DNS-over-HTTPS (RFC 8484, POST).
type DoHUpstream struct {
	url    string
	client *http.Client
}

// NewDoHUpstream creates a new DNS-over-HTTPS upstream. doh:// is rewritten to https://.
func NewDoHUpstream(urlStr string, timeout time.Duration) *DoHUpstream {
	if strings.HasPrefix(urlStr, dohScheme) {
		urlStr = httpsScheme + strings.TrimPrefix(urlStr, dohScheme)
	}

	return &DoHUpstream{
		url: urlStr,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        dohMaxIdleConns,
				IdleConnTimeout:     dohIdleConnTimeout,
				DisableCompression:  true,
				MaxIdleConnsPerHost: dohMaxIdleConnsPerHost,
			},
		},
	}
}

// newDoHUpstreamWithClient is used by tests to talk to an httptest server.
func newDoHUpstreamWithClient(urlStr string, client *http.Client) *DoHUpstream {
	return &DoHUpstream{url: urlStr, client: client}
}

// Query sends a DNS query to the DoH upstream.
func (d *DoHUpstream) Query(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	// RFC 8484 recommends id 0 for cache friendliness
	id := req.Id
	msg := req.Copy()
	msg.Id = 0

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack DNS message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", dnsMessageContentType)
	httpReq.Header.Set("Accept", dnsMessageContentType)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("DoH request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("DoH request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read DoH response: %w", err)
	}

	dnsResp := new(dns.Msg)
	if err := dnsResp.Unpack(body); err != nil {
		return nil, fmt.Errorf("failed to unpack DNS response: %w", err)
	}
	dnsResp.Id = id

	return dnsResp, nil
}

func (d *DoHUpstream) String() string {
	return "doh://" + strings.TrimPrefix(d.url, httpsScheme)
}

// SetDialer makes the HTTP transport dial through d.
func (d *DoHUpstream) SetDialer(dialer *net.Dialer) {
	if transport, ok := d.client.Transport.(*http.Transport); ok {
		transport.DialContext = dialer.DialContext
	}
}

// Close closes idle HTTP connections.
func (d *DoHUpstream) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
