package dnsproxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/dnsproxy/upstreams"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

const (
	// Network protocol identifiers
	networkUDP = "udp"
	networkTCP = "tcp"

	// Timeout durations
	udpReadTimeout = 1 * time.Second  // UDP read deadline for non-blocking accept loop
	tcpIdleTimeout = 10 * time.Second // TCP connection idle timeout between queries

	// Cleanup intervals
	cacheCleanupInterval = 1 * time.Minute // How often to clean up expired address book entries

	// minUDPSize is the payload limit for clients without EDNS0.
	minUDPSize = 512
)

// ProxyConfig contains configuration for the DNS proxy.
type ProxyConfig struct {
	// ListenAddr is the address to listen on ("::" listens on all addresses)
	ListenAddr string

	// ListenPort is the port to listen on (0 picks a free port)
	ListenPort uint16

	// Upstreams is the list of upstream DNS URLs
	// Supported: udp://ip:port, tcp://ip:port, doh://host/path
	Upstreams []string

	// AnswerTTL is the TTL of synthesized answers
	AnswerTTL uint32

	// BlockMode selects the answer for blocked hosts
	BlockMode config.BlockMode

	// QueryTimeout bounds one upstream exchange
	QueryTimeout time.Duration

	// RouteMark is set on upstream sockets (0 = none)
	RouteMark uint32
}

// ProxyConfigFromAppConfig creates a ProxyConfig from the application config.
func ProxyConfigFromAppConfig(cfg *config.Config) ProxyConfig {
	mark := uint32(0)
	if cfg.Capture.Enable {
		mark = cfg.Router.GetRouteMark()
	}
	return ProxyConfig{
		ListenAddr:   cfg.DNS.GetListenAddr(),
		ListenPort:   cfg.DNS.GetListenPort(),
		Upstreams:    cfg.DNS.GetUpstreams(),
		AnswerTTL:    cfg.DNS.GetAnswerTTL(),
		BlockMode:    cfg.DNS.GetBlockMode(),
		QueryTimeout: cfg.DNS.GetQueryTimeout(),
		RouteMark:    mark,
	}
}

// Stats are cumulative query counters.
type Stats struct {
	Queries     uint64 `json:"queries"`
	Redirected  uint64 `json:"redirected"`
	Blocked     uint64 `json:"blocked"`
	Passthrough uint64 `json:"passthrough"`
	Failed      uint64 `json:"failed"`
	Addresses   int    `json:"addresses"`
}

// DNSProxy is the DNS side of the interceptor. Every query is checked
// against the current rule snapshot and answered with a synthesized
// record, a block answer or the upstream response.
type DNSProxy struct {
	config ProxyConfig

	// Dependencies
	rules    domain.RuleSource
	sessions *domain.Registry
	book     *AddressBook

	// Upstream resolver
	upstream upstreams.Upstream
	inflight singleflight.Group

	checks *checkHub

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Listeners
	udpConn *net.UDPConn
	tcpLn   net.Listener

	tcpConnsMu sync.Mutex
	tcpConns   map[net.Conn]struct{}

	queries     atomic.Uint64
	redirected  atomic.Uint64
	blocked     atomic.Uint64
	passthrough atomic.Uint64
	failed      atomic.Uint64
}

// NewDNSProxy creates a new DNS proxy. book may be shared with the session router.
func NewDNSProxy(cfg ProxyConfig, rules domain.RuleSource, sessions *domain.Registry, book *AddressBook) (*DNSProxy, error) {
	upstream, err := upstreams.ParseUpstreams(cfg.Upstreams, cfg.QueryTimeout)
	if err != nil {
		return nil, err
	}
	if cfg.RouteMark != 0 {
		upstreams.UseDialer(upstream, networking.MarkedDialer(cfg.RouteMark, cfg.QueryTimeout))
	}

	return newDNSProxyWithUpstream(cfg, rules, sessions, book, upstream), nil
}

func newDNSProxyWithUpstream(cfg ProxyConfig, rules domain.RuleSource, sessions *domain.Registry, book *AddressBook, upstream upstreams.Upstream) *DNSProxy {
	if cfg.AnswerTTL == 0 {
		cfg.AnswerTTL = config.DefaultAnswerTTL
	}
	if cfg.BlockMode == "" {
		cfg.BlockMode = config.BlockModeNullIP
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = config.DefaultQueryTimeout
	}
	if sessions == nil {
		sessions = domain.NewRegistry()
	}
	if book == nil {
		book = NewAddressBook(0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DNSProxy{
		config:   cfg,
		rules:    rules,
		sessions: sessions,
		book:     book,
		upstream: upstream,
		checks:   newCheckHub(),
		tcpConns: make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the DNS proxy listeners.
func (p *DNSProxy) Start() error {
	host := p.config.ListenAddr
	udpConn, err := listenUDP(host, p.config.ListenPort)
	if err != nil && host == "::" {
		// no IPv6 on this host
		host = "0.0.0.0"
		udpConn, err = listenUDP(host, p.config.ListenPort)
	}
	if err != nil {
		return fmt.Errorf("failed to listen UDP: %w", err)
	}
	p.udpConn = udpConn

	// same port for TCP, also when the UDP port was picked by the kernel
	tcpAddr := net.JoinHostPort(host, strconv.Itoa(udpConn.LocalAddr().(*net.UDPAddr).Port))
	p.tcpLn, err = net.Listen(networkTCP, tcpAddr)
	if err != nil {
		p.udpConn.Close()
		return fmt.Errorf("failed to listen TCP: %w", err)
	}

	log.Infof("DNS proxy started on %s (UDP/TCP), upstream: %s", p.udpConn.LocalAddr(), p.upstream)

	p.wg.Add(3)
	go p.serveUDP(p.udpConn)
	go p.serveTCP(p.tcpLn)
	go p.cleanupLoop()

	return nil
}

func listenUDP(host string, port uint16) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr(networkUDP, net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}
	return net.ListenUDP(networkUDP, udpAddr)
}

// Stop stops the DNS proxy. In-flight upstream queries are cancelled.
func (p *DNSProxy) Stop() error {
	log.Infof("Stopping DNS proxy...")
	p.cancel()

	if p.udpConn != nil {
		p.udpConn.Close()
	}
	if p.tcpLn != nil {
		p.tcpLn.Close()
	}

	p.tcpConnsMu.Lock()
	for conn := range p.tcpConns {
		conn.Close()
	}
	p.tcpConnsMu.Unlock()

	p.wg.Wait()
	p.CloseAllSubscribers()

	if p.upstream != nil {
		p.upstream.Close()
	}

	log.Infof("DNS proxy stopped")
	return nil
}

// Addr returns the bound UDP address (the TCP listener uses the same port).
func (p *DNSProxy) Addr() net.Addr {
	if p.udpConn == nil {
		return nil
	}
	return p.udpConn.LocalAddr()
}

// serveUDP handles incoming UDP DNS queries.
func (p *DNSProxy) serveUDP(conn *net.UDPConn) {
	defer p.wg.Done()

	buf := make([]byte, dns.MaxMsgSize)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, clientAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if p.ctx.Err() != nil {
				return
			}
			log.Debugf("UDP read error: %v", err)
			continue
		}

		// Handle request in goroutine
		req := make([]byte, n)
		copy(req, buf[:n])

		p.wg.Add(1)
		go func(clientAddr netip.AddrPort, req []byte) {
			defer p.wg.Done()

			source := netip.AddrPortFrom(clientAddr.Addr().Unmap(), clientAddr.Port())
			resp, err := p.processRequest(source, req, domain.TransportDNSUDP)
			if err != nil {
				log.Debugf("UDP request processing error: %v", err)
				return
			}

			if _, err := conn.WriteToUDPAddrPort(resp, clientAddr); err != nil {
				log.Debugf("UDP write error: %v", err)
			}
		}(clientAddr, req)
	}
}

// serveTCP handles incoming TCP DNS connections.
func (p *DNSProxy) serveTCP(ln net.Listener) {
	defer p.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Debugf("TCP accept error: %v", err)
			continue
		}

		p.tcpConnsMu.Lock()
		p.tcpConns[conn] = struct{}{}
		p.tcpConnsMu.Unlock()

		// Stop may have swept the connections before this one was registered
		if p.ctx.Err() != nil {
			conn.Close()
		}

		p.wg.Add(1)
		go p.handleTCPConnection(conn)
	}
}

// handleTCPConnection answers length-prefixed queries until the client
// closes the connection or stays idle.
func (p *DNSProxy) handleTCPConnection(conn net.Conn) {
	defer p.wg.Done()
	defer func() {
		p.tcpConnsMu.Lock()
		delete(p.tcpConns, conn)
		p.tcpConnsMu.Unlock()
		conn.Close()
	}()

	clientAddr, _ := netip.ParseAddrPort(conn.RemoteAddr().String())

	for {
		conn.SetDeadline(time.Now().Add(tcpIdleTimeout))

		// Read length prefix
		var length uint16
		if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
			if err != io.EOF && p.ctx.Err() == nil {
				log.Debugf("TCP read length error: %v", err)
			}
			return
		}

		// Read DNS message
		req := make([]byte, length)
		if _, err := io.ReadFull(conn, req); err != nil {
			log.Debugf("TCP read message error: %v", err)
			return
		}

		resp, err := p.processRequest(clientAddr, req, domain.TransportDNSTCP)
		if err != nil {
			log.Debugf("TCP request processing error: %v", err)
			return
		}

		out := make([]byte, 2+len(resp))
		binary.BigEndian.PutUint16(out, uint16(len(resp)))
		copy(out[2:], resp)
		if _, err := conn.Write(out); err != nil {
			log.Debugf("TCP write response error: %v", err)
			return
		}
	}
}

// processRequest processes a DNS request and returns the packed response.
func (p *DNSProxy) processRequest(clientAddr netip.AddrPort, reqBytes []byte, transport domain.Transport) ([]byte, error) {
	var reqMsg dns.Msg
	if err := reqMsg.Unpack(reqBytes); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}

	respMsg := p.Resolve(clientAddr, &reqMsg, transport)

	if transport == domain.TransportDNSUDP {
		respMsg.Truncate(udpSize(&reqMsg))
	}

	respBytes, err := respMsg.Pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack response: %w", err)
	}
	return respBytes, nil
}

// Resolve answers one query. It never returns nil: upstream failures become SERVFAIL.
func (p *DNSProxy) Resolve(clientAddr netip.AddrPort, reqMsg *dns.Msg, transport domain.Transport) *dns.Msg {
	p.queries.Add(1)

	if len(reqMsg.Question) != 1 {
		resp := new(dns.Msg)
		resp.SetRcode(reqMsg, dns.RcodeFormatError)
		return resp
	}

	q := reqMsg.Question[0]
	log.Debugf("[%04x] DNS query: %s %s from %s via %s",
		reqMsg.Id, q.Name, dns.TypeToString[q.Qtype], clientAddr, transport)

	if resp := p.answerDNSCheck(reqMsg); resp != nil {
		return resp
	}

	host := utils.NormalizeHost(q.Name)
	decision := domain.Decide(p.rules.Current(), host)

	session := &domain.Session{
		Transport:     transport,
		SourceAddr:    clientAddr,
		RequestedHost: host,
		MatchedRule:   decision.Rule,
		Decision:      decision,
	}
	id := p.sessions.Add(session)
	defer p.sessions.Remove(id)

	switch decision.Kind {
	case domain.Redirect:
		p.redirected.Add(1)
		log.Debugf("[%04x] %s -> %s", reqMsg.Id, host, decision)
		return p.redirectResponse(reqMsg, decision.Target)
	case domain.Block:
		p.blocked.Add(1)
		log.Debugf("[%04x] %s -> %s", reqMsg.Id, host, decision)
		return p.blockResponse(reqMsg)
	default:
		p.passthrough.Add(1)
		return p.forward(reqMsg, host)
	}
}

// redirectResponse synthesizes the answer for a redirected host. A query
// for the other address family, or any other type, gets an empty answer.
func (p *DNSProxy) redirectResponse(req *dns.Msg, target netip.Addr) *dns.Msg {
	resp := newAuthoritativeReply(req)
	q := req.Question[0]
	if q.Qclass != dns.ClassINET {
		return resp
	}

	switch {
	case q.Qtype == dns.TypeA && target.Is4():
		resp.Answer = append(resp.Answer, p.aRecord(q.Name, target))
	case q.Qtype == dns.TypeAAAA && target.Is6():
		resp.Answer = append(resp.Answer, p.aaaaRecord(q.Name, target))
	}
	return resp
}

func (p *DNSProxy) blockResponse(req *dns.Msg) *dns.Msg {
	switch p.config.BlockMode {
	case config.BlockModeRefused:
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeRefused)
		resp.RecursionAvailable = true
		return resp
	case config.BlockModeNXDomain:
		resp := newAuthoritativeReply(req)
		resp.Rcode = dns.RcodeNameError
		return resp
	}

	resp := newAuthoritativeReply(req)
	q := req.Question[0]
	if q.Qclass != dns.ClassINET {
		return resp
	}
	switch q.Qtype {
	case dns.TypeA:
		resp.Answer = append(resp.Answer, p.aRecord(q.Name, netip.IPv4Unspecified()))
	case dns.TypeAAAA:
		resp.Answer = append(resp.Answer, p.aaaaRecord(q.Name, netip.IPv6Unspecified()))
	}
	return resp
}

// forward sends the query upstream. Identical concurrent queries share one exchange.
func (p *DNSProxy) forward(req *dns.Msg, host string) *dns.Msg {
	key := inflightKey(req)

	v, err, shared := p.inflight.Do(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(p.ctx, p.config.QueryTimeout)
		defer cancel()
		return p.upstream.Query(ctx, req)
	})
	if err != nil {
		p.failed.Add(1)
		log.Debugf("[%04x] Upstream failed for %s: %v", req.Id, host, err)
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeServerFailure)
		resp.RecursionAvailable = true
		return resp
	}

	resp := v.(*dns.Msg)
	if shared {
		resp = resp.Copy()
	}
	resp.Id = req.Id

	p.recordAddresses(host, resp)
	return resp
}

// recordAddresses remembers the answered addresses for session attribution.
// Addresses reached through a CNAME chain are recorded for the queried host.
func (p *DNSProxy) recordAddresses(host string, resp *dns.Msg) {
	if resp.Rcode != dns.RcodeSuccess {
		return
	}
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			p.book.Record(host, addr, time.Duration(rr.Header().Ttl)*time.Second)
		}
	}
}

func (p *DNSProxy) aRecord(name string, addr netip.Addr) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: p.config.AnswerTTL},
		A:   addr.AsSlice(),
	}
}

func (p *DNSProxy) aaaaRecord(name string, addr netip.Addr) dns.RR {
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: p.config.AnswerTTL},
		AAAA: addr.AsSlice(),
	}
}

func newAuthoritativeReply(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true
	resp.RecursionAvailable = true
	return resp
}

func inflightKey(req *dns.Msg) string {
	q := req.Question[0]
	do := false
	if opt := req.IsEdns0(); opt != nil {
		do = opt.Do()
	}
	return strings.ToLower(q.Name) + "|" + strconv.Itoa(int(q.Qtype)) + "|" + strconv.Itoa(int(q.Qclass)) +
		"|" + strconv.FormatBool(do) + "|" + strconv.FormatBool(req.CheckingDisabled)
}

func udpSize(req *dns.Msg) int {
	if opt := req.IsEdns0(); opt != nil && int(opt.UDPSize()) > minUDPSize {
		return int(opt.UDPSize())
	}
	return minUDPSize
}

// cleanupLoop periodically drops expired address book entries.
func (p *DNSProxy) cleanupLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.book.Cleanup()
		}
	}
}

// GetStats returns DNS proxy statistics.
func (p *DNSProxy) GetStats() Stats {
	return Stats{
		Queries:     p.queries.Load(),
		Redirected:  p.redirected.Load(),
		Blocked:     p.blocked.Load(),
		Passthrough: p.passthrough.Load(),
		Failed:      p.failed.Load(),
		Addresses:   p.book.Len(),
	}
}

// Upstream returns a human-readable description of the upstream resolvers.
func (p *DNSProxy) Upstream() string {
	return p.upstream.String()
}
