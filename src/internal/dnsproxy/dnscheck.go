package dnsproxy

import (
	"net"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

// DNSCheckDomain and its subdomains are answered by the proxy itself, so a
// client can verify that its queries actually pass through the interceptor.
const DNSCheckDomain = "dns-check.hosts-redirect.internal"

// Check answers use documentation addresses and a one second TTL.
var (
	dnsCheckIPv4 = net.ParseIP("192.0.2.53")
	dnsCheckIPv6 = net.ParseIP("2001:db8::53")
)

const dnsCheckTTL = 1

// checkHub fans check query names out to stream subscribers. Slow
// subscribers miss names instead of blocking the resolver.
type checkHub struct {
	mu   sync.RWMutex
	subs map[chan string]struct{}
}

func newCheckHub() *checkHub {
	return &checkHub{subs: make(map[chan string]struct{})}
}

func (h *checkHub) subscribe() chan string {
	ch := make(chan string, 10)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *checkHub) unsubscribe(ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *checkHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		close(ch)
	}
	clear(h.subs)
}

func (h *checkHub) publish(name string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- name:
		default:
		}
	}
}

// Subscribe returns a channel receiving the name of every check query.
func (p *DNSProxy) Subscribe() chan string {
	return p.checks.subscribe()
}

func (p *DNSProxy) Unsubscribe(ch chan string) {
	p.checks.unsubscribe(ch)
}

// CloseAllSubscribers ends every check stream. Called on Stop.
func (p *DNSProxy) CloseAllSubscribers() {
	p.checks.closeAll()
}

func (p *DNSProxy) broadcastDNSCheck(name string) {
	// closeAll may already have run
	if p.ctx.Err() != nil {
		return
	}
	p.checks.publish(name)
}

func isDNSCheckDomain(name string) bool {
	return name == DNSCheckDomain || strings.HasSuffix(name, "."+DNSCheckDomain)
}

// answerDNSCheck returns the reply for a check query, or nil when the query
// is for any other name.
func (p *DNSProxy) answerDNSCheck(req *dns.Msg) *dns.Msg {
	q := req.Question[0]
	name := utils.NormalizeHost(q.Name)
	if !isDNSCheckDomain(name) {
		return nil
	}

	log.Debugf("[%04x] DNS check query: %s %s", req.Id, name, dns.TypeToString[q.Qtype])
	p.broadcastDNSCheck(name)

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: dnsCheckTTL}
	switch q.Qtype {
	case dns.TypeA:
		resp.Answer = append(resp.Answer, &dns.A{Hdr: hdr, A: dnsCheckIPv4})
	case dns.TypeAAAA:
		resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: dnsCheckIPv6})
	}
	return resp
}
