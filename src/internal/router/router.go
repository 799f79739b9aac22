package router

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/errors"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
)

// maxAcceptDelay caps the backoff after repeated Accept failures.
const maxAcceptDelay = time.Second

// Config holds the session router settings.
type Config struct {
	ListenAddr   string
	ListenPort   uint16
	IdleTimeout  time.Duration
	GraceTimeout time.Duration
	DialTimeout  time.Duration
	SniffTimeout time.Duration
	// RouteMark is set on outbound sockets. Zero leaves them unmarked.
	RouteMark uint32
}

// ConfigFromAppConfig extracts router settings. Outbound sockets are only
// marked when the capture chain is installed by this process.
func ConfigFromAppConfig(cfg *config.Config) Config {
	c := Config{
		ListenAddr:   cfg.Router.GetListenAddr(),
		ListenPort:   cfg.Router.GetListenPort(),
		IdleTimeout:  cfg.Router.GetIdleTimeout(),
		GraceTimeout: cfg.Router.GetGraceTimeout(),
		DialTimeout:  cfg.Router.GetDialTimeout(),
		SniffTimeout: cfg.Router.GetSniffTimeout(),
	}
	if cfg.Capture.Enable {
		c.RouteMark = cfg.Router.GetRouteMark()
	}
	return c
}

// Stats holds session router counters.
type Stats struct {
	Accepted    uint64 `json:"accepted"`
	Redirected  uint64 `json:"redirected"`
	Blocked     uint64 `json:"blocked"`
	Passthrough uint64 `json:"passthrough"`
	Failed      uint64 `json:"failed"`
	Active      int    `json:"active"`
}

// Router accepts diverted TCP connections and routes them by host name.
type Router struct {
	config   Config
	rules    domain.RuleSource
	hosts    domain.HostResolver
	sessions *domain.Registry

	dialer *net.Dialer

	// originalDst is replaceable in tests, where nothing is REDIRECTed.
	originalDst func(conn net.Conn) (netip.AddrPort, bool)

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	accepted    atomic.Uint64
	redirected  atomic.Uint64
	blocked     atomic.Uint64
	passthrough atomic.Uint64
	failed      atomic.Uint64
}

// New creates a router. hosts may be nil when no address book is kept.
func New(cfg Config, rules domain.RuleSource, hosts domain.HostResolver, sessions *domain.Registry) *Router {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultIdleTimeout
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = config.DefaultGraceTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = config.DefaultDialTimeout
	}
	if cfg.SniffTimeout <= 0 {
		cfg.SniffTimeout = config.DefaultSniffTimeout
	}
	if sessions == nil {
		sessions = domain.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Router{
		config:      cfg,
		rules:       rules,
		hosts:       hosts,
		sessions:    sessions,
		dialer:      networking.MarkedDialer(cfg.RouteMark, cfg.DialTimeout),
		originalDst: originalDst,
		conns:       make(map[net.Conn]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start opens the listener.
func (r *Router) Start() error {
	host := r.config.ListenAddr
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(int(r.config.ListenPort))))
	if err != nil && host == "::" {
		host = "0.0.0.0"
		ln, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(int(r.config.ListenPort))))
	}
	if err != nil {
		return fmt.Errorf("failed to listen TCP: %w", err)
	}
	r.ln = ln

	log.Infof("Session router started on %s", ln.Addr())

	r.wg.Add(1)
	go r.serve()

	return nil
}

// Stop closes the listener and waits for sessions to finish. Sessions still
// open after the grace timeout, or when ctx is done, are force-closed.
func (r *Router) Stop(ctx context.Context) error {
	log.Infof("Stopping session router...")
	r.cancel()
	if r.ln != nil {
		r.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.config.GraceTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		log.Warnf("Grace timeout reached, closing %d sessions", r.closeAll())
		<-done
	case <-ctx.Done():
		log.Warnf("Stop cancelled, closing %d sessions", r.closeAll())
		<-done
	}

	log.Infof("Session router stopped")
	return nil
}

// Addr returns the listener address.
func (r *Router) Addr() net.Addr {
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Sessions returns the live TCP sessions.
func (r *Router) Sessions() []domain.SessionInfo {
	all := r.sessions.List()
	infos := all[:0]
	for _, info := range all {
		if info.Transport == domain.TransportTCP {
			infos = append(infos, info)
		}
	}
	return infos
}

func (r *Router) GetStats() Stats {
	return Stats{
		Accepted:    r.accepted.Load(),
		Redirected:  r.redirected.Load(),
		Blocked:     r.blocked.Load(),
		Passthrough: r.passthrough.Load(),
		Failed:      r.failed.Load(),
		Active:      len(r.Sessions()),
	}
}

func (r *Router) serve() {
	defer r.wg.Done()

	var delay time.Duration
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if r.ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			delay = acceptDelay(delay)
			log.Warnf("Failed to accept connection, retrying in %v: %v", delay, err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		if !r.track(conn) {
			conn.Close()
			return
		}
		r.accepted.Add(1)

		r.wg.Add(1)
		go r.handle(conn)
	}
}

// acceptDelay doubles the wait after a failed Accept, from 5ms up to a second.
func acceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	return min(prev*2, maxAcceptDelay)
}

// track registers conn for force-close. It refuses once the router is stopping.
func (r *Router) track(conn net.Conn) bool {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	r.conns[conn] = struct{}{}
	return true
}

func (r *Router) untrack(conn net.Conn) {
	r.connsMu.Lock()
	delete(r.conns, conn)
	r.connsMu.Unlock()
}

// closeAll closes every client and upstream connection and returns how many sessions were cut.
func (r *Router) closeAll() int {
	n := len(r.Sessions())

	r.connsMu.Lock()
	defer r.connsMu.Unlock()

	for conn := range r.conns {
		conn.Close()
	}
	return n
}

func (r *Router) handle(client net.Conn) {
	defer r.wg.Done()
	defer r.untrack(client)
	defer client.Close()

	source, _ := netip.ParseAddrPort(client.RemoteAddr().String())
	session := &domain.Session{
		Transport:  domain.TransportTCP,
		SourceAddr: netip.AddrPortFrom(source.Addr().Unmap(), source.Port()),
	}

	dst, redirected := r.originalDst(client)
	session.OriginalDst = dst

	host, replay := sniffHost(client, r.config.SniffTimeout)
	if host == "" && r.hosts != nil {
		host, _ = r.hosts.HostFor(dst.Addr())
	}
	session.RequestedHost = host

	var decision domain.Decision
	if host != "" && r.rules != nil {
		decision = domain.Decide(r.rules.Current(), host)
	}
	session.Decision = decision
	session.MatchedRule = decision.Rule

	id := r.sessions.Add(session)
	defer r.sessions.Remove(id)

	var target netip.AddrPort
	switch decision.Kind {
	case domain.Block:
		r.blocked.Add(1)
		log.Debugf("[s%d] %s -> %s (%s): blocked", id, session.SourceAddr, dst, host)
		reset(client)
		return
	case domain.Redirect:
		r.redirected.Add(1)
		target = netip.AddrPortFrom(decision.Target, dst.Port())
	default:
		if !redirected {
			// without a recovered destination the connection was addressed to us
			r.fail(id, client, errors.NewRouteError("no original destination for "+dst.String(), nil))
			return
		}
		r.passthrough.Add(1)
		target = dst
	}

	log.Debugf("[s%d] %s -> %s (%s): %s, dialing %s", id, session.SourceAddr, dst, host, decision, target)

	ctx, cancel := context.WithTimeout(r.ctx, r.config.DialTimeout)
	upstream, err := r.dialer.DialContext(ctx, "tcp", target.String())
	cancel()
	if err != nil {
		r.fail(id, client, errors.NewRouteError("failed to connect to "+target.String(), err))
		return
	}
	if !r.track(upstream) {
		upstream.Close()
		return
	}
	defer r.untrack(upstream)
	defer upstream.Close()

	if len(replay) > 0 {
		if _, err := upstream.Write(replay); err != nil {
			r.fail(id, client, errors.NewRouteError("failed to replay client data to "+target.String(), err))
			return
		}
		session.AddUp(int64(len(replay)))
	}

	newPipe(client, upstream, r.config.IdleTimeout, session).run()
	log.Debugf("[s%d] Session closed", id)
}

// fail ends the session like a block. Unreachable targets are not fatal for the router.
func (r *Router) fail(id uint64, client net.Conn, err error) {
	r.failed.Add(1)
	log.Infof("[s%d] %v", id, err)
	reset(client)
}

// reset closes conn with a RST instead of a FIN.
func reset(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetLinger(0)
	}
	conn.Close()
}

// originalDst recovers the pre-REDIRECT destination. Connections that were
// not redirected report their local address and false.
func originalDst(conn net.Conn) (netip.AddrPort, bool) {
	local, _ := netip.ParseAddrPort(conn.LocalAddr().String())
	local = netip.AddrPortFrom(local.Addr().Unmap(), local.Port())

	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return local, false
	}
	dst, err := networking.OriginalDst(tc)
	if err != nil || !dst.IsValid() || dst == local {
		return local, false
	}
	return netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port()), true
}
