package router

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

const testRules = `
api.foo.com      127.0.0.1
mail.foo.com     127.0.0.1
down.foo.com     127.0.0.1
blocked.foo.com  block
`

// remoteAddr is the address clients believe they connect to.
var remoteAddr = netip.MustParseAddr("203.0.113.10")

type staticHosts map[netip.Addr]string

func (h staticHosts) HostFor(addr netip.Addr) (string, bool) {
	host, ok := h[addr]
	return host, ok
}

// backend is a loopback TCP server standing in for the real target.
type backend struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func newBackend(t *testing.T, handle func(net.Conn)) *backend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &backend{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.conns = append(b.conns, conn)
			b.mu.Unlock()
			go handle(conn)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, c := range b.conns {
			c.Close()
		}
	})
	return b
}

func (b *backend) port() uint16 {
	return uint16(b.ln.Addr().(*net.TCPAddr).Port)
}

func echo(conn net.Conn) {
	defer conn.Close()
	io.Copy(conn, conn)
}

type testRouter struct {
	*Router
	sessions *domain.Registry
}

func newTestRouter(t *testing.T, cfg Config, hosts domain.HostResolver, dst netip.AddrPort) *testRouter {
	t.Helper()

	set, report := rules.Parse(strings.NewReader(testRules))
	require.Zero(t, report.Skipped)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1"
	}
	if cfg.SniffTimeout == 0 {
		cfg.SniffTimeout = 200 * time.Millisecond
	}
	sessions := domain.NewRegistry()
	r := New(cfg, rules.NewStore(set), hosts, sessions)
	if dst.IsValid() {
		r.originalDst = func(net.Conn) (netip.AddrPort, bool) { return dst, true }
	}

	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop(context.Background()) })
	return &testRouter{Router: r, sessions: sessions}
}

func (r *testRouter) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func httpRequest(host string) string {
	return fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\n\r\n", host)
}

func TestRouter_RedirectHTTP(t *testing.T) {
	be := newBackend(t, echo)
	r := newTestRouter(t, Config{}, nil, netip.AddrPortFrom(remoteAddr, be.port()))

	conn := r.dial(t)
	req := httpRequest("api.foo.com")
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	// the sniffed request head must reach the target unchanged
	buf := make([]byte, len(req))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, req, string(buf))

	sessions := r.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "api.foo.com", sessions[0].RequestedHost)
	assert.Equal(t, domain.Redirect, sessions[0].Decision.Kind)
	assert.Equal(t, netip.AddrPortFrom(remoteAddr, be.port()).String(), sessions[0].OriginalDst)
	assert.Equal(t, uint64(1), r.GetStats().Redirected)
}

func TestRouter_HalfClose(t *testing.T) {
	be := newBackend(t, func(conn net.Conn) {
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		fmt.Fprintf(conn, "got %d bytes", len(data))
	})
	r := newTestRouter(t, Config{}, nil, netip.AddrPortFrom(remoteAddr, be.port()))

	conn := r.dial(t)
	req := httpRequest("api.foo.com") + "trailing payload"
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("got %d bytes", len(req)), string(reply))
}

func TestRouter_AddressBookFallback(t *testing.T) {
	be := newBackend(t, func(conn net.Conn) {
		defer conn.Close()
		// server speaks first, the client sends nothing to sniff
		conn.Write([]byte("220 ready\r\n"))
		io.Copy(io.Discard, conn)
	})
	hosts := staticHosts{remoteAddr: "mail.foo.com"}
	r := newTestRouter(t, Config{}, hosts, netip.AddrPortFrom(remoteAddr, be.port()))

	conn := r.dial(t)
	buf := make([]byte, len("220 ready\r\n"))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "220 ready\r\n", string(buf))

	sessions := r.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "mail.foo.com", sessions[0].RequestedHost)
}

func TestRouter_Passthrough(t *testing.T) {
	be := newBackend(t, echo)
	dst := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), be.port())
	r := newTestRouter(t, Config{}, nil, dst)

	conn := r.dial(t)
	req := httpRequest("unlisted.example.net")
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	buf := make([]byte, len(req))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, req, string(buf))
	assert.Equal(t, uint64(1), r.GetStats().Passthrough)
}

func TestRouter_Block(t *testing.T) {
	be := newBackend(t, echo)
	r := newTestRouter(t, Config{}, nil, netip.AddrPortFrom(remoteAddr, be.port()))

	conn := r.dial(t)
	_, err := conn.Write([]byte(httpRequest("blocked.foo.com")))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	assert.Error(t, err)
	assert.Zero(t, n)

	require.Eventually(t, func() bool { return r.sessions.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), r.GetStats().Blocked)
}

func TestRouter_UnreachableTargetIsBlocked(t *testing.T) {
	// grab a free port and release it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	r := newTestRouter(t, Config{DialTimeout: time.Second}, nil, netip.AddrPortFrom(remoteAddr, port))

	conn := r.dial(t)
	_, err = conn.Write([]byte(httpRequest("down.foo.com")))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Error(t, err)

	require.Eventually(t, func() bool { return r.GetStats().Failed == 1 }, time.Second, 10*time.Millisecond)
}

func TestRouter_NotRedirectedIsRefused(t *testing.T) {
	// the real SO_ORIGINAL_DST lookup fails on a plain loopback connection
	r := newTestRouter(t, Config{}, nil, netip.AddrPort{})

	conn := r.dial(t)
	_, err := conn.Write([]byte(httpRequest("unlisted.example.net")))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	assert.Error(t, err)
}

func TestRouter_IdleTimeout(t *testing.T) {
	be := newBackend(t, echo)
	r := newTestRouter(t, Config{IdleTimeout: 200 * time.Millisecond}, nil, netip.AddrPortFrom(remoteAddr, be.port()))

	conn := r.dial(t)
	req := httpRequest("api.foo.com")
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, make([]byte, len(req)))
	require.NoError(t, err)

	start := time.Now()
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	require.Eventually(t, func() bool { return len(r.Sessions()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRouter_StopClosesSessionsAfterGrace(t *testing.T) {
	be := newBackend(t, func(conn net.Conn) {
		// hold the connection open
		io.Copy(io.Discard, conn)
	})
	r := newTestRouter(t, Config{GraceTimeout: 300 * time.Millisecond}, nil, netip.AddrPortFrom(remoteAddr, be.port()))

	const n = 3
	conns := make([]net.Conn, n)
	for i := range conns {
		conns[i] = r.dial(t)
		_, err := conns[i].Write([]byte(httpRequest("api.foo.com")))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(r.Sessions()) == n }, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, r.Stop(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Empty(t, r.Sessions())

	for _, conn := range conns {
		_, err := conn.Read(make([]byte, 1))
		assert.Error(t, err)
	}
}

func TestRouter_StopWithCancelledContext(t *testing.T) {
	be := newBackend(t, func(conn net.Conn) { io.Copy(io.Discard, conn) })
	r := newTestRouter(t, Config{GraceTimeout: time.Minute}, nil, netip.AddrPortFrom(remoteAddr, be.port()))

	conn := r.dial(t)
	_, err := conn.Write([]byte(httpRequest("api.foo.com")))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.Sessions()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, r.Stop(ctx))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Empty(t, r.Sessions())
}

// flakyListener fails Accept a fixed number of times, then blocks until closed.
type flakyListener struct {
	fails  int
	mu     sync.Mutex
	calls  []time.Time
	closed chan struct{}
	once   sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls = append(l.calls, time.Now())
	n := len(l.calls)
	l.mu.Unlock()

	if n <= l.fails {
		return nil, fmt.Errorf("accept: too many open files")
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func (l *flakyListener) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func TestRouter_AcceptErrorsBackOff(t *testing.T) {
	ln := &flakyListener{fails: 4, closed: make(chan struct{})}
	r := New(Config{}, nil, nil, nil)
	r.ln = ln
	r.wg.Add(1)
	go r.serve()

	require.Eventually(t, func() bool { return ln.callCount() == 5 }, 2*time.Second, 5*time.Millisecond)

	ln.mu.Lock()
	elapsed := ln.calls[4].Sub(ln.calls[0])
	ln.mu.Unlock()
	// 5ms + 10ms + 20ms + 40ms
	assert.GreaterOrEqual(t, elapsed, 75*time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, 5, ln.callCount())
}

func TestAcceptDelay(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, acceptDelay(0))
	assert.Equal(t, 10*time.Millisecond, acceptDelay(5*time.Millisecond))
	assert.Equal(t, maxAcceptDelay, acceptDelay(800*time.Millisecond))
	assert.Equal(t, maxAcceptDelay, acceptDelay(maxAcceptDelay))
}
