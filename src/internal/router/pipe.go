package router

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
)

const copyBufferSize = 32 * 1024

// pipe copies bytes between the client and the upstream until both
// directions are done or the session sits idle for too long.
type pipe struct {
	client   net.Conn
	upstream net.Conn
	idle     time.Duration
	session  *domain.Session

	// lastActivity is shared by both directions, a session is idle only
	// when neither side moved data.
	lastActivity atomic.Int64
	closeOnce    sync.Once
}

func newPipe(client, upstream net.Conn, idle time.Duration, session *domain.Session) *pipe {
	p := &pipe{client: client, upstream: upstream, idle: idle, session: session}
	p.touch()
	return p
}

func (p *pipe) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.copy(p.upstream, p.client, p.session.AddUp)
	}()
	go func() {
		defer wg.Done()
		p.copy(p.client, p.upstream, p.session.AddDown)
	}()
	wg.Wait()
}

func (p *pipe) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

func (p *pipe) idleFor() time.Duration {
	return time.Since(time.Unix(0, p.lastActivity.Load()))
}

// copy moves src -> dst. A clean EOF is passed on as a half-close; any
// other end tears down both connections.
func (p *pipe) copy(dst, src net.Conn, count func(int64)) {
	buf := make([]byte, copyBufferSize)
	for {
		src.SetReadDeadline(time.Now().Add(p.idle))
		n, err := src.Read(buf)
		if n > 0 {
			p.touch()
			if _, werr := dst.Write(buf[:n]); werr != nil {
				p.close()
				return
			}
			count(int64(n))
		}
		if err == nil {
			continue
		}

		if stderrors.Is(err, os.ErrDeadlineExceeded) && p.idleFor() < p.idle {
			// the other direction is still busy
			continue
		}
		if err == io.EOF {
			closeWrite(dst)
			return
		}
		p.close()
		return
	}
}

func (p *pipe) close() {
	p.closeOnce.Do(func() {
		p.client.Close()
		p.upstream.Close()
	})
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}
