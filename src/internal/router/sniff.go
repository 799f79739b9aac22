package router

import (
	"bufio"
	"bytes"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/utils"
)

const (
	// maxSniffSize bounds how much of the stream is buffered while looking for a host name.
	maxSniffSize = 16 * 1024

	tlsRecordTypeHandshake = 0x16
)

var errSniffed = stderrors.New("client hello captured")

// recorder keeps every byte read through it so the bytes can be replayed.
type recorder struct {
	r   io.Reader
	buf bytes.Buffer
}

func (r *recorder) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.buf.Write(p[:n])
	return n, err
}

// readOnlyConn feeds recorded bytes to crypto/tls and swallows everything it writes.
type readOnlyConn struct {
	net.Conn
	r io.Reader
}

func (c readOnlyConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c readOnlyConn) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }
func (c readOnlyConn) Close() error                { return nil }

// sniffHost reads the start of the client stream and returns the host name
// from a TLS ClientHello or an HTTP request head. The returned bytes are
// everything consumed from conn and must be sent upstream before the rest of
// the stream. An empty host means nothing could be recognized in time.
func sniffHost(conn net.Conn, timeout time.Duration) (string, []byte) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	rec := &recorder{r: io.LimitReader(conn, maxSniffSize)}
	br := bufio.NewReader(rec)

	first, err := br.Peek(1)
	if err != nil {
		return "", rec.buf.Bytes()
	}

	var host string
	if first[0] == tlsRecordTypeHandshake {
		host = serverName(readOnlyConn{Conn: conn, r: br})
	} else {
		host = httpHost(br)
	}
	return utils.NormalizeHost(host), rec.buf.Bytes()
}

// serverName runs the server side of a handshake just far enough to see the ClientHello.
func serverName(conn net.Conn) string {
	var name string
	err := tls.Server(conn, &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			name = hello.ServerName
			return nil, errSniffed
		},
	}).Handshake()
	if err != nil && name == "" {
		return ""
	}
	return name
}

func httpHost(br *bufio.Reader) string {
	req, err := http.ReadRequest(br)
	if err != nil {
		return ""
	}
	// the body is left unread, it is replayed with the rest of the stream
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if utils.IsIP(host) {
		return ""
	}
	return host
}
