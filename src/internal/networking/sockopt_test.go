package networking

import (
	"net"
	"testing"
	"time"
)

func TestMarkedDialer_ZeroMark(t *testing.T) {
	d := MarkedDialer(0, time.Second)
	if d.Control != nil {
		t.Error("Expected no socket control for zero mark")
	}
	if d.Timeout != time.Second {
		t.Errorf("Expected timeout 1s, got %s", d.Timeout)
	}
}

func TestMarkedDialer_SetsControl(t *testing.T) {
	d := MarkedDialer(0x1e1, time.Second)
	if d.Control == nil {
		t.Fatal("Expected socket control for non-zero mark")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("Skipping test - cannot listen on loopback: %v", err)
	}
	defer ln.Close()

	conn, err := d.Dial("tcp", ln.Addr().String())
	if err != nil {
		// SO_MARK needs CAP_NET_ADMIN
		t.Skipf("Skipping test - cannot set SO_MARK: %v", err)
	}
	conn.Close()
}

func TestOriginalDst_NotRedirected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("Skipping test - cannot listen on loopback: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	// Without a REDIRECT rule the kernel either reports no entry or the
	// address the client dialed; both must not panic.
	dst, err := OriginalDst(server.(*net.TCPConn))
	if err == nil && dst.Port() != uint16(ln.Addr().(*net.TCPAddr).Port) {
		t.Errorf("Unexpected original destination %s", dst)
	}
}
