package networking

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// soOriginalDst is SO_ORIGINAL_DST / IP6T_SO_ORIGINAL_DST from linux/netfilter_ipv4.h.
const soOriginalDst = 80

// MarkedDialer returns a dialer whose sockets carry SO_MARK so the capture
// chain lets them through. A zero mark leaves sockets unmarked.
func MarkedDialer(mark uint32, timeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: timeout}
	if mark == 0 {
		return d
	}
	d.Control = func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
		})
		if err != nil {
			return err
		}
		if sockErr != nil {
			return fmt.Errorf("failed to set SO_MARK 0x%x: %w", mark, sockErr)
		}
		return nil
	}
	return d
}

// OriginalDst returns the destination a REDIRECTed connection was sent to
// before netfilter rewrote it.
func OriginalDst(conn *net.TCPConn) (netip.AddrPort, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, err
	}

	local, _ := netip.ParseAddrPort(conn.LocalAddr().String())
	v6 := local.Addr().Is6() && !local.Addr().Is4In6()

	var dst netip.AddrPort
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if v6 {
			dst, sockErr = originalDst6(int(fd))
		} else {
			dst, sockErr = originalDst4(int(fd))
		}
	})
	if err != nil {
		return netip.AddrPort{}, err
	}
	return dst, sockErr
}

func originalDst4(fd int) (netip.AddrPort, error) {
	// struct sockaddr_in fits in the 20 bytes of ipv6_mreq
	mreq, err := unix.GetsockoptIPv6Mreq(fd, unix.IPPROTO_IP, soOriginalDst)
	if err != nil {
		return netip.AddrPort{}, err
	}
	raw := mreq.Multiaddr
	port := binary.BigEndian.Uint16(raw[2:4])
	addr := netip.AddrFrom4([4]byte{raw[4], raw[5], raw[6], raw[7]})
	return netip.AddrPortFrom(addr, port), nil
}

func originalDst6(fd int) (netip.AddrPort, error) {
	// struct sockaddr_in6 is the first member of ip6_mtuinfo
	info, err := unix.GetsockoptIPv6MTUInfo(fd, unix.IPPROTO_IPV6, soOriginalDst)
	if err != nil {
		return netip.AddrPort{}, err
	}
	var portBytes [2]byte
	binary.NativeEndian.PutUint16(portBytes[:], info.Addr.Port)
	port := binary.BigEndian.Uint16(portBytes[:])
	return netip.AddrPortFrom(netip.AddrFrom16(info.Addr.Addr), port), nil
}
