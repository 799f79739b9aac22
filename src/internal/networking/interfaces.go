package networking

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

type Interface struct {
	netlink.Link
}

func GetInterface(interfaceName string) (*Interface, error) {
	link, err := netlink.LinkByName(interfaceName)
	if err != nil {
		return nil, err
	}
	return &Interface{link}, nil
}

func GetInterfaceList() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	var interfaces []Interface
	for _, link := range links {
		interfaces = append(interfaces, Interface{link})
	}
	return interfaces, nil
}

func (iface *Interface) IsUp() bool {
	return iface.Attrs().Flags&net.FlagUp != 0
}

func (iface *Interface) IsLoopback() bool {
	return iface.Attrs().Flags&net.FlagLoopback != 0
}

// Addrs returns the interface addresses, IPv4-mapped ones unmapped.
func (iface *Interface) Addrs() ([]netip.Addr, error) {
	addrs, err := netlink.AddrList(iface.Link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, err
	}
	var ips []netip.Addr
	for _, addr := range addrs {
		if ip, ok := netip.AddrFromSlice(addr.IP); ok {
			ips = append(ips, ip.Unmap())
		}
	}
	return ips, nil
}

// LocalAddresses returns all non-loopback addresses of the host.
// Traffic to these addresses is never sent to the session router.
func LocalAddresses() ([]netip.Addr, error) {
	interfaces, err := GetInterfaceList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var addresses []netip.Addr
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			log.Debugf("Failed to get addresses for %s: %v", iface.Attrs().Name, err)
			continue
		}

		for _, addr := range addrs {
			if addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			addresses = append(addresses, addr)
		}
	}

	return addresses, nil
}

// CheckInterfaces verifies that every named interface exists.
func CheckInterfaces(names []string) error {
	for _, name := range names {
		if _, err := GetInterface(name); err != nil {
			return fmt.Errorf("interface %q: %w", name, err)
		}
	}
	return nil
}

// addressesEqual checks if two address slices hold the same set.
func addressesEqual(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[netip.Addr]struct{}, len(a))
	for _, addr := range a {
		seen[addr] = struct{}{}
	}

	for _, addr := range b {
		if _, ok := seen[addr]; !ok {
			return false
		}
	}

	return true
}
