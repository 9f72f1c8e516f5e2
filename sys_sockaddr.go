package zsel

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

func addrToSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return ipToSockaddr(a.IP, a.Port, a.Zone)
	case *net.TCPAddr:
		return ipToSockaddr(a.IP, a.Port, a.Zone)
	case *net.UnixAddr:
		return &unix.SockaddrUnix{Name: a.Name}, nil
	default:
		return nil, invalidArgument(fmt.Sprintf("unsupported address %T", addr))
	}
}

func ipToSockaddr(ip net.IP, port int, zone string) (unix.Sockaddr, error) {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	if ip6 := ip.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], ip6)
		if zone != "" {
			if ifi, err := net.InterfaceByName(zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return sa, nil
	}
	if len(ip) == 0 {
		return &unix.SockaddrInet4{Port: port}, nil
	}
	return nil, invalidArgument(fmt.Sprintf("invalid ip %v", ip))
}

func sockaddrToAddr(sa unix.Sockaddr, network string) net.Addr {
	var stream = !strings.HasPrefix(network, "udp") && network != "unixgram"
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(append([]byte(nil), sa.Addr[:]...))
		if stream {
			return &net.TCPAddr{IP: ip, Port: sa.Port}
		}
		return &net.UDPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := net.IP(append([]byte(nil), sa.Addr[:]...))
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		if stream {
			return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: zone}
		}
		return &net.UDPAddr{IP: ip, Port: sa.Port, Zone: zone}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: network}
	}
	return nil
}
