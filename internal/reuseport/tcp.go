//go:build linux

package reuseport

import (
	"net"
	"os"

	"github.com/panjf2000/gnet/errors"
	"golang.org/x/sys/unix"
)

var listenerBacklogMaxSize = MaxListenerBacklog()

// ResolveTCPAddr resolves addr on the given tcp network into a sockaddr and its family.
func ResolveTCPAddr(proto, addr string) (sa unix.Sockaddr, family int, tcpAddr *net.TCPAddr, err error) {
	if tcpAddr, err = net.ResolveTCPAddr(proto, addr); err != nil {
		return
	}
	sa, family, err = TCPSockaddr(proto, tcpAddr)
	return
}

// TCPSockaddr converts tcpAddr to the sockaddr matching proto.
func TCPSockaddr(proto string, tcpAddr *net.TCPAddr) (sa unix.Sockaddr, family int, err error) {
	var tcpVersion string
	if tcpVersion, err = determineTCPProto(proto, tcpAddr); err != nil {
		return
	}

	switch tcpVersion {
	case "tcp4":
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			copy(sa4.Addr[:], tcpAddr.IP.To4())
		}
		sa, family = sa4, unix.AF_INET
	case "tcp6":
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			copy(sa6.Addr[:], tcpAddr.IP.To16())
		}
		if tcpAddr.Zone != "" {
			var iface *net.Interface
			if iface, err = net.InterfaceByName(tcpAddr.Zone); err != nil {
				return
			}
			sa6.ZoneId = uint32(iface.Index)
		}
		sa, family = sa6, unix.AF_INET6
	default:
		err = errors.ErrUnsupportedProtocol
	}
	return
}

func determineTCPProto(proto string, addr *net.TCPAddr) (string, error) {
	// If the protocol is set to "tcp", we try to determine the actual protocol
	// version from the size of the resolved IP address. Otherwise, we simple use
	// the protcol given to us by the caller.
	switch proto {
	case "tcp4", "tcp6":
		return proto, nil
	case "tcp":
	default:
		return "", errors.ErrUnsupportedTCPProtocol
	}
	if addr.IP == nil || addr.IP.To4() != nil {
		return "tcp4", nil
	}
	return "tcp6", nil
}

// Socket creates a non-blocking, close-on-exec stream socket.
func Socket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	return fd, os.NewSyscallError("socket", err)
}

// TCPListener creates a listening socket bound to addr. SO_REUSEADDR is always set,
// SO_REUSEPORT when reusePort is true. A non-positive backlog selects somaxconn.
func TCPListener(proto string, addr *net.TCPAddr, reusePort bool, backlog int) (fd int, netAddr net.Addr, err error) {
	var (
		family   int
		sockaddr unix.Sockaddr
	)
	if sockaddr, family, err = TCPSockaddr(proto, addr); err != nil {
		return
	}
	if fd, err = Socket(family); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	// SO_REUSEADDR lets a restarted server bind while old connections sit in TIME_WAIT.
	if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)); err != nil {
		return
	}
	// SO_REUSEPORT lets several listeners, one per event-loop, share ip:port.
	if reusePort {
		if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sockaddr)); err != nil {
		return
	}
	if backlog <= 0 || backlog > listenerBacklogMaxSize {
		backlog = listenerBacklogMaxSize
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, backlog)); err != nil {
		return
	}
	sa, _ := unix.Getsockname(fd)
	netAddr = sockaddrToTCPAddr(sa, addr)
	return
}

func sockaddrToTCPAddr(sa unix.Sockaddr, fallback *net.TCPAddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port, Zone: fallback.Zone}
	}
	return fallback
}
