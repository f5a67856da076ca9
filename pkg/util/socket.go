package util

import (
	"net"
	"strconv"
)

// SocketName derives a stable client identity string from a remote address.
// The format is "address:port" when a port is available, "address" otherwise.
// Connection registries key live sockets by this string.
func SocketName(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
	case *net.UDPAddr:
		// Connectionless transports report the address only.
		return a.IP.String()
	case nil:
		return "unknown"
	default:
		return addr.String()
	}
}
