//go:build unix && !linux

package transport

import "net"

func describePeer(c net.Conn) string { return remoteAddr(c) }
