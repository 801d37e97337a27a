//go:build linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// describePeer reports the credentials of the process on the other end of a
// unix socket.
func describePeer(c net.Conn) string {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return remoteAddr(c)
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return remoteAddr(c)
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || credErr != nil {
		return remoteAddr(c)
	}
	return fmt.Sprintf("pid=%d uid=%d", cred.Pid, cred.Uid)
}
