//go:build darwin

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// GetPeerCredentials reads LOCAL_PEERCRED from the connection. Xucred has
// no PID, so PID is always 0.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	unixConn, err := rawUnixConn(conn)
	if err != nil {
		return nil, err
	}

	rawConn, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw conn: %w", err)
	}

	var cred *unix.Xucred
	var credErr error
	err = rawConn.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	})
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt: %w", credErr)
	}

	cr := &PeerCredentials{UID: int(cred.Uid)}
	if cred.Ngroups > 0 {
		cr.GID = int(cred.Groups[0])
	}
	return cr, nil
}
