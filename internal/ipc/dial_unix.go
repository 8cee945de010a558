//go:build unix

package ipc

import "golang.org/x/sys/unix"

// errConnRefused is what dialing a stale socket file fails with.
var errConnRefused error = unix.ECONNREFUSED
