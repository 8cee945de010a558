//go:build unix && !linux && !darwin

package ipc

import (
	"errors"
	"net"
)

// GetPeerCredentials is not supported here; peers authenticate read-only.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("peer credentials not supported on this platform")
}
