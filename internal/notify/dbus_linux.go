//go:build linux

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// DesktopBackend shows messages through the freedesktop notification
// service on the session bus.
type DesktopBackend struct {
	appName string
	expire  int32

	mu     sync.Mutex
	conn   *dbus.Conn
	lastID uint32
}

// NewDesktopBackend connects to the session bus. expireMs is passed to the
// notification server; -1 leaves it to the server.
func NewDesktopBackend(appName string, expireMs int32) (*DesktopBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DesktopBackend{appName: appName, expire: expireMs, conn: conn}, nil
}

// Send replaces the previous notification so status changes do not pile up.
func (b *DesktopBackend) Send(ctx context.Context, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("notify: backend closed")
	}

	obj := b.conn.Object(notifyService, notifyPath)
	call := obj.CallWithContext(ctx, notifyInterface+".Notify", 0,
		b.appName,                 // app_name
		b.lastID,                  // replaces_id
		"input-keyboard",          // app_icon
		m.Title,                   // summary
		m.Body,                    // body
		[]string{},                // actions
		map[string]dbus.Variant{}, // hints
		b.expire,                  // expire_timeout
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: read reply: %w", err)
	}
	b.lastID = id
	return nil
}

// Close disconnects from the session bus.
func (b *DesktopBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Platform returns the desktop backend, or ok=false when no session bus
// is reachable.
func Platform(appName string, expireMs int32) (Backend, bool) {
	b, err := NewDesktopBackend(appName, expireMs)
	if err != nil {
		return nil, false
	}
	return b, true
}
