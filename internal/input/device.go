package input

import (
	"context"
	"errors"
	"log/slog"
)

// Source is a stream of captured input events.
type Source interface {
	// Subscribe starts capture and returns the event stream. Events arrive
	// in capture order. The channel is closed when ctx is cancelled or the
	// underlying hook fails; Err then reports the cause.
	Subscribe(ctx context.Context) (<-chan Event, error)

	// Err returns the error that terminated the stream, or nil if the stream
	// is still open or ended because its context was cancelled.
	Err() error
}

// Injector replays a single action into the OS input queue.
type Injector interface {
	Inject(a Action) error
}

// Device combines capture and injection for one platform backend.
type Device interface {
	Source
	Injector

	// Available returns true if the backend can run with current permissions.
	Available() (bool, string)

	// Close releases hooks and virtual devices.
	Close() error
}

// Options selects and configures a platform backend.
type Options struct {
	// Backend is "auto", "evdev" or "none".
	Backend string

	// Devices restricts capture to these /dev/input paths. Empty means
	// every keyboard and mouse found in /proc/bus/input/devices.
	Devices []string

	// ScreenWidth and ScreenHeight bound the absolute pointer range used
	// for captured moves and for the virtual injection device.
	ScreenWidth  int
	ScreenHeight int

	Logger *slog.Logger
}

// DefaultOptions returns options for the platform default backend.
func DefaultOptions() Options {
	return Options{
		Backend:      "auto",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}
}

var (
	// ErrNotAvailable is returned when no capture backend exists for this
	// platform or the requested backend is disabled.
	ErrNotAvailable = errors.New("input capture not available on this platform")

	// ErrPermissionDenied is returned when the backend exists but the
	// process may not open the input devices.
	ErrPermissionDenied = errors.New("insufficient permissions for input capture")

	// ErrAlreadySubscribed is returned by Subscribe on an active stream.
	ErrAlreadySubscribed = errors.New("input stream already subscribed")

	// ErrUnsupportedAction is returned by Inject for actions the backend
	// cannot express.
	ErrUnsupportedAction = errors.New("action not supported by injector")
)

// Open returns the Device selected by opts for the current platform.
func Open(opts Options) (Device, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScreenWidth <= 0 {
		opts.ScreenWidth = DefaultOptions().ScreenWidth
	}
	if opts.ScreenHeight <= 0 {
		opts.ScreenHeight = DefaultOptions().ScreenHeight
	}
	switch opts.Backend {
	case "none":
		return nil, ErrNotAvailable
	case "", "auto":
		return newPlatformDevice(opts)
	default:
		return openBackend(opts)
	}
}
