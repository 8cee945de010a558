//go:build !linux

package input

import (
	"context"
	"fmt"
)

// StubDevice is used on platforms without a capture backend.
type StubDevice struct{}

func newPlatformDevice(opts Options) (Device, error) {
	return &StubDevice{}, nil
}

func openBackend(opts Options) (Device, error) {
	return nil, fmt.Errorf("%w: backend %q", ErrNotAvailable, opts.Backend)
}

// Available returns false on unsupported platforms.
func (s *StubDevice) Available() (bool, string) {
	return false, "input capture not implemented for this platform"
}

// Subscribe returns an error on unsupported platforms.
func (s *StubDevice) Subscribe(ctx context.Context) (<-chan Event, error) {
	return nil, ErrNotAvailable
}

// Err always returns nil.
func (s *StubDevice) Err() error { return nil }

// Inject returns an error on unsupported platforms.
func (s *StubDevice) Inject(a Action) error {
	return ErrNotAvailable
}

// Close is a no-op on unsupported platforms.
func (s *StubDevice) Close() error { return nil }
