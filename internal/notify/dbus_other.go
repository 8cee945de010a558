//go:build !linux

package notify

// Platform has no desktop backend on this platform.
func Platform(appName string, expireMs int32) (Backend, bool) {
	return nil, false
}
