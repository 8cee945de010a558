//go:build linux

package input

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// uinputName is the name of the virtual injection device. Capture skips it
// so replayed actions are never captured again.
const uinputName = "scriptor virtual input"

// eventSize is sizeof(struct input_event) on 64-bit Linux.
const eventSize = 24

// pollTimeoutMs bounds how long the read loop waits before checking ctx.
const pollTimeoutMs = 100

// uinput ioctls from linux/uinput.h.
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiSetAbsBit  = 0x40045567
)

const (
	absCnt     = 64
	busVirtual = 0x06
)

// EvdevDevice captures from /dev/input/event* and injects through
// /dev/uinput.
type EvdevDevice struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	running bool
	err     error
	done    chan struct{}

	// pointer position tracked from relative motion
	posX, posY float64

	injectMu sync.Mutex
	uinput   int
}

func newPlatformDevice(opts Options) (Device, error) {
	return newEvdevDevice(opts), nil
}

func openBackend(opts Options) (Device, error) {
	switch opts.Backend {
	case "evdev":
		return newEvdevDevice(opts), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrNotAvailable, opts.Backend)
	}
}

func newEvdevDevice(opts Options) *EvdevDevice {
	return &EvdevDevice{
		opts:   opts,
		log:    opts.Logger.With(slog.String("backend", "evdev")),
		uinput: -1,
		posX:   float64(opts.ScreenWidth) / 2,
		posY:   float64(opts.ScreenHeight) / 2,
	}
}

// Available checks if we can read input devices.
func (d *EvdevDevice) Available() (bool, string) {
	devices, err := d.devices()
	if err != nil {
		return false, fmt.Sprintf("cannot find input devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard or mouse devices found"
	}

	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("found input device: %s", dev)
		}
	}

	return false, "cannot read input devices (need to be in 'input' group or run as root)"
}

func (d *EvdevDevice) devices() ([]string, error) {
	if len(d.opts.Devices) > 0 {
		return d.opts.Devices, nil
	}
	return findInputDevices()
}

// findInputDevices lists /dev/input event nodes bound to a keyboard or
// mouse handler.
func findInputDevices() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var devices []string
	var name, handler string
	wanted := false

	flush := func() {
		if wanted && handler != "" && name != uinputName {
			devices = append(devices, handler)
		}
		name, handler, wanted = "", "", false
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "N: Name="):
			name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				switch {
				case strings.HasPrefix(part, "event"):
					handler = "/dev/input/" + part
				case part == "kbd" || strings.HasPrefix(part, "mouse"):
					wanted = true
				}
			}
		case line == "":
			flush()
		}
	}
	flush()

	return devices, scanner.Err()
}

// Subscribe opens every input device and starts the read loop.
func (d *EvdevDevice) Subscribe(ctx context.Context) (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil, ErrAlreadySubscribed
	}

	paths, err := d.devices()
	if err != nil || len(paths) == 0 {
		return nil, ErrNotAvailable
	}

	var fds []int
	for _, p := range paths {
		fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			d.log.Debug("skip input device", "path", p, "error", err)
			continue
		}
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		return nil, ErrPermissionDenied
	}

	ch := make(chan Event, 256)
	d.running = true
	d.err = nil
	d.done = make(chan struct{})

	go d.readLoop(ctx, fds, ch)

	return ch, nil
}

func (d *EvdevDevice) readLoop(ctx context.Context, fds []int, ch chan<- Event) {
	var loopErr error
	defer func() {
		for _, fd := range fds {
			unix.Close(fd)
		}
		close(ch)
		d.mu.Lock()
		d.running = false
		d.err = loopErr
		close(d.done)
		d.mu.Unlock()
	}()

	buf := make([]byte, eventSize*64)
	var pending []Action
	moved := false

	for {
		if ctx.Err() != nil {
			return
		}
		if len(fds) == 0 {
			loopErr = errors.New("all input devices disappeared")
			return
		}

		pfds := make([]unix.PollFd, len(fds))
		for i, fd := range fds {
			pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}
		if _, err := unix.Poll(pfds, pollTimeoutMs); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			loopErr = fmt.Errorf("poll input devices: %w", err)
			return
		}

		live := fds[:0]
		for i, pfd := range pfds {
			fd := fds[i]
			if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				d.log.Warn("input device closed", "fd", fd)
				unix.Close(fd)
				continue
			}
			live = append(live, fd)
			if pfd.Revents&unix.POLLIN == 0 {
				continue
			}

			n, err := unix.Read(fd, buf)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
					continue
				}
				if errors.Is(err, unix.ENODEV) {
					d.log.Warn("input device removed", "fd", fd)
					live = live[:len(live)-1]
					unix.Close(fd)
					continue
				}
				loopErr = fmt.Errorf("read input device: %w", err)
				return
			}

			for off := 0; off+eventSize <= n; off += eventSize {
				rec := decodeRecord(buf[off : off+eventSize])

				actions, didMove := d.translate(rec.Type, rec.Code, rec.Value)
				pending = append(pending, actions...)
				moved = moved || didMove

				if rec.Type == evSyn && rec.Code == synReport {
					if moved {
						pending = append(pending, MouseMove(d.posX, d.posY))
						moved = false
					}
					// a frame's actions share the kernel time of its SYN_REPORT
					at := rec.time()
					for _, a := range pending {
						select {
						case ch <- Event{Timestamp: at, Action: a}:
						case <-ctx.Done():
							return
						}
					}
					pending = pending[:0]
				}
			}
		}
		fds = live
	}
}

// inputRecord is struct input_event on 64-bit Linux.
type inputRecord struct {
	TimeSec  int64
	TimeUsec int64
	Type     uint16
	Code     uint16
	Value    int32
}

func decodeRecord(b []byte) inputRecord {
	return inputRecord{
		TimeSec:  int64(binary.LittleEndian.Uint64(b[0:8])),
		TimeUsec: int64(binary.LittleEndian.Uint64(b[8:16])),
		Type:     binary.LittleEndian.Uint16(b[16:18]),
		Code:     binary.LittleEndian.Uint16(b[18:20]),
		Value:    int32(binary.LittleEndian.Uint32(b[20:24])),
	}
}

// time is when the kernel stamped the record, or now if it carries no stamp.
func (r inputRecord) time() time.Time {
	if r.TimeSec == 0 && r.TimeUsec == 0 {
		return time.Now()
	}
	return time.Unix(r.TimeSec, r.TimeUsec*int64(time.Microsecond))
}

// translate turns one raw evdev record into actions. Relative motion only
// updates the tracked pointer; the move is emitted once per SYN_REPORT.
func (d *EvdevDevice) translate(typ, code uint16, value int32) ([]Action, bool) {
	switch typ {
	case evKey:
		if b, ok := evdevButtons[code]; ok {
			if value == 0 {
				return []Action{ButtonRelease(b)}, false
			}
			if value == 1 {
				return []Action{ButtonPress(b)}, false
			}
			return nil, false
		}
		k := keyFromEvdev(code)
		if value == 0 {
			return []Action{KeyRelease(k)}, false
		}
		// 1 = press, 2 = autorepeat
		return []Action{KeyPress(k)}, false

	case evRel:
		switch code {
		case relX:
			d.posX = clamp(d.posX+float64(value), 0, float64(d.opts.ScreenWidth-1))
			return nil, true
		case relY:
			d.posY = clamp(d.posY+float64(value), 0, float64(d.opts.ScreenHeight-1))
			return nil, true
		case relWheel:
			return []Action{Wheel(0, int64(value))}, false
		case relHWheel:
			return []Action{Wheel(int64(value), 0)}, false
		}
	}
	return nil, false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Err returns the error that ended the last stream.
func (d *EvdevDevice) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Inject writes the action to the virtual uinput device, creating it on
// first use.
func (d *EvdevDevice) Inject(a Action) error {
	d.injectMu.Lock()
	defer d.injectMu.Unlock()

	if d.uinput < 0 {
		fd, err := d.createUinput()
		if err != nil {
			return err
		}
		d.uinput = fd
	}

	var recs [][3]int32
	switch a.Kind {
	case KindKeyPress, KindKeyRelease:
		code, ok := evdevFromKey(a.Key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedAction, a)
		}
		recs = append(recs, [3]int32{evKey, int32(code), boolValue(a.Kind == KindKeyPress)})
	case KindButtonPress, KindButtonRelease:
		code, ok := evdevFromButton(a.Button)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedAction, a)
		}
		recs = append(recs, [3]int32{evKey, int32(code), boolValue(a.Kind == KindButtonPress)})
	case KindMouseMove:
		recs = append(recs,
			[3]int32{evAbs, absX, int32(a.X)},
			[3]int32{evAbs, absY, int32(a.Y)})
	case KindWheel:
		if a.DeltaY != 0 {
			recs = append(recs, [3]int32{evRel, relWheel, int32(a.DeltaY)})
		}
		if a.DeltaX != 0 {
			recs = append(recs, [3]int32{evRel, relHWheel, int32(a.DeltaX)})
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, a)
	}
	recs = append(recs, [3]int32{evSyn, synReport, 0})

	buf := make([]byte, eventSize*len(recs))
	for i, r := range recs {
		off := i * eventSize
		// timestamp left zero; the kernel stamps injected events
		binary.LittleEndian.PutUint16(buf[off+16:], uint16(r[0]))
		binary.LittleEndian.PutUint16(buf[off+18:], uint16(r[1]))
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(r[2]))
	}
	if _, err := unix.Write(d.uinput, buf); err != nil {
		return fmt.Errorf("write uinput: %w", err)
	}
	return nil
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// keyBits lists every key and button code the virtual device declares. It
// covers the whole range evdevFromKey accepts, raw codes included, since the
// kernel silently drops codes a device did not declare.
func keyBits() []uintptr {
	bits := make([]uintptr, 0, keyMax)
	for code := uintptr(1); code <= keyMax; code++ {
		bits = append(bits, code)
	}
	return bits
}

func (d *EvdevDevice) createUinput() (int, error) {
	fd, err := unix.Open("/dev/uinput", unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			return -1, fmt.Errorf("%w: /dev/uinput", ErrPermissionDenied)
		}
		return -1, fmt.Errorf("open uinput: %w", err)
	}

	setup := func() error {
		for _, ev := range []uintptr{evKey, evRel, evAbs, evSyn} {
			if err := ioctl(fd, uiSetEvBit, ev); err != nil {
				return fmt.Errorf("set event bit %d: %w", ev, err)
			}
		}
		for _, code := range keyBits() {
			if err := ioctl(fd, uiSetKeyBit, code); err != nil {
				return fmt.Errorf("set key bit %d: %w", code, err)
			}
		}
		for _, rel := range []uintptr{relWheel, relHWheel} {
			if err := ioctl(fd, uiSetRelBit, rel); err != nil {
				return fmt.Errorf("set rel bit %d: %w", rel, err)
			}
		}
		for _, abs := range []uintptr{absX, absY} {
			if err := ioctl(fd, uiSetAbsBit, abs); err != nil {
				return fmt.Errorf("set abs bit %d: %w", abs, err)
			}
		}

		if _, err := unix.Write(fd, d.userDev()); err != nil {
			return fmt.Errorf("write device description: %w", err)
		}
		if err := ioctl(fd, uiDevCreate, 0); err != nil {
			return fmt.Errorf("create device: %w", err)
		}
		return nil
	}

	if err := setup(); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("uinput: %w", err)
	}

	d.log.Info("virtual input device created", "name", uinputName)
	return fd, nil
}

// userDev encodes struct uinput_user_dev.
func (d *EvdevDevice) userDev() []byte {
	const nameLen = 80
	buf := make([]byte, nameLen+8+4+4*absCnt*4)
	copy(buf[:nameLen-1], uinputName)

	id := buf[nameLen:]
	binary.LittleEndian.PutUint16(id[0:], busVirtual)
	binary.LittleEndian.PutUint16(id[2:], 0x5343) // vendor
	binary.LittleEndian.PutUint16(id[4:], 0x0001) // product
	binary.LittleEndian.PutUint16(id[6:], 1)      // version

	absmax := buf[nameLen+8+4:]
	binary.LittleEndian.PutUint32(absmax[absX*4:], uint32(d.opts.ScreenWidth-1))
	binary.LittleEndian.PutUint32(absmax[absY*4:], uint32(d.opts.ScreenHeight-1))
	return buf
}

func ioctl(fd int, req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// Close stops injection and waits for an active read loop to exit.
func (d *EvdevDevice) Close() error {
	d.injectMu.Lock()
	if d.uinput >= 0 {
		_ = ioctl(d.uinput, uiDevDestroy, 0)
		unix.Close(d.uinput)
		d.uinput = -1
	}
	d.injectMu.Unlock()

	d.mu.Lock()
	done := d.done
	running := d.running
	d.mu.Unlock()
	if running && done != nil {
		select {
		case <-done:
		case <-time.After(2 * pollTimeoutMs * time.Millisecond):
		}
	}
	return nil
}
