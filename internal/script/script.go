// Package script encodes recorded input events to the portable .bin script
// format and decodes them back.
//
// Layout (big-endian):
//
//	header   magic "SCRP" | version u16 | flags u16 | count u32
//	event    unix nanos i64 | kind u8 | payload
//	trailer  BLAKE2b-256 over header and events
//
// Payloads by kind: key u16; mouse move x,y as float64 bits; button u8;
// wheel dx,dy i64. Encoding is deterministic and decoding a valid encoding
// reproduces the events exactly, timestamps to the nanosecond.
package script

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"

	"scriptor/internal/input"
)

// Format constants
const (
	Magic      = "SCRP"
	Version    = 1
	HeaderSize = 12
	SumSize    = blake2b.Size256

	// Extension is appended by the engine when a save path has none.
	Extension = ".bin"
)

// eventHeaderSize is the timestamp plus the kind byte.
const eventHeaderSize = 8 + 1

var (
	ErrTruncated          = errors.New("script: truncated data")
	ErrBadMagic           = errors.New("script: not a script file")
	ErrUnsupportedVersion = errors.New("script: unsupported version")
	ErrChecksum           = errors.New("script: checksum mismatch")
	ErrUnknownAction      = errors.New("script: unknown action kind")
	ErrTrailingData       = errors.New("script: trailing data after checksum")
)

// DecodeError reports where and why decoding stopped.
type DecodeError struct {
	Offset int
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode script at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(offset int, err error, format string, args ...any) *DecodeError {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...), Err: err}
}

func payloadSize(kind input.ActionKind) int {
	switch kind {
	case input.KindKeyPress, input.KindKeyRelease:
		return 2
	case input.KindMouseMove:
		return 16
	case input.KindButtonPress, input.KindButtonRelease:
		return 1
	case input.KindWheel:
		return 16
	default:
		return -1
	}
}

// Encode serializes events. It never fails for events built from the
// input package constructors; actions with an unknown kind are encoded with
// an empty payload and rejected by Decode.
func Encode(events []input.Event) []byte {
	size := HeaderSize + SumSize
	for _, ev := range events {
		size += eventHeaderSize + max(payloadSize(ev.Action.Kind), 0)
	}

	buf := make([]byte, size)
	copy(buf, Magic)
	binary.BigEndian.PutUint16(buf[4:], Version)
	binary.BigEndian.PutUint16(buf[6:], 0) // flags, reserved
	binary.BigEndian.PutUint32(buf[8:], uint32(len(events)))
	offset := HeaderSize

	for _, ev := range events {
		a := ev.Action
		binary.BigEndian.PutUint64(buf[offset:], uint64(ev.Timestamp.UnixNano()))
		buf[offset+8] = byte(a.Kind)
		offset += eventHeaderSize

		switch a.Kind {
		case input.KindKeyPress, input.KindKeyRelease:
			binary.BigEndian.PutUint16(buf[offset:], uint16(a.Key))
			offset += 2
		case input.KindMouseMove:
			binary.BigEndian.PutUint64(buf[offset:], math.Float64bits(a.X))
			binary.BigEndian.PutUint64(buf[offset+8:], math.Float64bits(a.Y))
			offset += 16
		case input.KindButtonPress, input.KindButtonRelease:
			buf[offset] = byte(a.Button)
			offset++
		case input.KindWheel:
			binary.BigEndian.PutUint64(buf[offset:], uint64(a.DeltaX))
			binary.BigEndian.PutUint64(buf[offset+8:], uint64(a.DeltaY))
			offset += 16
		}
	}

	sum := blake2b.Sum256(buf[:offset])
	copy(buf[offset:], sum[:])
	return buf
}

// Decode parses data produced by Encode. Any malformed input yields a
// *DecodeError wrapping one of the package sentinels.
func Decode(data []byte) ([]input.Event, error) {
	if len(data) < HeaderSize {
		return nil, decodeErr(len(data), ErrTruncated, "header needs %d bytes, have %d", HeaderSize, len(data))
	}
	if string(data[:4]) != Magic {
		return nil, decodeErr(0, ErrBadMagic, "bad magic %q", data[:4])
	}
	if v := binary.BigEndian.Uint16(data[4:]); v != Version {
		return nil, decodeErr(4, ErrUnsupportedVersion, "version %d, expected %d", v, Version)
	}
	count := binary.BigEndian.Uint32(data[8:])
	offset := HeaderSize

	// count comes from untrusted input; cap the allocation by what the data
	// could possibly hold
	capHint := min(int(count), (len(data)-HeaderSize)/(eventHeaderSize+1))
	events := make([]input.Event, 0, capHint)

	for i := uint32(0); i < count; i++ {
		if len(data)-offset < eventHeaderSize {
			return nil, decodeErr(offset, ErrTruncated, "event %d of %d cut short", i, count)
		}
		ts := int64(binary.BigEndian.Uint64(data[offset:]))
		kind := input.ActionKind(data[offset+8])
		n := payloadSize(kind)
		if n < 0 {
			return nil, decodeErr(offset+8, ErrUnknownAction, "event %d has kind %d", i, uint8(kind))
		}
		offset += eventHeaderSize
		if len(data)-offset < n {
			return nil, decodeErr(offset, ErrTruncated, "event %d payload cut short", i)
		}

		a := input.Action{Kind: kind}
		p := data[offset : offset+n]
		switch kind {
		case input.KindKeyPress, input.KindKeyRelease:
			a.Key = input.Key(binary.BigEndian.Uint16(p))
		case input.KindMouseMove:
			a.X = math.Float64frombits(binary.BigEndian.Uint64(p))
			a.Y = math.Float64frombits(binary.BigEndian.Uint64(p[8:]))
		case input.KindButtonPress, input.KindButtonRelease:
			a.Button = input.Button(p[0])
		case input.KindWheel:
			a.DeltaX = int64(binary.BigEndian.Uint64(p))
			a.DeltaY = int64(binary.BigEndian.Uint64(p[8:]))
		}
		offset += n

		events = append(events, input.Event{Timestamp: time.Unix(0, ts), Action: a})
	}

	if len(data)-offset < SumSize {
		return nil, decodeErr(offset, ErrTruncated, "checksum needs %d bytes, have %d", SumSize, len(data)-offset)
	}
	sum := blake2b.Sum256(data[:offset])
	if string(sum[:]) != string(data[offset:offset+SumSize]) {
		return nil, decodeErr(offset, ErrChecksum, "checksum does not match contents")
	}
	if extra := len(data) - offset - SumSize; extra > 0 {
		return nil, decodeErr(offset+SumSize, ErrTrailingData, "%d unexpected bytes", extra)
	}

	return events, nil
}

// ReadFile reads and decodes the script at path.
func ReadFile(path string) ([]input.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Decode(data)
}

// WriteFile encodes events and writes them to path. The file is written to a
// temporary sibling and renamed into place so a failed save never leaves a
// half-written script behind.
func WriteFile(path string, events []input.Event) error {
	data := Encode(events)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create script: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write script: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close script: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod script: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename script: %w", err)
	}
	return nil
}

// WithExtension returns path with Extension appended when path has no
// extension at all.
func WithExtension(path string) string {
	if filepath.Ext(path) == "" {
		return path + Extension
	}
	return path
}
