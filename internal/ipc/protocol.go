// Package ipc is the control channel between the scriptor daemon and its
// clients.
//
// Messages are framed with a fixed 16-byte header followed by a JSON
// payload. Requests carry a request ID that the matching response echoes;
// streamed events use server-assigned IDs.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"scriptor/internal/engine"
	"scriptor/internal/health"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53495043 // "SIPC"
)

// MaxPayload bounds a single message payload.
const MaxPayload = 16 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgAuthenticate MessageType = 0x0007
	MsgAuthResponse MessageType = 0x0008

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Mode control (0x02xx), all answered with MsgModeResponse
	MsgStartRecording MessageType = 0x0200
	MsgStopRecording  MessageType = 0x0201
	MsgStartRunning   MessageType = 0x0202
	MsgStopRunning    MessageType = 0x0203
	MsgToggleRunning  MessageType = 0x0204
	MsgModeResponse   MessageType = 0x0205

	// Playback options (0x03xx)
	MsgSetOptions      MessageType = 0x0300
	MsgOptionsResponse MessageType = 0x0301

	// Script files (0x04xx)
	MsgLoadScript     MessageType = 0x0400
	MsgSaveScript     MessageType = 0x0401
	MsgScriptResponse MessageType = 0x0402

	// History (0x05xx)
	MsgGetHistory      MessageType = 0x0500
	MsgHistoryResponse MessageType = 0x0501

	// Event streaming (0x06xx)
	MsgSubscribe       MessageType = 0x0600
	MsgSubscribeResp   MessageType = 0x0601
	MsgUnsubscribe     MessageType = 0x0602
	MsgUnsubscribeResp MessageType = 0x0603
	MsgEvent           MessageType = 0x0604
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventNotification      EventType = 0x0001
	EventRecordingFinished EventType = 0x0002
	EventRunFinished       EventType = 0x0003
	EventScriptFile        EventType = 0x0004
	EventDaemonShutdown    EventType = 0x0005
)

// AllEvents is what an empty subscription subscribes to.
var AllEvents = []EventType{
	EventNotification,
	EventRecordingFinished,
	EventRunFinished,
	EventScriptFile,
	EventDaemonShutdown,
}

var eventNames = map[EventType]string{
	EventNotification:      "notification",
	EventRecordingFinished: "recording_finished",
	EventRunFinished:       "run_finished",
	EventScriptFile:        "script_file",
	EventDaemonShutdown:    "daemon_shutdown",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(0x%04x)", uint16(t))
}

// ParseEventType accepts the names printed by EventType.String.
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// PermissionLevel defines client access levels
type PermissionLevel uint8

const (
	PermReadOnly    PermissionLevel = 0x01
	PermReadWrite   PermissionLevel = 0x02
	PermFullControl PermissionLevel = 0x03
)

func (p PermissionLevel) String() string {
	switch p {
	case PermReadOnly:
		return "read-only"
	case PermReadWrite:
		return "read-write"
	case PermFullControl:
		return "full-control"
	default:
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04
)

// Framing errors.
var (
	ErrBadMagic           = errors.New("ipc: invalid magic number")
	ErrUnsupportedVersion = errors.New("ipc: unsupported protocol version")
	ErrPayloadTooLarge    = errors.New("ipc: payload too large")
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	_, err := w.Write(buf)
	return err
}

func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("%w: %x", ErrBadMagic, h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// Write writes the message as a single frame.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize+len(m.Payload))
	m.Header.Length = uint32(len(m.Payload))
	m.Header.put(buf)
	copy(buf[HeaderSize:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string          `json:"server_version"`
	ProtocolVersion uint8           `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Permission      PermissionLevel `json:"permission"`
}

// AuthRequest is sent to authenticate a client
type AuthRequest struct {
	Method string `json:"method"` // "peer" or "none"
	PID    int    `json:"pid,omitempty"`
}

// AuthResponse acknowledges authentication
type AuthResponse struct {
	Success    bool            `json:"success"`
	Permission PermissionLevel `json:"permission"`
	Error      string          `json:"error,omitempty"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrModeConflict     = 6
	ErrNotAvailable     = 7
)

// RemoteError is an ErrorResponse surfaced by the client.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version   string         `json:"version"`
	StartedAt time.Time      `json:"started_at"`
	Uptime    time.Duration  `json:"uptime"`
	Engine    engine.Status  `json:"engine"`
	Clients   int            `json:"clients"`
	Health    *health.Report `json:"health,omitempty"`
}

// ModeResponse reports the mode after a mode-control request.
type ModeResponse struct {
	Mode engine.Mode `json:"mode"`
}

// SetOptionsRequest changes the fields that are set and leaves the rest.
type SetOptionsRequest struct {
	InfiniteLoop *bool          `json:"infinite_loop,omitempty"`
	NaturalDelay *bool          `json:"natural_delay,omitempty"`
	LoopCount    *int           `json:"loop_count,omitempty"`
	FastDelay    *time.Duration `json:"fast_delay,omitempty"`
	// LoopText is a loop count as typed by a user; the daemon parses it.
	LoopText *string `json:"loop_text,omitempty"`
	// LoopStep is added to the loop count, which stops at 1.
	LoopStep *int `json:"loop_step,omitempty"`
}

// OptionsResponse carries the options in effect.
type OptionsResponse struct {
	Options engine.Options `json:"options"`
}

// ScriptRequest names a script file to load or save.
type ScriptRequest struct {
	Path string `json:"path"`
}

// ScriptResponse reports a completed load or save.
type ScriptResponse struct {
	Path   string `json:"path"`
	Events int    `json:"events"`
	Label  string `json:"label"`
}

// HistoryRequest asks for the most recent history entries.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// RecordingEntry is one recording in a HistoryResponse.
type RecordingEntry struct {
	Started time.Time     `json:"started"`
	Events  int           `json:"events"`
	Length  time.Duration `json:"length"`
}

// RunEntry is one playback in a HistoryResponse.
type RunEntry struct {
	Started  time.Time     `json:"started"`
	Script   string        `json:"script,omitempty"`
	Events   int           `json:"events"`
	Passes   int           `json:"passes"`
	Injected int           `json:"injected"`
	Failures int           `json:"failures"`
	Halted   bool          `json:"halted"`
	Length   time.Duration `json:"length"`
}

// HistoryResponse lists recent recordings and runs, newest first.
type HistoryResponse struct {
	Recordings []RecordingEntry `json:"recordings"`
	Runs       []RunEntry       `json:"runs"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NotificationEvent carries a user-facing engine message.
type NotificationEvent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewEvent encodes data into an Event of type t.
func NewEvent(t EventType, data any) (*Event, error) {
	ev := &Event{Type: t, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
