package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient talks to the scriptor daemon.
type IPCClient struct {
	mu         sync.RWMutex
	conn       net.Conn
	sessionID  string
	version    string
	permission PermissionLevel

	connected atomic.Bool

	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32
	writeMu   sync.Mutex

	eventChan chan *Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "scriptorctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &IPCClient{
		pending:   make(map[uint32]chan *Message),
		eventChan: make(chan *Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		config:    cfg,
	}
}

// Connect dials the daemon, then performs the handshake and authenticates.
func (c *IPCClient) Connect() error {
	if c.connected.Load() {
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, errConnRefused) {
			return fmt.Errorf("connect: %w", ErrDaemonNotRunning)
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.wg.Add(1)
	go c.readLoop(conn)

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}
	if err := c.authenticate(); err != nil {
		c.close()
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.cancel()
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// close drops the connection and fails every pending request.
func (c *IPCClient) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)

	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// SessionID returns the session ID assigned by the server
func (c *IPCClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Permission returns the access level granted by the server.
func (c *IPCClient) Permission() PermissionLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.permission
}

// Events returns streamed events. It is closed when the connection ends.
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

func (c *IPCClient) handshake() error {
	var ack HandshakeResponse
	err := c.call(MsgHandshake, &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}, MsgHandshakeAck, &ack)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	c.permission = ack.Permission
	c.mu.Unlock()
	return nil
}

func (c *IPCClient) authenticate() error {
	var resp AuthResponse
	err := c.call(MsgAuthenticate, &AuthRequest{Method: "peer", PID: os.Getpid()}, MsgAuthResponse, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("authentication failed: %s", resp.Error)
	}

	c.mu.Lock()
	c.permission = resp.Permission
	c.mu.Unlock()
	return nil
}

// call sends a request, checks the response type and decodes it into out.
func (c *IPCClient) call(msgType MessageType, payload any, want MessageType, out any) error {
	resp, err := c.request(msgType, payload)
	if err != nil {
		return err
	}
	if resp.Header.Type == MsgError {
		var e ErrorResponse
		if err := Decode(resp.Payload, &e); err != nil {
			return fmt.Errorf("decode error response: %w", err)
		}
		return &RemoteError{Code: e.Code, Message: e.Message}
	}
	if resp.Header.Type != want {
		return fmt.Errorf("unexpected response type: %#04x", uint16(resp.Header.Type))
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

func (c *IPCClient) request(msgType MessageType, payload any) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	data, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *IPCClient) write(msg *Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return msg.Write(conn)
}

func (c *IPCClient) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer close(c.eventChan)

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() == nil {
				c.close()
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPing:
		c.write(NewMessage(MsgPong, msg.Header.RequestID, nil))

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err != nil {
			return
		}
		select {
		case c.eventChan <- &event:
		default:
		}

	default:
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping() error {
	return c.call(MsgPing, nil, MsgPong, nil)
}

// Status requests the daemon status
func (c *IPCClient) Status() (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(MsgStatusRequest, nil, MsgStatusResponse, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *IPCClient) mode(t MessageType) (*ModeResponse, error) {
	var resp ModeResponse
	if err := c.call(t, nil, MsgModeResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartRecording clears the buffer and starts recording.
func (c *IPCClient) StartRecording() (*ModeResponse, error) { return c.mode(MsgStartRecording) }

// StopRecording stops recording.
func (c *IPCClient) StopRecording() (*ModeResponse, error) { return c.mode(MsgStopRecording) }

// StartRunning starts playback.
func (c *IPCClient) StartRunning() (*ModeResponse, error) { return c.mode(MsgStartRunning) }

// StopRunning halts playback.
func (c *IPCClient) StopRunning() (*ModeResponse, error) { return c.mode(MsgStopRunning) }

// ToggleRunning starts playback when idle and halts it when running.
func (c *IPCClient) ToggleRunning() (*ModeResponse, error) { return c.mode(MsgToggleRunning) }

// SetOptions changes the playback options that are set in req.
func (c *IPCClient) SetOptions(req *SetOptionsRequest) (*OptionsResponse, error) {
	var resp OptionsResponse
	if err := c.call(MsgSetOptions, req, MsgOptionsResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LoadScript makes the daemon load the script at path, which is resolved
// by the daemon.
func (c *IPCClient) LoadScript(path string) (*ScriptResponse, error) {
	var resp ScriptResponse
	if err := c.call(MsgLoadScript, &ScriptRequest{Path: path}, MsgScriptResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveScript makes the daemon save its buffer to path.
func (c *IPCClient) SaveScript(path string) (*ScriptResponse, error) {
	var resp ScriptResponse
	if err := c.call(MsgSaveScript, &ScriptRequest{Path: path}, MsgScriptResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit recent recordings and runs.
func (c *IPCClient) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call(MsgGetHistory, &HistoryRequest{Limit: limit}, MsgHistoryResponse, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe subscribes to events; none means all.
func (c *IPCClient) Subscribe(events ...EventType) error {
	var resp SubscribeResponse
	if err := c.call(MsgSubscribe, &SubscribeRequest{Events: events}, MsgSubscribeResp, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe unsubscribes from events
func (c *IPCClient) Unsubscribe() error {
	return c.call(MsgUnsubscribe, nil, MsgUnsubscribeResp, nil)
}
