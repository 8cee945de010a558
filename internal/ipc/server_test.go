package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptor/internal/engine"
	"scriptor/internal/health"
	"scriptor/internal/input"
	"scriptor/internal/store"
)

type harness struct {
	srv    *Server
	eng    *engine.Engine
	sim    *input.Simulated
	socket string
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// socketDir keeps the socket path short enough for sun_path.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newHarness(t *testing.T, history History, maxConns int) *harness {
	t.Helper()
	socket := filepath.Join(socketDir(t), "s.sock")

	cfg := DefaultServerConfig(socket)
	cfg.Logger = quiet()
	if maxConns > 0 {
		cfg.MaxConnections = maxConns
	}
	srv, err := NewServer(cfg, nil)
	require.NoError(t, err)

	sim := input.NewSimulated()
	opts := engine.DefaultOptions()
	eng, err := engine.New(sim, engine.Config{Options: opts, Logger: quiet(), Notifier: srv, Observer: srv})
	require.NoError(t, err)

	srv.SetHandler(NewDaemonHandler(DaemonHandlerConfig{
		Controller: eng,
		History:    history,
		Version:    "test",
		Clients:    srv.ClientCount,
	}))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return &harness{srv: srv, eng: eng, sim: sim, socket: socket}
}

func (h *harness) connect(t *testing.T) *IPCClient {
	t.Helper()
	cfg := DefaultClientConfig(h.socket)
	cfg.RequestTimeout = 5 * time.Second
	c := NewClient(cfg)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { c.Close() })
	return c
}

func remoteCode(t *testing.T, err error) int {
	t.Helper()
	var re *RemoteError
	require.True(t, errors.As(err, &re), "expected RemoteError, got %v", err)
	return re.Code
}

func TestConnectAndStatus(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)

	assert.Equal(t, PermFullControl, c.Permission())
	assert.NotEmpty(t, c.SessionID())
	require.NoError(t, c.Ping())

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, engine.Idle, st.Engine.Mode)
	assert.True(t, st.Engine.Options.InfiniteLoop)
	assert.Equal(t, 1, st.Clients)
}

func TestModeControl(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)

	resp, err := c.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, engine.Recording, resp.Mode)

	_, err = c.StartRunning()
	assert.Equal(t, ErrModeConflict, remoteCode(t, err))

	resp, err = c.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, engine.Idle, resp.Mode)

	resp, err = c.ToggleRunning()
	require.NoError(t, err)
	assert.Equal(t, engine.Running, resp.Mode)

	resp, err = c.StopRunning()
	require.NoError(t, err)
	assert.Equal(t, engine.Idle, resp.Mode)

	// recording takes over from playback
	_, err = c.StartRunning()
	require.NoError(t, err)
	resp, err = c.StartRecording()
	require.NoError(t, err)
	assert.Equal(t, engine.Recording, resp.Mode)
}

func TestSetOptions(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)

	loops, infinite := 3, false
	resp, err := c.SetOptions(&SetOptionsRequest{LoopCount: &loops, InfiniteLoop: &infinite})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Options.LoopCount)
	assert.False(t, resp.Options.InfiniteLoop)
	assert.True(t, resp.Options.NaturalDelay, "unset fields keep their value")

	bad, natural := 0, false
	_, err = c.SetOptions(&SetOptionsRequest{LoopCount: &bad, NaturalDelay: &natural})
	assert.Equal(t, ErrInvalidRequest, remoteCode(t, err))

	opts := h.eng.Options()
	assert.Equal(t, 3, opts.LoopCount)
	assert.True(t, opts.NaturalDelay, "a rejected request changes nothing")

	step := 2
	resp, err = c.SetOptions(&SetOptionsRequest{LoopStep: &step})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Options.LoopCount)

	step = -10
	resp, err = c.SetOptions(&SetOptionsRequest{LoopStep: &step})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Options.LoopCount, "stepping stops at one")

	text := " 7 "
	resp, err = c.SetOptions(&SetOptionsRequest{LoopText: &text})
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Options.LoopCount)

	text = "seven"
	_, err = c.SetOptions(&SetOptionsRequest{LoopText: &text, NaturalDelay: &natural})
	assert.Equal(t, ErrInvalidRequest, remoteCode(t, err))
	assert.Equal(t, 7, h.eng.Options().LoopCount)
	assert.True(t, h.eng.Options().NaturalDelay)
}

func TestSetOptionsKeepsConcurrentChanges(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			step := 1
			_, err := c.SetOptions(&SetOptionsRequest{LoopStep: &step})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			h.eng.SetNaturalDelay(false)
		}()
	}
	wg.Wait()

	opts := h.eng.Options()
	assert.Equal(t, 21, opts.LoopCount, "no step may be lost")
	assert.False(t, opts.NaturalDelay, "no setter may be overwritten")
}

func TestScriptSaveAndLoad(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)

	_, err := c.StartRecording()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.eng.Mode() == engine.Recording }, time.Second, 5*time.Millisecond)
	h.eng.Dispatch(input.NewEvent(input.KeyPress(input.KeyA)))
	h.eng.Dispatch(input.NewEvent(input.KeyRelease(input.KeyA)))
	_, err = c.StopRecording()
	require.NoError(t, err)

	_, err = c.SaveScript("relative/macro")
	assert.Equal(t, ErrInvalidRequest, remoteCode(t, err))

	path := filepath.Join(t.TempDir(), "macro")
	saved, err := c.SaveScript(path)
	require.NoError(t, err)
	assert.Equal(t, path+".bin", saved.Path)
	assert.Equal(t, 2, saved.Events)

	_, err = c.StartRecording()
	require.NoError(t, err)
	_, err = c.StopRecording()
	require.NoError(t, err)
	require.Empty(t, h.eng.Events())

	loaded, err := c.LoadScript(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Events)
	assert.Equal(t, "macro.bin", loaded.Label)

	_, err = c.LoadScript(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Equal(t, ErrNotFound, remoteCode(t, err))
}

func TestHistory(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)
	_, err := c.History(5)
	assert.Equal(t, ErrNotAvailable, remoteCode(t, err))

	db, err := store.Open(filepath.Join(t.TempDir(), "history.db"), time.Second)
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()
	_, err = db.InsertRecording(&store.Recording{Started: now, Stopped: now.Add(time.Second), Events: 4})
	require.NoError(t, err)
	_, err = db.InsertRun(&store.Run{Started: now, Finished: now.Add(2 * time.Second), Script: "a.bin", Events: 4, Passes: 1, Injected: 5})
	require.NoError(t, err)

	h2 := newHarness(t, db, 0)
	c2 := h2.connect(t)
	hist, err := c2.History(0)
	require.NoError(t, err)
	require.Len(t, hist.Recordings, 1)
	require.Len(t, hist.Runs, 1)
	assert.Equal(t, time.Second, hist.Recordings[0].Length)
	assert.Equal(t, "a.bin", hist.Runs[0].Script)
	assert.Equal(t, 5, hist.Runs[0].Injected)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, nil, 0)
	c := h.connect(t)
	require.NoError(t, c.Subscribe(EventNotification, EventRecordingFinished))

	_, err := c.StartRecording()
	require.NoError(t, err)
	_, err = c.StopRecording()
	require.NoError(t, err)

	var bodies []string
	var finished bool
	timeout := time.After(5 * time.Second)
	for len(bodies) < 2 || !finished {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed")
			switch ev.Type {
			case EventNotification:
				var n NotificationEvent
				require.NoError(t, json.Unmarshal(ev.Data, &n))
				bodies = append(bodies, n.Body)
			case EventRecordingFinished:
				finished = true
			default:
				t.Fatalf("unsubscribed event type %d", ev.Type)
			}
		case <-timeout:
			t.Fatalf("missing events: bodies=%v finished=%v", bodies, finished)
		}
	}
	assert.Equal(t, []string{"Recording...", "Stopped recording..."}, bodies)
}

// rawSession performs the handshake by hand with the given auth method.
func rawSession(t *testing.T, socket, method string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	roundTrip := func(typ MessageType, id uint32, v any) *Message {
		msg, err := NewResponse(typ, id, v)
		require.NoError(t, err)
		require.NoError(t, msg.Write(conn))
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		resp, err := ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, id, resp.Header.RequestID)
		return resp
	}

	roundTrip(MsgHandshake, 1, &HandshakeRequest{ClientName: "raw", ProtocolVersion: ProtocolVersion})
	resp := roundTrip(MsgAuthenticate, 2, &AuthRequest{Method: method})
	var auth AuthResponse
	require.NoError(t, Decode(resp.Payload, &auth))
	require.True(t, auth.Success)
	return conn
}

func TestReadOnlyPermission(t *testing.T) {
	h := newHarness(t, nil, 0)
	conn := rawSession(t, h.socket, "none")

	send := func(typ MessageType, id uint32) *Message {
		require.NoError(t, NewMessage(typ, id, nil).Write(conn))
		resp, err := ReadMessage(conn)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, MsgStatusResponse, send(MsgStatusRequest, 3).Header.Type)

	resp := send(MsgStartRecording, 4)
	require.Equal(t, MsgError, resp.Header.Type)
	var e ErrorResponse
	require.NoError(t, Decode(resp.Payload, &e))
	assert.Equal(t, ErrPermissionDenied, e.Code)
	assert.Equal(t, engine.Idle, h.eng.Mode())
}

func TestUnauthenticatedRejected(t *testing.T) {
	h := newHarness(t, nil, 0)
	conn, err := net.Dial("unix", h.socket)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, NewMessage(MsgStatusRequest, 1, nil).Write(conn))
	resp, err := ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MsgError, resp.Header.Type)
}

func TestUnknownMessage(t *testing.T) {
	h := newHarness(t, nil, 0)
	conn := rawSession(t, h.socket, "peer")

	require.NoError(t, NewMessage(MessageType(0x7fff), 9, nil).Write(conn))
	resp, err := ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, MsgError, resp.Header.Type)
}

func TestConnectionLimit(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.connect(t)

	conn, err := net.Dial("unix", h.socket)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = ReadMessage(conn)
	assert.Error(t, err, "connections over the limit are closed")
}

func TestStartRefusesLiveSocket(t *testing.T) {
	h := newHarness(t, nil, 0)

	cfg := DefaultServerConfig(h.socket)
	cfg.Logger = quiet()
	other, err := NewServer(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, other.Start())
}

func TestStopRemovesSocket(t *testing.T) {
	h := newHarness(t, nil, 0)
	info, err := os.Stat(h.socket)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, h.srv.Stop())
	_, err = os.Stat(h.socket)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, h.srv.Stop(), "Stop is idempotent")
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(DefaultClientConfig(filepath.Join(socketDir(t), "none.sock")))
	err := c.Connect()
	assert.True(t, errors.Is(err, ErrDaemonNotRunning), "got %v", err)
}

func TestStatusCarriesHealth(t *testing.T) {
	sim := input.NewSimulated()
	eng, err := engine.New(sim, engine.Config{Options: engine.DefaultOptions(), Logger: quiet()})
	require.NoError(t, err)

	checker := health.NewChecker()
	checker.RegisterFunc("capture", true, func(context.Context) health.CheckResult {
		return health.Failed("capture stream ended", errors.New("device removed"))
	})
	h := NewDaemonHandler(DaemonHandlerConfig{Controller: eng, Version: "test", Health: checker})

	resp, err := h.HandleMessage(context.Background(), nil, NewMessage(MsgStatusRequest, 7, nil))
	require.NoError(t, err)
	require.Equal(t, MsgStatusResponse, resp.Header.Type)

	var st StatusResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &st))
	require.NotNil(t, st.Health)
	assert.Equal(t, health.StatusUnhealthy, st.Health.Status)
	assert.Equal(t, "device removed", st.Health.Components["capture"].Error)
}
