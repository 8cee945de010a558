package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scriptor/internal/engine"
	"scriptor/internal/health"
	"scriptor/internal/store"
)

// Controller is the engine surface exposed over the socket.
type Controller interface {
	Status() engine.Status
	StartRecording() error
	StopRecording() error
	StartRunning() error
	StopRunning() error
	ToggleRunning() (engine.Mode, error)
	Mode() engine.Mode
	Options() engine.Options
	Update(func(*engine.Options) error) (engine.Options, error)
	LoadScript(path string) error
	SaveScript(path string) (string, error)
}

// History is the read side of the history store.
type History interface {
	Recordings(limit int) ([]store.Recording, error)
	Runs(limit int) ([]store.Run, error)
}

// DefaultHistoryLimit applies when a history request names no limit.
const DefaultHistoryLimit = 20

// DaemonHandler implements Handler on top of an engine.
type DaemonHandler struct {
	ctrl      Controller
	history   History
	version   string
	startedAt time.Time
	clients   func() int
	health    *health.Checker
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Controller Controller
	// History may be nil when the store is disabled.
	History History
	Version string
	// Clients reports the number of connected clients, if set.
	Clients func() int
	// Health, if set, is run on every status request.
	Health *health.Checker
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	return &DaemonHandler{
		ctrl:      cfg.Controller,
		history:   cfg.History,
		version:   cfg.Version,
		startedAt: time.Now(),
		clients:   cfg.Clients,
		health:    cfg.Health,
	}
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgStatusRequest:
		return h.handleStatus(ctx, id)

	case MsgStartRecording:
		return h.modeResponse(id, h.ctrl.StartRecording())

	case MsgStopRecording:
		return h.modeResponse(id, h.ctrl.StopRecording())

	case MsgStartRunning:
		return h.modeResponse(id, h.ctrl.StartRunning())

	case MsgStopRunning:
		return h.modeResponse(id, h.ctrl.StopRunning())

	case MsgToggleRunning:
		m, err := h.ctrl.ToggleRunning()
		if err != nil {
			return errorMessage(id, err), nil
		}
		return NewResponse(MsgModeResponse, id, &ModeResponse{Mode: m})

	case MsgSetOptions:
		return h.handleSetOptions(msg)

	case MsgLoadScript:
		return h.handleLoadScript(msg)

	case MsgSaveScript:
		return h.handleSaveScript(msg)

	case MsgGetHistory:
		return h.handleHistory(msg)

	default:
		return NewErrorMessage(id, ErrInvalidRequest, fmt.Sprintf("unknown message type %#04x", uint16(msg.Header.Type))), nil
	}
}

func (h *DaemonHandler) handleStatus(ctx context.Context, id uint32) (*Message, error) {
	resp := &StatusResponse{
		Version:   h.version,
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt).Round(time.Second),
		Engine:    h.ctrl.Status(),
	}
	if h.clients != nil {
		resp.Clients = h.clients()
	}
	if h.health != nil {
		resp.Health = h.health.Report(ctx)
	}
	return NewResponse(MsgStatusResponse, id, resp)
}

func (h *DaemonHandler) modeResponse(id uint32, err error) (*Message, error) {
	if err != nil {
		return errorMessage(id, err), nil
	}
	return NewResponse(MsgModeResponse, id, &ModeResponse{Mode: h.ctrl.Mode()})
}

// handleSetOptions merges the request into the current options in one
// engine update, so an invalid field changes nothing and a concurrent
// config reload is not overwritten with stale values.
func (h *DaemonHandler) handleSetOptions(msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	var req SetOptionsRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid options request"), nil
	}

	opts, err := h.ctrl.Update(func(o *engine.Options) error {
		if req.InfiniteLoop != nil {
			o.InfiniteLoop = *req.InfiniteLoop
		}
		if req.NaturalDelay != nil {
			o.NaturalDelay = *req.NaturalDelay
		}
		if req.LoopCount != nil {
			o.LoopCount = *req.LoopCount
		}
		if req.LoopText != nil {
			if err := o.ParseLoopCount(*req.LoopText); err != nil {
				return err
			}
		}
		if req.LoopStep != nil {
			o.StepLoopCount(*req.LoopStep)
		}
		if req.FastDelay != nil {
			o.FastDelay = *req.FastDelay
		}
		return nil
	})
	if err != nil {
		return errorMessage(id, err), nil
	}
	return NewResponse(MsgOptionsResponse, id, &OptionsResponse{Options: opts})
}

func (h *DaemonHandler) handleLoadScript(msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	path, errMsg := scriptPath(msg)
	if errMsg != nil {
		return errMsg, nil
	}

	if err := h.ctrl.LoadScript(path); err != nil {
		return errorMessage(id, err), nil
	}
	st := h.ctrl.Status()
	return NewResponse(MsgScriptResponse, id, &ScriptResponse{Path: path, Events: st.Events, Label: st.ScriptLabel})
}

func (h *DaemonHandler) handleSaveScript(msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	path, errMsg := scriptPath(msg)
	if errMsg != nil {
		return errMsg, nil
	}

	written, err := h.ctrl.SaveScript(path)
	if err != nil {
		return errorMessage(id, err), nil
	}
	st := h.ctrl.Status()
	return NewResponse(MsgScriptResponse, id, &ScriptResponse{Path: written, Events: st.Events, Label: st.ScriptLabel})
}

// scriptPath decodes a ScriptRequest. Paths must be absolute since the
// daemon's working directory means nothing to the client.
func scriptPath(msg *Message) (string, *Message) {
	var req ScriptRequest
	if err := Decode(msg.Payload, &req); err != nil || req.Path == "" {
		return "", NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "a script path is required")
	}
	if !filepath.IsAbs(req.Path) {
		return "", NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "script path must be absolute")
	}
	return filepath.Clean(req.Path), nil
}

func (h *DaemonHandler) handleHistory(msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	if h.history == nil {
		return NewErrorMessage(id, ErrNotAvailable, "history store is disabled"), nil
	}

	var req HistoryRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(id, ErrInvalidRequest, "invalid history request"), nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	recs, err := h.history.Recordings(limit)
	if err != nil {
		return nil, err
	}
	runs, err := h.history.Runs(limit)
	if err != nil {
		return nil, err
	}

	resp := &HistoryResponse{
		Recordings: make([]RecordingEntry, 0, len(recs)),
		Runs:       make([]RunEntry, 0, len(runs)),
	}
	for _, r := range recs {
		resp.Recordings = append(resp.Recordings, RecordingEntry{
			Started: r.Started,
			Events:  r.Events,
			Length:  r.Duration(),
		})
	}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, RunEntry{
			Started:  r.Started,
			Script:   r.Script,
			Events:   r.Events,
			Passes:   r.Passes,
			Injected: r.Injected,
			Failures: r.Failures,
			Halted:   r.Halted,
			Length:   r.Duration(),
		})
	}
	return NewResponse(MsgHistoryResponse, id, resp)
}

// errorMessage maps engine and file errors onto protocol error codes.
func errorMessage(id uint32, err error) *Message {
	code := ErrInternalError
	switch {
	case errors.Is(err, engine.ErrRecording):
		code = ErrModeConflict
	case errors.Is(err, engine.ErrInvalidLoopCount), errors.Is(err, engine.ErrInvalidDelay):
		code = ErrInvalidRequest
	case errors.Is(err, os.ErrNotExist):
		code = ErrNotFound
	}
	return NewErrorMessage(id, code, err.Error())
}
