package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptor/internal/engine"
	"scriptor/internal/health"
	"scriptor/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's mode, buffer and playback settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(showStatus)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(client *ipc.IPCClient) error {
			start := time.Now()
			if err := client.Ping(); err != nil {
				return err
			}
			printOK(fmt.Sprintf("pong in %s (%s access)", time.Since(start).Round(time.Microsecond), client.Permission()))
			return nil
		})
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Clear the buffer and start recording",
	Args:  cobra.NoArgs,
	RunE:  modeCommand((*ipc.IPCClient).StartRecording),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop recording",
	Args:  cobra.NoArgs,
	RunE:  modeCommand((*ipc.IPCClient).StopRecording),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay the buffer",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt playback",
	Args:  cobra.NoArgs,
	RunE:  modeCommand((*ipc.IPCClient).StopRunning),
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Start playback when idle, halt it when running",
	Args:  cobra.NoArgs,
	RunE:  modeCommand((*ipc.IPCClient).ToggleRunning),
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change playback settings",
	Example: `  scriptorctl set --loops 3
  scriptorctl set --loops +1
  scriptorctl set --loops=-2
  scriptorctl set --infinite
  scriptorctl set --natural=false --fast-delay 100us`,
	Args: cobra.NoArgs,
	RunE: runSet,
}

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Replace the buffer with a saved script",
	Args:  cobra.ExactArgs(1),
	RunE:  scriptCommand((*ipc.IPCClient).LoadScript, "Script loaded"),
}

var saveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Save the buffer (.bin is added when the name has no extension)",
	Args:  cobra.ExactArgs(1),
	RunE:  scriptCommand((*ipc.IPCClient).SaveScript, "File saved successfully"),
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent recordings and runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var eventsCmd = &cobra.Command{
	Use:       "events [type...]",
	Short:     "Stream daemon events until interrupted",
	ValidArgs: []string{"notification", "recording_finished", "run_finished", "script_file", "daemon_shutdown"},
	Args:      cobra.OnlyValidArgs,
	RunE:      runEvents,
}

var (
	runWait bool

	setLoops     string
	setInfinite  bool
	setNatural   bool
	setFastDelay time.Duration

	historyLimit int
	eventsJSON   bool
)

func init() {
	runCmd.Flags().BoolVarP(&runWait, "wait", "w", false, "wait for playback to finish and print the result")

	addSetFlags(setCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", ipc.DefaultHistoryLimit, "entries per table")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "print raw event JSON")
}

func addSetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&setLoops, "loops", "n", "1", "number of passes when not looping forever; +N or -N steps it")
	f.BoolVar(&setInfinite, "infinite", true, "repeat until halted")
	f.BoolVar(&setNatural, "natural", true, "reproduce recorded timing")
	f.DurationVar(&setFastDelay, "fast-delay", engine.DefaultFastDelay, "pause between events when natural timing is off")
}

func modeCommand(fn func(*ipc.IPCClient) (*ipc.ModeResponse, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withClient(func(client *ipc.IPCClient) error {
			resp, err := fn(client)
			if err != nil {
				return explain(err)
			}
			printOK(fmt.Sprintf("mode: %s", resp.Mode))
			return nil
		})
	}
}

func scriptCommand(fn func(*ipc.IPCClient, string) (*ipc.ScriptResponse, error), done string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// the daemon resolves paths from its own working directory
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		return withClient(func(client *ipc.IPCClient) error {
			resp, err := fn(client, path)
			if err != nil {
				return explain(err)
			}
			printOK(done)
			printField("Path", resp.Path)
			printField("Events", resp.Events)
			printField("Label", resp.Label)
			return nil
		})
	}
}

// explain turns protocol error codes into hints.
func explain(err error) error {
	var re *ipc.RemoteError
	if !errors.As(err, &re) {
		return err
	}
	switch re.Code {
	case ipc.ErrModeConflict:
		return fmt.Errorf("%s (check 'scriptorctl status')", re.Message)
	case ipc.ErrPermissionDenied:
		return fmt.Errorf("%s (the daemon runs as another user)", re.Message)
	default:
		return err
	}
}

func showStatus(client *ipc.IPCClient) error {
	st, err := client.Status()
	if err != nil {
		return err
	}
	e := st.Engine

	printSection("DAEMON")
	printField("Version", st.Version)
	printField("Uptime", st.Uptime.Round(time.Second))
	printField("Started", st.StartedAt.Format(time.RFC3339))
	printField("Clients", st.Clients)

	printSection("ENGINE")
	printField("Mode", modeColor(e.Mode))
	printField("Buffer", fmt.Sprintf("%d events", e.Events))
	if e.ScriptLabel != "" {
		printField("Script", e.ScriptLabel)
	}
	if e.CaptureSuspended {
		printField("Capture", c.Yellow+"suspended"+c.Reset)
	}

	printSection("PLAYBACK")
	if e.Options.InfiniteLoop {
		printField("Loops", "infinite")
	} else {
		printField("Loops", e.Options.LoopCount)
	}
	printField("Natural delay", onOff(e.Options.NaturalDelay))
	printField("Fast delay", e.Options.FastDelay)
	printField("Runs", e.Stats.Runs)
	printField("Injected", e.Stats.Injected)
	if e.Stats.Failures > 0 {
		printField("Failures", c.Red+fmt.Sprint(e.Stats.Failures)+c.Reset)
	}
	if r := e.LastRun; r != nil {
		printField("Last run", describeRun(*r))
	}

	if h := st.Health; h != nil {
		printSection("HEALTH")
		printField("Overall", healthColor(h.Status))
		for _, name := range h.Names() {
			r := h.Components[name]
			line := healthColor(r.Status)
			if r.Message != "" {
				line += " " + r.Message
			}
			if r.Error != "" {
				line += ": " + r.Error
			}
			printField(name, line)
		}
	}
	return nil
}

func healthColor(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return c.Green + string(s) + c.Reset
	case health.StatusDegraded:
		return c.Yellow + string(s) + c.Reset
	case health.StatusUnhealthy:
		return c.Red + string(s) + c.Reset
	default:
		return c.Dim + string(s) + c.Reset
	}
}

func modeColor(m engine.Mode) string {
	switch m {
	case engine.Recording:
		return c.Bold + c.Red + strings.ToUpper(m.String()) + c.Reset
	case engine.Running:
		return c.Bold + c.Green + strings.ToUpper(m.String()) + c.Reset
	default:
		return strings.ToUpper(m.String())
	}
}

func describeRun(r engine.RunReport) string {
	if r.Empty {
		return "no events to run"
	}
	state := "done"
	if r.Halted {
		state = "halted"
	}
	s := fmt.Sprintf("%s after %d pass(es), %d injected", state, r.Passes, r.Injected)
	if r.Failures > 0 {
		s += fmt.Sprintf(", %d failed", r.Failures)
	}
	return s + fmt.Sprintf(" in %s", r.Duration().Round(time.Millisecond))
}

func runRun(cmd *cobra.Command, args []string) error {
	return withClient(func(client *ipc.IPCClient) error {
		if runWait {
			if err := client.Subscribe(ipc.EventRunFinished); err != nil {
				return err
			}
		}
		resp, err := client.StartRunning()
		if err != nil {
			return explain(err)
		}
		printOK(fmt.Sprintf("mode: %s", resp.Mode))
		if !runWait {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		report, err := waitForRun(ctx, client.Events())
		if err != nil {
			return err
		}
		fmt.Println(describeRun(report))
		return nil
	})
}

// waitForRun returns the first run report on events.
func waitForRun(ctx context.Context, events <-chan *ipc.Event) (engine.RunReport, error) {
	for {
		select {
		case <-ctx.Done():
			return engine.RunReport{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return engine.RunReport{}, ipc.ErrConnectionLost
			}
			if ev.Type != ipc.EventRunFinished {
				continue
			}
			var r engine.RunReport
			if err := json.Unmarshal(ev.Data, &r); err != nil {
				return r, fmt.Errorf("decode run report: %w", err)
			}
			return r, nil
		}
	}
}

func runSet(cmd *cobra.Command, args []string) error {
	req := setRequest(cmd)
	if req == (ipc.SetOptionsRequest{}) {
		return errors.New("nothing to set (see 'scriptorctl set --help')")
	}
	return withClient(func(client *ipc.IPCClient) error {
		resp, err := client.SetOptions(&req)
		if err != nil {
			return explain(err)
		}
		o := resp.Options
		printOK("settings updated")
		if o.InfiniteLoop {
			printField("Loops", "infinite")
		} else {
			printField("Loops", o.LoopCount)
		}
		printField("Natural delay", onOff(o.NaturalDelay))
		printField("Fast delay", o.FastDelay)
		return nil
	})
}

// setRequest includes only the flags given on the command line.
func setRequest(cmd *cobra.Command) ipc.SetOptionsRequest {
	var req ipc.SetOptionsRequest
	f := cmd.Flags()
	if f.Changed("loops") {
		loops := strings.TrimSpace(setLoops)
		step, err := strconv.Atoi(loops)
		if err == nil && (strings.HasPrefix(loops, "+") || strings.HasPrefix(loops, "-")) {
			req.LoopStep = &step
		} else {
			// the daemon parses and validates the count
			req.LoopText = &loops
		}
		if !f.Changed("infinite") {
			off := false
			req.InfiniteLoop = &off
		}
	}
	if f.Changed("infinite") {
		req.InfiniteLoop = &setInfinite
	}
	if f.Changed("natural") {
		req.NaturalDelay = &setNatural
	}
	if f.Changed("fast-delay") {
		req.FastDelay = &setFastDelay
	}
	return req
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withClient(func(client *ipc.IPCClient) error {
		h, err := client.History(historyLimit)
		if err != nil {
			return explain(err)
		}

		printSection("RECORDINGS")
		if len(h.Recordings) == 0 {
			fmt.Println("  (none)")
		}
		for _, r := range h.Recordings {
			fmt.Printf("  %s  %5d events  %s\n", r.Started.Format("2006-01-02 15:04:05"), r.Events, r.Length.Round(time.Millisecond))
		}

		printSection("RUNS")
		if len(h.Runs) == 0 {
			fmt.Println("  (none)")
		}
		for _, r := range h.Runs {
			script := r.Script
			if script == "" {
				script = "(recording)"
			}
			state := "done"
			if r.Halted {
				state = "halted"
			}
			fmt.Printf("  %s  %-16s %5d events x%-3d %-6s %s\n",
				r.Started.Format("2006-01-02 15:04:05"),
				engine.ScriptLabel(script), r.Events, r.Passes, state,
				r.Length.Round(time.Millisecond))
		}
		return nil
	})
}

func runEvents(cmd *cobra.Command, args []string) error {
	types := make([]ipc.EventType, 0, len(args))
	for _, a := range args {
		t, err := ipc.ParseEventType(a)
		if err != nil {
			return err
		}
		types = append(types, t)
	}

	return withClient(func(client *ipc.IPCClient) error {
		if err := client.Subscribe(types...); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events := client.Events()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return ipc.ErrConnectionLost
				}
				fmt.Println(formatEvent(ev, eventsJSON))
				if ev.Type == ipc.EventDaemonShutdown {
					return nil
				}
			}
		}
	})
}

func formatEvent(ev *ipc.Event, raw bool) string {
	ts := ev.Timestamp.Format("15:04:05.000")
	if raw || len(ev.Data) == 0 {
		return fmt.Sprintf("%s %-18s %s", ts, ev.Type, ev.Data)
	}

	switch ev.Type {
	case ipc.EventNotification:
		var n ipc.NotificationEvent
		if json.Unmarshal(ev.Data, &n) == nil {
			return fmt.Sprintf("%s %-18s %s", ts, ev.Type, n.Body)
		}
	case ipc.EventRunFinished:
		var r engine.RunReport
		if json.Unmarshal(ev.Data, &r) == nil {
			return fmt.Sprintf("%s %-18s %s", ts, ev.Type, describeRun(r))
		}
	case ipc.EventRecordingFinished:
		var s engine.RecordingSummary
		if json.Unmarshal(ev.Data, &s) == nil {
			return fmt.Sprintf("%s %-18s %d events in %s", ts, ev.Type, s.Events, s.Stopped.Sub(s.Started).Round(time.Millisecond))
		}
	case ipc.EventScriptFile:
		var f engine.ScriptFile
		if json.Unmarshal(ev.Data, &f) == nil {
			return fmt.Sprintf("%s %-18s %s %s (%d events)", ts, ev.Type, f.Op, f.Path, f.Events)
		}
	}
	return fmt.Sprintf("%s %-18s %s", ts, ev.Type, ev.Data)
}
