package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptor/internal/config"
	"scriptor/internal/engine"
	"scriptor/internal/input"
	"scriptor/internal/store"
)

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Replay a saved script without starting the daemon",
	Long: `Replay a saved script once per loop, or until interrupted with --infinite.
Settings not given on the command line come from the engine section of the config.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

var (
	playLoops     int
	playInfinite  bool
	playFast      bool
	playFastDelay time.Duration
	playDryRun    bool
)

func init() {
	f := playCmd.Flags()
	f.IntVarP(&playLoops, "loops", "n", 1, "number of passes (turns off --infinite)")
	f.BoolVar(&playInfinite, "infinite", false, "repeat until interrupted")
	f.BoolVar(&playFast, "fast", false, "ignore recorded timing and use --fast-delay between events")
	f.DurationVar(&playFastDelay, "fast-delay", engine.DefaultFastDelay, "pause between events in fast mode")
	f.BoolVar(&playDryRun, "dry-run", false, "replay into a simulated device instead of the OS")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer log.Close()

	opts, err := playOptions(cmd, cfg.Engine)
	if err != nil {
		return err
	}

	var device input.Device
	if playDryRun {
		device = input.NewSimulated()
	} else {
		device, err = input.Open(input.Options{
			Backend:      cfg.Capture.Backend,
			Devices:      cfg.Capture.Devices,
			ScreenWidth:  cfg.Capture.ScreenWidth,
			ScreenHeight: cfg.Capture.ScreenHeight,
			Logger:       log.Logger,
		})
		if err != nil {
			return fmt.Errorf("open input device: %w", err)
		}
	}
	defer device.Close()

	eng, err := engine.New(device, engine.Config{Options: opts, Logger: log.Logger})
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if err := eng.LoadScript(path); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := play(ctx, eng)
	if err != nil {
		return err
	}
	printRunReport(report)

	if cfg.Store.Enabled && !playDryRun {
		recordRun(cfg, report)
	}
	return nil
}

// playOptions starts from the configured engine settings and overrides
// whatever flags were given.
func playOptions(cmd *cobra.Command, ec config.EngineConfig) (engine.Options, error) {
	opts := engineOptions(ec)
	flags := cmd.Flags()
	if flags.Changed("loops") {
		opts.LoopCount = playLoops
		opts.InfiniteLoop = false
	}
	if flags.Changed("infinite") {
		opts.InfiniteLoop = playInfinite
	}
	if flags.Changed("fast") {
		opts.NaturalDelay = !playFast
	}
	if flags.Changed("fast-delay") {
		opts.FastDelay = playFastDelay
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// play runs the loaded buffer on the calling goroutine. Cancelling ctx
// halts playback at the next event.
func play(ctx context.Context, eng *engine.Engine) (engine.RunReport, error) {
	if err := eng.StartRunning(); err != nil {
		return engine.RunReport{}, err
	}
	return eng.Play(ctx), nil
}

func printRunReport(r engine.RunReport) {
	if r.Empty {
		fmt.Println("No events to run")
		return
	}
	state := "done"
	if r.Halted {
		state = "halted"
	}
	fmt.Printf("Playback %s: %d event(s), %d pass(es), %d injected", state, r.Events, r.Passes, r.Injected)
	if r.Failures > 0 {
		fmt.Printf(", %d failed", r.Failures)
	}
	fmt.Printf(" in %s\n", r.Duration().Round(time.Millisecond))
}

// recordRun adds a headless run to the history. Failures only warn: the
// playback itself already happened.
func recordRun(cfg *config.Config, r engine.RunReport) {
	st, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: history not updated: %v\n", err)
		return
	}
	defer st.Close()
	if err := st.RunFinished(r); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: history not updated: %v\n", err)
	}
}
