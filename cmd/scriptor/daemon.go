package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scriptor/internal/config"
	"scriptor/internal/engine"
	"scriptor/internal/health"
	"scriptor/internal/input"
	"scriptor/internal/ipc"
	"scriptor/internal/logging"
	"scriptor/internal/notify"
	"scriptor/internal/store"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Capture shortcuts and replay recordings until stopped",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var watchConfig bool

func init() {
	daemonCmd.Flags().BoolVar(&watchConfig, "watch", true, "reload engine settings when the config file changes")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(resolvedConfigPath())
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	logging.SetDefault(log)
	defer log.Close()

	d := NewDaemon(loader, log)
	if err := d.Start(); err != nil {
		d.Stop()
		return err
	}
	if watchConfig {
		if err := loader.Watch(); err != nil {
			log.Warn("config watch disabled", "path", loader.Path(), "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("scriptor %s running\n", Version)
	fmt.Println("  ,  start recording")
	fmt.Println("  .  stop recording")
	fmt.Println("  /  start or halt playback")
	if d.server != nil {
		fmt.Printf("Control socket: %s\n", d.server.SocketPath())
	}
	fmt.Println("Press Ctrl+C to stop")

	err = d.Run(ctx)
	if serr := d.Stop(); err == nil {
		err = serr
	}
	return err
}

// Daemon owns every long-lived component of a running scriptor.
type Daemon struct {
	loader *config.Loader
	base   *logging.Logger
	log    *logging.Logger

	// openDevice is input.Open outside tests.
	openDevice func(input.Options) (input.Device, error)

	device     input.Device
	engine     *engine.Engine
	server     *ipc.Server
	store      *store.Store
	dispatcher *notify.Dispatcher
	health     *health.Checker

	// captureErr holds the error that ended the capture stream.
	captureErr atomic.Pointer[error]

	stopOnce sync.Once
}

// NewDaemon creates a daemon configured from the loader's current config.
func NewDaemon(loader *config.Loader, log *logging.Logger) *Daemon {
	return &Daemon{
		loader:     loader,
		base:       log,
		log:        log.WithComponent("daemon"),
		openDevice: input.Open,
		health:     health.NewChecker(),
	}
}

// Start opens the device, history store, notifier and control socket and
// creates the engine. Nothing is captured until Run.
func (d *Daemon) Start() error {
	cfg := d.loader.Config()
	if cfg == nil {
		return errors.New("daemon: config not loaded")
	}

	device, err := d.openDevice(input.Options{
		Backend:      cfg.Capture.Backend,
		Devices:      cfg.Capture.Devices,
		ScreenWidth:  cfg.Capture.ScreenWidth,
		ScreenHeight: cfg.Capture.ScreenHeight,
		Logger:       d.base.Logger,
	})
	if err != nil {
		return fmt.Errorf("open input device: %w", err)
	}
	d.device = device
	if ok, reason := device.Available(); !ok {
		return fmt.Errorf("input device unavailable: %s", reason)
	}

	var (
		notifiers fanout
		observers engine.Observers
	)

	if cfg.Notify.Enabled {
		d.dispatcher = notify.NewDispatcher(d.notifyBackend(cfg.Notify), notify.Options{
			QueueSize: cfg.Notify.QueueSize,
			Logger:    d.base.Logger,
		})
		notifiers = append(notifiers, d.dispatcher)
	}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		d.store = st
		observers = append(observers, st)
	}

	if cfg.IPC.Enabled {
		srv, err := newServer(cfg.IPC, d.base)
		if err != nil {
			return err
		}
		d.server = srv
		notifiers = append(notifiers, srv)
		observers = append(observers, srv)
	}

	eng, err := engine.New(device, engine.Config{
		Options:  engineOptions(cfg.Engine),
		Logger:   d.base.Logger,
		Notifier: notifiers,
		Observer: observers,
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	d.engine = eng

	d.registerChecks()

	d.loader.OnChange(func(cfg *config.Config) {
		if err := d.engine.Apply(engineOptions(cfg.Engine)); err != nil {
			d.log.Warn("reloaded engine settings rejected", "error", err)
			return
		}
		d.log.Info("config reloaded", "path", d.loader.Path())
	})

	if d.server != nil {
		var history ipc.History
		if d.store != nil {
			history = d.store
		}
		d.server.SetHandler(ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
			Controller: d.engine,
			History:    history,
			Version:    Version,
			Clients:    d.server.ClientCount,
			Health:     d.health,
		}))
		if err := d.server.Start(); err != nil {
			d.server = nil
			return fmt.Errorf("start control socket: %w", err)
		}
	}

	d.log.Info("daemon started",
		"backend", cfg.Capture.Backend,
		"history", cfg.Store.Enabled,
		"ipc", cfg.IPC.Enabled,
		"notify", cfg.Notify.Enabled)
	return nil
}

// registerChecks exposes capture, history, notification and playback state
// through status requests. Only capture is critical: without it the
// shortcuts are dead.
func (d *Daemon) registerChecks() {
	d.health.RegisterFunc("capture", true, func(context.Context) health.CheckResult {
		if errp := d.captureErr.Load(); errp != nil {
			return health.Failed("capture stream ended", *errp)
		}
		return health.Healthy("listening")
	})

	if d.store != nil {
		d.health.RegisterFunc("history", false, health.PingCheck("history", d.store.DB().PingContext))
	}

	if d.dispatcher != nil {
		d.health.RegisterFunc("notify", false, func(context.Context) health.CheckResult {
			failed, dropped := d.dispatcher.Failed(), d.dispatcher.Dropped()
			r := health.Healthy("delivering")
			if failed > 0 || dropped > 0 {
				r = health.CheckResult{Status: health.StatusDegraded, Message: "notifications lost"}
			}
			r.Details = map[string]any{"failed": failed, "dropped": dropped}
			return r
		})
	}

	d.health.RegisterFunc("playback", false, func(context.Context) health.CheckResult {
		st := d.engine.Stats()
		r := health.Healthy("")
		if st.Failures > 0 {
			r = health.CheckResult{Status: health.StatusDegraded, Message: "injections failed"}
		}
		r.Details = map[string]any{"runs": st.Runs, "injected": st.Injected, "failures": st.Failures}
		return r
	})
}

func (d *Daemon) notifyBackend(nc config.NotifyConfig) notify.Backend {
	if nc.Desktop {
		if b, ok := notify.Platform("scriptor", int32(nc.ExpireMs)); ok {
			return b
		}
		d.log.Debug("desktop notifications unavailable, logging instead")
	}
	return notify.LogBackend{Logger: d.base.Logger}
}

func newServer(ic config.IPCConfig, log *logging.Logger) (*ipc.Server, error) {
	perm, err := strconv.ParseUint(ic.Permissions, 8, 32)
	if err != nil {
		return nil, fmt.Errorf("socket permissions %q: %w", ic.Permissions, err)
	}
	scfg := ipc.DefaultServerConfig(ic.SocketPath)
	scfg.Version = Version
	scfg.Permissions = os.FileMode(perm)
	scfg.MaxConnections = ic.MaxConnections
	scfg.WriteTimeout = time.Duration(ic.TimeoutSec) * time.Second
	scfg.Logger = log.Logger
	return ipc.NewServer(scfg, nil)
}

// Run captures and replays until ctx is done. A failed capture stream is
// logged and leaves playback and the control socket running.
func (d *Daemon) Run(ctx context.Context) error {
	crashDir := logging.DefaultCrashDir()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := logging.Guard(d.log.Logger, crashDir, "capture", func() error {
			return d.engine.Listen(ctx, d.device)
		})
		if err != nil {
			d.captureErr.Store(&err)
			d.log.Error("capture stopped, shortcuts disabled", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		err := logging.Guard(d.log.Logger, crashDir, "playback", func() error {
			return d.engine.Serve(ctx)
		})
		if err != nil {
			d.log.Error("playback driver stopped", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			d.log.Info("shutting down", "mode", d.engine.Mode())
			return nil
		case err := <-d.loader.Errors():
			d.log.Warn("config reload rejected", "error", err)
		}
	}
}

// Stop releases everything Start opened. It is safe to call after a
// failed Start and more than once.
func (d *Daemon) Stop() error {
	var errs []error
	d.stopOnce.Do(func() {
		if err := d.loader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close config watcher: %w", err))
		}
		if d.server != nil {
			if err := d.server.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop control socket: %w", err))
			}
		}
		if d.device != nil {
			if err := d.device.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close input device: %w", err))
			}
		}
		if d.dispatcher != nil {
			if err := d.dispatcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close notifier: %w", err))
			}
		}
		if d.store != nil {
			if err := d.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

// engineOptions maps the engine section onto engine settings.
func engineOptions(ec config.EngineConfig) engine.Options {
	return engine.Options{
		InfiniteLoop: ec.InfiniteLoop,
		NaturalDelay: ec.NaturalDelay,
		LoopCount:    ec.LoopCount,
		FastDelay:    ec.FastDelay(),
	}
}

// fanout delivers each message to every notifier in order.
type fanout []engine.Notifier

func (f fanout) Notify(title, body string) {
	for _, n := range f {
		n.Notify(title, body)
	}
}
