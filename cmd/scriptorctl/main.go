// scriptorctl controls a running scriptor daemon over its control socket.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"scriptor/internal/config"
	"scriptor/internal/ipc"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

var (
	configPath string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:           "scriptorctl",
	Short:         "Control a running scriptor daemon",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to config file, used to find the socket")
	pf.StringVar(&socketPath, "socket", "", "control socket (overrides the config)")

	rootCmd.AddCommand(
		statusCmd,
		pingCmd,
		recordCmd,
		stopCmd,
		runCmd,
		haltCmd,
		toggleCmd,
		setCmd,
		loadCmd,
		saveCmd,
		historyCmd,
		eventsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

// resolveSocket returns --socket, else the socket named by the config.
func resolveSocket() (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if !cfg.IPC.Enabled {
		return "", fmt.Errorf("the control socket is disabled in %s", path)
	}
	return cfg.IPC.SocketPath, nil
}

// connect dials the daemon. The caller closes the client.
func connect() (*ipc.IPCClient, error) {
	socket, err := resolveSocket()
	if err != nil {
		return nil, err
	}
	cfg := ipc.DefaultClientConfig(socket)
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			return nil, fmt.Errorf("%w (start it with: scriptor daemon)", ipc.ErrDaemonNotRunning)
		}
		return nil, fmt.Errorf("cannot connect to daemon: %w", err)
	}
	return client, nil
}

// withClient connects, runs fn and closes the connection.
func withClient(fn func(*ipc.IPCClient) error) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}
