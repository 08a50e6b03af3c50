package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"relaymesh/internal/app"
)

const configFilename = "relaymesh.toml"

var (
	home        string
	configPath  string
	passphrase  string
	relays      []string
	logLevel    string
	minAcks     int
	metricsAddr string

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:          "relaymesh",
		Short:        "End-to-end encrypted messaging over many relays",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".relaymesh")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg, home)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "key directory (default ~/.relaymesh)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/"+configFilename+" if present)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the key file")
	root.PersistentFlags().StringArrayVar(&relays, "relay", nil, "relay URL, repeatable (adds to the config list)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "ERROR, WARNING, NOTICE, INFO or DEBUG")
	root.PersistentFlags().IntVar(&minAcks, "min-acks", 0, "relays that must acknowledge a send or publish")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		initCmd(),
		pubkeyCmd(),
		exportCmd(),
		importCmd(),
		sendCmd(),
		listenCmd(),
		publishCmd(),
		relaysCmd(),
	)
	return root.Execute()
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*app.Config, error) {
	path := configPath
	if path == "" {
		if p := filepath.Join(home, configFilename); fileExists(p) {
			path = p
		}
	}
	cfg := app.Default()
	if path != "" {
		var err error
		if cfg, err = app.LoadFile(path); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.Relays = append(cfg.Relays, relays...)
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if minAcks != 0 {
		cfg.Publish.MinAcks = minAcks
	}
	if metricsAddr != "" {
		cfg.Metrics.Address = metricsAddr
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requirePassphrase() error {
	if passphrase == "" {
		return errors.New("passphrase required (-p)")
	}
	return nil
}

func requireRelays() error {
	if len(wire.Config.Relays) == 0 {
		return errors.New("no relays configured. use --relay or the config file")
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
