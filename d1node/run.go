package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/itohio/d1node/pkg/board"
	"github.com/itohio/d1node/pkg/config"
	"github.com/itohio/d1node/pkg/debuglog"
	"github.com/itohio/d1node/pkg/events"
	"github.com/itohio/d1node/pkg/logging"
	"github.com/itohio/d1node/pkg/metrics"
	"github.com/itohio/d1node/pkg/mqtt"
	"github.com/itohio/d1node/pkg/node"
	"github.com/itohio/d1node/pkg/wifi"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// mockAddress is the station address reported in --mock runs.
var mockAddress = netip.AddrFrom4([4]byte{192, 168, 4, 2})

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop",
		RunE:  runNode,
	}

	f := cmd.Flags()
	f.Bool("mock", false, "Use a simulated board and Wi-Fi station")
	f.StringP("port", "p", "", "Board serial port (overrides board.port)")
	f.Bool("debug", true, "Write diagnostics to the debug channel (overrides debug.enabled)")
	f.String("debug-port", "", "Serial port for debug output, empty for stdout (overrides debug.port)")
	f.Bool("wifi", false, "Join the configured access point (overrides wifi.enabled)")
	f.Bool("mqtt", false, "Publish telemetry over MQTT (overrides mqtt.enabled)")
	f.String("http", "", "Status and metrics listen address (overrides http.listen)")
	f.String("log-level", "", "Global log level: debug, info, warn, error (overrides logging.level)")
	f.Duration("interval", 0, "Loop interval (overrides loop.interval)")

	return cmd
}

// loadConfig reads the configuration file and applies the flags that were
// set explicitly on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed || err != nil {
			return
		}
		v := f.Value.String()
		switch f.Name {
		case "port":
			cfg.Board.Port = v
		case "debug":
			cfg.Debug.Enabled, err = strconv.ParseBool(v)
		case "debug-port":
			cfg.Debug.Port = v
		case "wifi":
			cfg.WiFi.Enabled, err = strconv.ParseBool(v)
		case "mqtt":
			cfg.MQTT.Enabled, err = strconv.ParseBool(v)
		case "http":
			cfg.HTTP.Listen = v
		case "log-level":
			cfg.Logging.Level = v
		case "interval":
			cfg.Loop.Interval, err = time.ParseDuration(v)
		}
		if err != nil {
			err = fmt.Errorf("invalid --%s: %w", f.Name, err)
		}
	})
	return err
}

// openDebug returns the debug sink: a serial port when debug.port is set,
// stdout otherwise.
func openDebug(cfg *config.Config) (io.Writer, func(), error) {
	if !cfg.Debug.Enabled || cfg.Debug.Port == "" {
		return os.Stdout, func() {}, nil
	}
	p, err := debuglog.OpenSerial(cfg.Debug.Port, cfg.Debug.BaudRate)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}

// buildHardware selects the board and station backends.
func buildHardware(cfg *config.Config, mock bool) (board.Board, wifi.Station) {
	if mock {
		station := wifi.NewMock(mockAddress, wifi.Connecting, wifi.Connecting, wifi.Connected)
		return board.NewMock(&cfg.Board.Mock), station
	}
	return board.New(cfg.Board.Port, cfg.Board.BaudRate), wifi.NewHost(cfg.WiFi.Interface, cfg.WiFi.Manage)
}

func buildClient(cfg *config.Config) mqtt.Client {
	if !cfg.MQTT.Enabled {
		return mqtt.Noop{}
	}
	return mqtt.NewPaho(mqtt.Options{
		Broker:          cfg.MQTT.Broker,
		ClientID:        cfg.MQTT.ClientID,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		ConnectTimeout:  cfg.MQTT.ConnectTimeout,
		MaxRetries:      cfg.MQTT.MaxRetries,
		BreakerFailures: cfg.MQTT.BreakerFailures,
		BreakerTimeout:  cfg.MQTT.BreakerTimeout,

		ReconnectInterval: cfg.MQTT.ReconnectInterval,
	})
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Initialize(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Modules: cfg.Logging.Modules,
		Journal: cfg.Logging.Journal,
	})
	logger := logging.GetLogger("main")

	out, closeDebug, err := openDebug(cfg)
	if err != nil {
		return err
	}
	defer closeDebug()

	mock, _ := cmd.Flags().GetBool("mock")
	brd, station := buildHardware(cfg, mock)

	bus := events.New()
	defer bus.Close()

	n, err := node.New(node.Options{
		Config:  cfg,
		Board:   brd,
		Station: station,
		Debug:   debuglog.New(out, cfg.Debug.Enabled),
		MQTT:    buildClient(cfg),
		Bus:     bus,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Warn("Failed to close node", "error", err)
		}
	}()

	m := metrics.New()
	defer m.Attach(bus)()
	if sup := n.Supervisor(); sup != nil {
		m.RegisterWiFiPolls(sup.Polls)
	}

	if cfg.HTTP.Listen != "" {
		srv := metrics.NewServer(cfg.HTTP.Listen, m, func() any { return n.Snapshot() })
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Failed to stop HTTP endpoint", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting", "version", version, "mock", mock, "port", cfg.Board.Port,
		"interval", cfg.Loop.Interval, "wifi", cfg.WiFi.Enabled)

	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Stopped")
	return nil
}
