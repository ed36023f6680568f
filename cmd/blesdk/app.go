package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesdk/internal/device/bluez"
	goble "github.com/srg/blesdk/internal/device/go-ble"
	"github.com/srg/blesdk/internal/permission"
	"github.com/srg/blesdk/pkg/ble"
	"github.com/srg/blesdk/pkg/config"
	"golang.org/x/term"
)

// platform is the radio stack a command runs against
type platform struct {
	radio ble.Radio
	// observer is nil when power-state changes cannot be observed
	observer ble.StateObserver
	close    func() error
}

// openPlatform is replaceable in tests
var openPlatform = openSystemPlatform

// openSystemPlatform opens the go-ble radio and, where BlueZ answers on the
// system bus, uses the adapter for power state.
func openSystemPlatform(cfg *config.Config, logger *logrus.Logger) (*platform, error) {
	opts := []goble.Option{
		goble.WithLogger(logger),
		goble.WithAdapter(cfg.Adapter),
		goble.WithConnectTimeout(cfg.ConnectTimeout),
	}

	p := &platform{}
	adapter, err := bluez.Open(cfg.Adapter, logger)
	if err != nil {
		logger.WithError(err).Debug("BlueZ unavailable, radio state changes will not be reported")
		adapter = nil
	} else {
		opts = append(opts, goble.WithPowerSource(adapter))
		p.observer = adapter
	}

	radio := goble.NewRadio(opts...)
	p.radio = radio
	p.close = func() error {
		err := radio.Close()
		if adapter != nil {
			err = errors.Join(err, adapter.Close())
		}
		return err
	}
	return p, nil
}

// permissionSource grants the configured permissions, or asks the OS when none are listed
func permissionSource(cfg *config.Config, logger *logrus.Logger) permission.Source {
	if len(cfg.Permissions) > 0 {
		return permission.NewStaticSource(cfg.Permissions...)
	}
	return permission.NewCapabilitySource(logger)
}

// app bundles what every command needs
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	platform *platform
	manager  *ble.Manager
}

// newApp loads the configuration, lets the command override it from flags and
// builds the manager on top of the platform radio.
func newApp(cmd *cobra.Command, override func(cfg *config.Config)) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// Arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	plat, err := openPlatform(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open bluetooth: %w", err)
	}

	checker := permission.NewChecker(permissionSource(cfg, logger), cfg.PlatformLevel, logger)
	opts := []ble.Option{
		ble.WithLogger(logger),
		ble.WithPermissions(checker),
	}
	if plat.observer != nil {
		opts = append(opts, ble.WithStateObserver(plat.observer))
	}

	manager, err := ble.NewManager(plat.radio, opts...)
	if err != nil {
		_ = plat.close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, platform: plat, manager: manager}, nil
}

// Close stops the manager and releases the radio
func (a *app) Close() {
	a.manager.Close()
	if err := a.platform.close(); err != nil {
		a.logger.WithError(err).Debug("Failed to release bluetooth")
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
