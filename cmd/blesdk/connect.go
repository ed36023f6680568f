package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesdk/pkg/ble"
	"github.com/srg/blesdk/pkg/config"
)

type connectOptions struct {
	timeout time.Duration
	hold    time.Duration
}

type stateChange struct {
	deviceID string
	state    ble.ConnectionState
}

func newConnectCmd() *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect <address>",
		Short: "Connect to a BLE device",
		Long: `Connect to a Bluetooth Low Energy device and hold the link.

The link is held until Ctrl+C, until --hold elapses or until the peer drops it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, opts, args[0])
		},
	}

	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 0, "Connection timeout (default: connect_timeout from config)")
	cmd.Flags().DurationVar(&opts.hold, "hold", 0, "Disconnect after this long (0 holds until Ctrl+C)")

	return cmd
}

func runConnect(cmd *cobra.Command, opts *connectOptions, address string) error {
	a, err := newApp(cmd, func(cfg *config.Config) {
		if opts.timeout > 0 {
			cfg.ConnectTimeout = opts.timeout
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	out := cmd.OutOrStdout()
	states := ble.NewStream[stateChange](a.cfg.EventBuffer)
	defer states.Discard()
	a.manager.OnConnectionStateChange(func(id string, state ble.ConnectionState) {
		states.Push(stateChange{deviceID: id, state: state})
	})

	result := make(chan error, 1)
	a.manager.Connect(address, func(_ ble.Gatt, err error) {
		select {
		case result <- err:
		default:
		}
	})

	fmt.Fprintf(out, "Connecting to %s...\n", address)
	var progress *ProgressPrinter
	if isTerminal(out) {
		progress = NewProgressPrinter(out, "Connecting to "+address, "Waiting")
		progress.Start()
		defer progress.Stop()
	}

	select {
	case <-ctx.Done():
		a.manager.Disconnect()
		return ctx.Err()
	case err := <-result:
		if progress != nil {
			progress.Stop()
		}
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", address, err)
		}
	}
	fmt.Fprintf(out, "%s %s\n", color.GreenString("Connected"), address)

	hold := ctx
	if opts.hold > 0 {
		var cancel context.CancelFunc
		hold, cancel = context.WithTimeout(ctx, opts.hold)
		defer cancel()
	}

	for {
		select {
		case <-hold.Done():
			a.manager.Disconnect()
			fmt.Fprintf(out, "Disconnected from %s\n", address)
			return nil

		case change, ok := <-states.C():
			if !ok {
				return nil
			}
			a.logger.WithFields(logrus.Fields{
				"device": change.deviceID,
				"state":  change.state,
			}).Debug("Connection state changed")
			if change.state == ble.ConnectionDisconnected {
				fmt.Fprintf(out, "%s %s\n", color.RedString("Lost"), address)
				return fmt.Errorf("%s: %w", address, ErrConnectionLost)
			}
		}
	}
}
