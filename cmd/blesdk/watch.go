package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blesdk/pkg/ble"
)

type watchOptions struct {
	count int
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the Bluetooth radio power state",
		Long: `Print the current Bluetooth power state, then every on/off transition
until Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 0, "Exit after this many transitions (0 watches until Ctrl+C)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bluetooth is %s\n", onOff(a.manager.IsBluetoothEnabled()))

	if a.platform.observer == nil {
		fmt.Fprintln(out, "Radio state changes are not available on this system")
		return nil
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	states, cb := ble.BluetoothStates(a.cfg.EventBuffer)
	defer states.Discard()
	a.manager.SetBluetoothStateCallback(cb)

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case enabled, ok := <-states.C():
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "%s Bluetooth turned %s\n", time.Now().Format("15:04:05"), onOff(enabled))
			seen++
			if opts.count > 0 && seen >= opts.count {
				return nil
			}
		}
	}
}

func onOff(enabled bool) string {
	if enabled {
		return color.GreenString("on")
	}
	return color.RedString("off")
}
