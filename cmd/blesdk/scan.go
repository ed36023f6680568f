package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesdk/pkg/ble"
	"github.com/srg/blesdk/pkg/config"
)

const (
	phaseStarting   = "Starting"
	phaseScanning   = "Scanning"
	phaseProcessing = "Processing results"
)

type scanOptions struct {
	duration   time.Duration
	format     string
	allow      []string
	block      []string
	namePrefix string
	restart    bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for Bluetooth Low Energy devices in the vicinity.

The scan stops by itself once the duration elapses (scan_timeout from the
config, 10s by default) or on Ctrl+C, then prints every device seen in
discovery order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format (table, json) (default: output_format from config)")
	cmd.Flags().StringSliceVar(&opts.allow, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&opts.block, "block", nil, "Hide devices with these addresses")
	cmd.Flags().StringVar(&opts.namePrefix, "name-prefix", "", "Only show devices whose name starts with this prefix")
	cmd.Flags().BoolVar(&opts.restart, "restart", false, "Replace a scan that is already running")

	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	a, err := newApp(cmd, func(cfg *config.Config) {
		if opts.duration > 0 {
			cfg.ScanTimeout = opts.duration
		}
		if opts.format != "" {
			cfg.OutputFormat = opts.format
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	list := ble.NewDeviceList(&ble.DeviceFilter{
		AllowList:  opts.allow,
		BlockList:  opts.block,
		NamePrefix: opts.namePrefix,
	})
	events, forward := ble.ScanEvents(a.cfg.EventBuffer)
	cb := discoveryCallback(list, forward, a.logger)

	out := cmd.OutOrStdout()
	phase := func(string) {}
	if isTerminal(out) {
		progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", phaseStarting, a.cfg.ScanTimeout, phaseProcessing)
		progress.Start()
		defer progress.Stop()
		phase = progress.Callback()
	}

	if opts.restart {
		a.manager.RestartScan(a.cfg.ScanTimeout, cb)
	} else {
		a.manager.StartScan(a.cfg.ScanTimeout, cb)
	}

	if err := collectScan(ctx, a.manager, events, phase, a.logger); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return renderDevices(out, list.Devices(), a.cfg.OutputFormat)
}

// discoveryCallback applies found devices to list as they arrive and forwards
// the lifecycle events. Discoveries never pass through the bounded stream.
func discoveryCallback(list *ble.DeviceList, forward ble.ScanCallback, logger *logrus.Logger) ble.ScanCallback {
	return func(state ble.ScanState) {
		if state.Kind != ble.ScanFoundDevice {
			forward(state)
			return
		}
		if list.Apply(state) {
			logger.WithFields(logrus.Fields{
				"device": state.Device.ID,
				"rssi":   state.Device.RSSI,
			}).Debug("Device discovered")
		}
	}
}

// collectScan waits for the scan to report Idle or an error. Cancelling ctx
// stops the scan; the devices seen so far are kept.
func collectScan(ctx context.Context, m *ble.Manager, events *ble.Stream[ble.ScanState], phase func(string), logger *logrus.Logger) error {
	done := ctx.Done()
	defer func() {
		if n := events.Dropped(); n > 0 {
			logger.WithField("dropped", n).Warn("Scan events dropped, consumer too slow")
		}
	}()

	for {
		select {
		case <-done:
			// Idle arrives through the scan callback and closes the stream
			m.StopScan(nil)
			done = nil

		case state, ok := <-events.C():
			if !ok {
				return nil
			}
			switch state.Kind {
			case ble.ScanScanning:
				phase(phaseScanning)
			case ble.ScanError:
				phase(phaseProcessing)
				if state.Err == nil {
					return errors.New("unknown scan error")
				}
				return state.Err
			case ble.ScanIdle:
				phase(phaseProcessing)
				return nil
			}
		}
	}
}

func renderDevices(w io.Writer, devices []ble.DiscoveredDevice, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	default:
		return renderDevicesTable(w, devices)
	}
}

func renderDevicesTable(w io.Writer, devices []ble.DiscoveredDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSEEN\tLAST SEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	for _, d := range devices {
		name := d.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		connectable := color.RedString("no")
		if d.Connectable {
			connectable = color.GreenString("yes")
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)

		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%d\t%s ago\n",
			name, d.ID, d.RSSI, connectable, d.Seen, lastSeen)
	}

	return tw.Flush()
}
