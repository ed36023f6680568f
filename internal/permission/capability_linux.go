//go:build linux

package permission

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// CapabilitySource maps BLE permissions to Linux capabilities. Raw HCI access
// needs CAP_NET_ADMIN and CAP_NET_RAW in the effective set; location has no
// equivalent and is always granted.
type CapabilitySource struct {
	logger *logrus.Logger
	// capget is replaceable in tests
	capget func() (uint64, error)
}

// NewCapabilitySource creates a source reading the calling process' capabilities
func NewCapabilitySource(logger *logrus.Logger) *CapabilitySource {
	if logger == nil {
		logger = logrus.New()
	}
	return &CapabilitySource{logger: logger, capget: effectiveCapabilities}
}

func (s *CapabilitySource) Granted(p Permission) bool {
	switch p {
	case BluetoothScan, BluetoothConnect:
		eff, err := s.capget()
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read process capabilities")
			return false
		}
		return hasCap(eff, unix.CAP_NET_ADMIN) && hasCap(eff, unix.CAP_NET_RAW)
	case FineLocation, CoarseLocation:
		return true
	default:
		return false
	}
}

func hasCap(set uint64, capability int) bool {
	return set&(1<<uint(capability)) != 0
}

func effectiveCapabilities() (uint64, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return 0, err
	}
	return uint64(data[0].Effective) | uint64(data[1].Effective)<<32, nil
}
