// Package permission answers whether the process may scan for and connect to BLE devices.
package permission

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Permission names a platform permission
type Permission string

const (
	BluetoothScan    Permission = "BLUETOOTH_SCAN"
	BluetoothConnect Permission = "BLUETOOTH_CONNECT"
	FineLocation     Permission = "ACCESS_FINE_LOCATION"
	CoarseLocation   Permission = "ACCESS_COARSE_LOCATION"
)

// LevelS is the first platform level that gates scanning and connecting behind
// dedicated runtime permissions. Below it both are implied by the install-time grant.
const LevelS = 31

// Source answers whether a single permission is granted
type Source interface {
	Granted(p Permission) bool
}

// SourceFunc adapts a function to a Source
type SourceFunc func(p Permission) bool

func (f SourceFunc) Granted(p Permission) bool { return f(p) }

// AllGranted is a Source granting everything
var AllGranted Source = SourceFunc(func(Permission) bool { return true })

// StaticSource grants a fixed set of permissions
type StaticSource map[Permission]bool

// NewStaticSource creates a StaticSource from permission names (case-insensitive)
func NewStaticSource(names ...string) StaticSource {
	s := make(StaticSource, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		s[Permission(n)] = true
	}
	return s
}

func (s StaticSource) Granted(p Permission) bool { return s[p] }

// Names returns the granted permissions sorted by name
func (s StaticSource) Names() []string {
	out := make([]string, 0, len(s))
	for p, ok := range s {
		if ok {
			out = append(out, string(p))
		}
	}
	sort.Strings(out)
	return out
}

// Checker evaluates the BLE permission predicates against a Source
type Checker struct {
	source Source
	level  int
	logger *logrus.Logger
}

// NewChecker creates a Checker for the given platform level
func NewChecker(source Source, level int, logger *logrus.Logger) *Checker {
	if source == nil {
		source = AllGranted
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Checker{source: source, level: level, logger: logger}
}

// HasBluetoothScan reports whether scanning is permitted
func (c *Checker) HasBluetoothScan() bool {
	if c.level < LevelS {
		return true
	}
	return c.has(BluetoothScan)
}

// HasBluetoothConnect reports whether connecting is permitted
func (c *Checker) HasBluetoothConnect() bool {
	if c.level < LevelS {
		return true
	}
	return c.has(BluetoothConnect)
}

// HasLocationPermissions reports whether location access is granted. Fine location
// is always required; coarse location additionally from LevelS on.
func (c *Checker) HasLocationPermissions() bool {
	fine := c.has(FineLocation)
	coarse := true
	if c.level >= LevelS {
		coarse = c.has(CoarseLocation)
	}
	return fine && coarse
}

func (c *Checker) has(p Permission) bool {
	granted := c.source.Granted(p)
	if !granted {
		c.logger.WithFields(logrus.Fields{
			"permission": p,
			"level":      c.level,
		}).Debug("Permission not granted")
	}
	return granted
}
