//go:build !linux

package permission

import "github.com/sirupsen/logrus"

// CapabilitySource grants everything on platforms without a capability model;
// the OS prompts for Bluetooth access itself.
type CapabilitySource struct{}

// NewCapabilitySource creates a source granting all permissions
func NewCapabilitySource(_ *logrus.Logger) *CapabilitySource {
	return &CapabilitySource{}
}

func (s *CapabilitySource) Granted(Permission) bool { return true }
