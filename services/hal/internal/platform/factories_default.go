// services/hal/internal/platform/factories_default.go
//go:build !linux

package platform

import "o2hal/services/hal/internal/halcore"

// DefaultI2CFactory falls back to simulated buses where no host I2C exists.
func DefaultI2CFactory() halcore.I2CBusFactory { return DefaultSimFactory() }
