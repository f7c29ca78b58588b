// services/hal/internal/platform/factories_linux.go
//go:build linux

package platform

import "o2hal/services/hal/internal/halcore"

// DefaultI2CFactory opens /dev/i2c-N through periph on first use.
func DefaultI2CFactory() halcore.I2CBusFactory { return NewPeriphFactory(nil) }
