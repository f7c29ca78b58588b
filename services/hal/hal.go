// Package hal hosts device drivers behind the bus. Devices are built from the
// retained "config/hal" document; readings appear under
// hal/capability/<kind>/<id>/{info,state,value} and controls are requests on
// hal/capability/<kind>/<id>/control/<verb>.
package hal

import (
	"context"

	"github.com/sirupsen/logrus"

	"o2hal/bus"
	"o2hal/services/hal/internal/halcore"
	"o2hal/services/hal/internal/platform"
	"o2hal/services/hal/internal/registry"
	"o2hal/services/hal/internal/service"

	// Device builders register themselves with the registry.
	_ "o2hal/services/hal/internal/devices/sen0322"
)

// I2CBusFactory resolves bus ids ("i2c0", ...) to I2C transports.
type I2CBusFactory = halcore.I2CBusFactory

// Simulation surface, used by the daemon's -sim mode and by tests.
type (
	SimFactory = platform.SimFactory
	SimBus     = platform.SimBus
	SimSEN0322 = platform.SimSEN0322
)

var (
	NewSimFactory     = platform.NewSimFactory
	NewSimSEN0322     = platform.NewSimSEN0322
	DefaultSimFactory = platform.DefaultSimFactory
	ErrSimNack        = platform.ErrSimNack
)

// PeriphFactory serves Linux I2C buses through periph.io.
type PeriphFactory = platform.PeriphFactory

var (
	NewPeriphFactory = platform.NewPeriphFactory
	OpenI2C          = platform.OpenI2C
)

// DefaultI2CFactory is periph on Linux and the simulator elsewhere.
func DefaultI2CFactory() I2CBusFactory { return platform.DefaultI2CFactory() }

// DeviceTypes lists the device types a HAL config may name.
func DeviceTypes() []string { return registry.Types() }

// Run serves the HAL on conn until ctx is cancelled. A nil buses uses
// DefaultI2CFactory.
func Run(ctx context.Context, conn *bus.Connection, buses I2CBusFactory, log logrus.FieldLogger) {
	if buses == nil {
		buses = DefaultI2CFactory()
	}
	service.New(conn, buses, log).Run(ctx)
}
