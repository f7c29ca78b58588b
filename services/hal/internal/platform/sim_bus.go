// services/hal/internal/platform/sim_bus.go
package platform

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"

	o2 "o2hal/drivers/sen0322"
	"o2hal/services/hal/internal/halcore"
)

// SimBus routes transactions to simulated devices by address. Addresses with
// nothing attached NACK.
type SimBus struct {
	mu   sync.RWMutex
	devs map[uint16]drivers.I2C
}

func NewSimBus() *SimBus { return &SimBus{devs: map[uint16]drivers.I2C{}} }

// Attach places dev at addr, replacing any previous device.
func (b *SimBus) Attach(addr uint16, dev drivers.I2C) {
	b.mu.Lock()
	b.devs[addr] = dev
	b.mu.Unlock()
}

func (b *SimBus) Tx(addr uint16, w, r []byte) error {
	b.mu.RLock()
	dev, ok := b.devs[addr]
	b.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrSimNack, "addr 0x%02X", addr)
	}
	return dev.Tx(addr, w, r)
}

// SimFactory serves SimBus instances by id.
type SimFactory struct {
	buses map[string]*SimBus
}

// NewSimFactory creates empty simulated buses with the given ids.
func NewSimFactory(ids ...string) *SimFactory {
	f := &SimFactory{buses: map[string]*SimBus{}}
	for _, id := range ids {
		f.buses[id] = NewSimBus()
	}
	return f
}

func (f *SimFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	if !ok {
		return nil, false
	}
	return b, true
}

// Bus returns the concrete simulated bus for id.
func (f *SimFactory) Bus(id string) (*SimBus, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// IDs lists the bus ids in sorted order.
func (f *SimFactory) IDs() []string {
	out := make([]string, 0, len(f.buses))
	for id := range f.buses {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DefaultSimFactory provides "i2c0" and "i2c1", each with a SEN0322 at the
// factory address reading ambient air.
func DefaultSimFactory() halcore.I2CBusFactory {
	f := NewSimFactory("i2c0", "i2c1")
	for _, b := range f.buses {
		b.Attach(o2.Address, NewSimSEN0322(20.9, 0))
	}
	return f
}
