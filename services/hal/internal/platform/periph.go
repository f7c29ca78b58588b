// services/hal/internal/platform/periph.go
package platform

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

var hostInit struct {
	once sync.Once
	err  error
}

// InitHost loads periph host drivers once per process.
func InitHost() error {
	hostInit.once.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInit.err = errors.Wrap(err, "periph host init")
		}
	})
	return hostInit.err
}

// OpenI2C opens a host I2C bus by periph name ("" for the first, "1",
// "/dev/i2c-1", ...). The periph bus satisfies drivers.I2C directly.
func OpenI2C(name string) (i2c.BusCloser, error) {
	if err := InitHost(); err != nil {
		return nil, err
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open i2c %q", name)
	}
	return b, nil
}

// PeriphFactory opens host buses lazily. Ids of the form "i2cN" map to
// periph bus "N"; any other id is passed to periph unchanged.
type PeriphFactory struct {
	log logrus.FieldLogger

	mu    sync.Mutex
	buses map[string]i2c.BusCloser
}

func NewPeriphFactory(log logrus.FieldLogger) *PeriphFactory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PeriphFactory{log: log.WithField("component", "periph"), buses: map[string]i2c.BusCloser{}}
}

func (f *PeriphFactory) ByID(id string) (drivers.I2C, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buses[id]; ok {
		return b, true
	}
	b, err := OpenI2C(periphName(id))
	if err != nil {
		f.log.WithError(err).WithField("bus", id).Error("i2c bus unavailable")
		return nil, false
	}
	f.buses[id] = b
	f.log.WithField("bus", id).Infof("opened %s", b)
	return b, true
}

// Close releases every opened bus.
func (f *PeriphFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for id, b := range f.buses {
		if err := b.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", id)
		}
		delete(f.buses, id)
	}
	return first
}

func periphName(id string) string {
	if n, ok := strings.CutPrefix(id, "i2c"); ok && n != "" && strings.Trim(n, "0123456789") == "" {
		return n
	}
	return id
}
