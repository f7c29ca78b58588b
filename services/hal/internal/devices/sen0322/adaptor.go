// services/hal/internal/devices/sen0322/adaptor.go
package sen0322

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	o2 "o2hal/drivers/sen0322"
	"o2hal/errcode"
	"o2hal/services/hal/internal/consts"
	"o2hal/services/hal/internal/halcore"
	"o2hal/types"
	"o2hal/x/timex"
)

// adaptor runs one driver cycle per HAL measurement. It is the driver's
// Reporter: the published value is picked up by Collect.
type adaptor struct {
	id    string
	busID string
	i2c   drivers.I2C
	cfg   o2.Config
	log   logrus.FieldLogger

	mu  sync.Mutex
	dev o2.Device

	// Reporter state. Only touched from inside dev.Update/Init, under mu.
	value   float64
	fresh   bool
	warning bool
}

func newAdaptor(id, busID string, i2c drivers.I2C, cfg o2.Config) *adaptor {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	a := &adaptor{id: id, busID: busID, i2c: i2c, cfg: cfg, log: cfg.Log}
	a.reset()
	return a
}

// reset re-creates the driver instance, clearing smoothing and Failed state.
// No bus traffic; Init runs lazily on the next cycle.
func (a *adaptor) reset() {
	a.dev = o2.New(a.i2c, a)
	a.dev.Configure(a.cfg)
	a.value, a.fresh, a.warning = 0, false, false
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []halcore.CapInfo {
	c := a.dev.Config()
	info := types.OxygenInfo{
		Sensor:    "sen0322",
		Addr:      a.dev.Address,
		Bus:       a.busID,
		Unit:      "%vol",
		Decoding:  c.Decoding.String(),
		Smoothing: c.Smoothing.String(),
		Samples:   c.Samples,
	}
	if c.Smoothing == o2.SmoothingEMA {
		info.Alpha = c.Alpha
	}
	return []halcore.CapInfo{{Kind: consts.KindOxygen, Info: info}}
}

// Trigger has nothing to start: the sensor is polled synchronously in Collect.
func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	return 0, nil
}

func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fresh = false
	if err := a.dev.Update(); err != nil {
		return nil, err
	}
	if !a.fresh {
		return nil, &errcode.E{C: errcode.NoValidSamples, Op: "collect"}
	}
	c := a.dev.LastCycle()
	ts := timex.NowMs()
	return halcore.Sample{{
		Kind: consts.KindOxygen,
		Payload: types.OxygenValue{
			Percent: a.value,
			Samples: c.Valid,
			Key:     c.Key,
			TSms:    ts,
		},
		TsMs: ts,
	}}, nil
}

func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	if kind != consts.KindOxygen {
		return nil, halcore.ErrUnsupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch method {
	case consts.CtrlReset:
		a.reset()
		a.log.WithField("device", a.id).Info("driver instance re-created")
		return types.OKReply{OK: true}, nil
	case consts.CtrlStatus:
		c := a.dev.LastCycle()
		st := types.OxygenStatus{
			State:     a.dev.State().String(),
			Warning:   a.warning,
			Attempts:  c.Attempts,
			Valid:     c.Valid,
			Discarded: c.Discarded,
			Faults:    c.Faults,
			Key:       c.Key,
		}
		if v, ok := a.dev.Smoothed(); ok {
			st.Smoothed = v
		}
		return st, nil
	}
	return nil, halcore.ErrUnsupported
}

// ---- o2.Reporter ----

func (a *adaptor) Publish(percent float64) {
	a.value = percent
	a.fresh = true
}

func (a *adaptor) SetWarning()   { a.warning = true }
func (a *adaptor) ClearWarning() { a.warning = false }

// MarkFailed only logs; the service learns of the failure from the
// init_failed error returned through Collect.
func (a *adaptor) MarkFailed() {
	a.warning = true
	a.log.WithField("device", a.id).Error("sen0322 marked failed")
}
