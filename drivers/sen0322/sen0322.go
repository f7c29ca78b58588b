// Package sen0322 provides a driver for the DFRobot SEN0322 I2C oxygen sensor.
//
// One call to Update runs a full measurement cycle:
//
//	key   := read calibration register (abort the cycle on bus error)
//	for N samples: request frame, settle, read, decode, drop out-of-range
//	value := mean(valid) [-> EMA across cycles]
//	rep.Publish(value)
//
// The driver is synchronous and owns no goroutines. All waits go through
// Config.Sleep so hosts and tests can substitute their own delay primitive.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
package sen0322

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	"o2hal/errcode"
	"o2hal/x/mathx"
)

// MaxSamples bounds the samples taken per cycle.
const MaxSamples = 16

// maxSettle bounds any configured settle delay.
const maxSettle = time.Second

// Reporter receives the outcome of each cycle. It is the host's publishing
// and health-status surface.
type Reporter interface {
	Publish(percent float64)
	SetWarning()
	ClearWarning()
	// MarkFailed is called at most once, when Init fails.
	MarkFailed()
}

// State is the driver lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateReady
	StateAcquiring
	StateReporting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateAcquiring:
		return "acquiring"
	case StateReporting:
		return "reporting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x73 if zero.
	Address uint16
	// Samples per cycle, 1..MaxSamples. Default 3.
	Samples   int
	Decoding  Decoding
	Smoothing Smoothing
	// Alpha is the EMA weight in (0,1]. Default 0.3.
	Alpha float64
	// FixedKey, when positive, replaces the register-derived calibration
	// factor. The key register is still read every cycle.
	FixedKey float64
	// BeginOnInit sends the collect-phase command once during Init.
	BeginOnInit bool

	// Settle delays. Defaults: key 50 ms, data 100 ms, begin 100 ms.
	// Values above one second are capped.
	KeySettle   time.Duration
	DataSettle  time.Duration
	BeginSettle time.Duration

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
	// Log defaults to the logrus standard logger.
	Log logrus.FieldLogger
}

// Cycle summarises the most recent Update.
type Cycle struct {
	Key       float64
	Attempts  int
	Valid     int
	Discarded int // out-of-range readings
	Faults    int // sample transactions that failed on the bus
	Mean      float64
	Value     float64 // published value (after smoothing)
}

// Device wraps an I2C connection to a SEN0322.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg   Config
	rep   Reporter
	log   logrus.FieldLogger
	state State
	ema   EMA
	last  Cycle

	buf      [4]byte
	readings [MaxSamples]float64
}

// New creates a driver bound to bus. It does not touch the device.
// A nil Reporter discards all outcomes.
func New(bus drivers.I2C, rep Reporter) Device {
	if rep == nil {
		rep = nopReporter{}
	}
	return Device{
		bus:     bus,
		Address: Address,
		rep:     rep,
	}
}

// Configure applies optional config and defaults. No bus traffic.
func (d *Device) Configure(cfgs ...Config) {
	var c Config
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.Address != 0 {
		d.Address = c.Address
	}
	c.Address = d.Address
	if c.Samples <= 0 {
		c.Samples = 3
	}
	c.Samples = mathx.Clamp(c.Samples, 1, MaxSamples)
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	c.KeySettle = settle(c.KeySettle, 50*time.Millisecond)
	c.DataSettle = settle(c.DataSettle, 100*time.Millisecond)
	c.BeginSettle = settle(c.BeginSettle, 100*time.Millisecond)
	if c.Sleep == nil {
		c.Sleep = time.Sleep
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	d.cfg = c
	d.log = c.Log.WithField("driver", "sen0322")
	d.ema.Alpha = c.Alpha
}

func settle(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return mathx.Clamp(v, 0, maxSettle)
}

func (d *Device) configured() bool { return d.cfg.Sleep != nil }

// Config returns the effective configuration.
func (d *Device) Config() Config { return d.cfg }

func (d *Device) State() State { return d.state }

// LastCycle reports what the most recent Update observed.
func (d *Device) LastCycle() Cycle { return d.last }

// Smoothed returns the EMA state; ok is false until the first published cycle.
func (d *Device) Smoothed() (float64, bool) { return d.ema.Value() }

// Init brings the device to Ready. With BeginOnInit a bus failure moves the
// driver to the terminal Failed state and calls Reporter.MarkFailed.
func (d *Device) Init() error {
	if !d.configured() {
		d.Configure()
	}
	switch d.state {
	case StateFailed:
		return errcode.New(errcode.DeviceFailed, "init", nil)
	case StateUninitialized:
	default:
		return nil
	}
	if d.cfg.BeginOnInit {
		if err := d.writeRegister(RegCollectPhase, cmdRequest); err != nil {
			d.state = StateFailed
			d.log.WithError(err).Error("begin measurement failed; device marked failed")
			d.rep.MarkFailed()
			return errcode.New(errcode.InitFailed, "init", err)
		}
		d.cfg.Sleep(d.cfg.BeginSettle)
	}
	d.state = StateReady
	d.log.WithFields(logrus.Fields{
		"addr":      d.Address,
		"samples":   d.cfg.Samples,
		"decoding":  d.cfg.Decoding.String(),
		"smoothing": d.cfg.Smoothing.String(),
	}).Debug("sen0322 ready")
	return nil
}

// Update runs one measurement cycle and reports through the Reporter. The
// returned error carries an errcode.Code describing why nothing was
// published; it is nil when a value was published.
func (d *Device) Update() error {
	switch d.state {
	case StateFailed:
		return errcode.New(errcode.DeviceFailed, "update", nil)
	case StateUninitialized:
		if err := d.Init(); err != nil {
			return err
		}
	}

	d.state = StateAcquiring
	d.last = Cycle{}
	defer func() { d.state = StateReady }()

	key, err := d.readKey()
	if err != nil {
		d.log.WithError(err).Error("calibration key read failed")
		d.rep.SetWarning()
		return err
	}
	d.last.Key = key

	valid := d.readings[:0]
	for i := 0; i < d.cfg.Samples; i++ {
		d.last.Attempts++
		raw, err := d.acquire()
		if err != nil {
			d.last.Faults++
			d.log.WithError(err).Warn("oxygen sample skipped")
			continue
		}
		v, err := Decode(d.cfg.Decoding, raw, key)
		d.log.Debugf("raw % X -> %.2f%%", raw, v)
		if err != nil {
			d.last.Discarded++
			d.log.Warnf("discarded invalid reading: %.2f%%", v)
			continue
		}
		valid = append(valid, v)
	}
	d.last.Valid = len(valid)

	mean, ok := mathx.Mean(valid)
	if !ok {
		d.rep.SetWarning()
		return &errcode.E{C: errcode.NoValidSamples, Op: "update"}
	}

	d.state = StateReporting
	out := mean
	if d.cfg.Smoothing == SmoothingEMA {
		out = d.ema.Update(mean)
	}
	d.last.Mean, d.last.Value = mean, out
	d.rep.Publish(out)
	d.rep.ClearWarning()
	return nil
}

// readKey requests and reads the calibration register.
func (d *Device) readKey() (float64, error) {
	if err := d.writeRegister(RegKey, cmdRequest); err != nil {
		return 0, err
	}
	d.cfg.Sleep(d.cfg.KeySettle)
	b, err := d.readRegister(RegKey)
	if err != nil {
		return 0, err
	}
	key := KeyFactor(b)
	if d.cfg.FixedKey > 0 {
		key = d.cfg.FixedKey
	}
	d.log.Debugf("calibration key: 0x%02X -> %.5f", b, key)
	return key, nil
}

// acquire requests one oxygen frame and reads it raw.
func (d *Device) acquire() ([]byte, error) {
	if err := d.writeRegister(RegOxygenData, cmdRequest); err != nil {
		return nil, err
	}
	d.cfg.Sleep(d.cfg.DataSettle)
	return d.readRaw(d.cfg.Decoding.Width())
}

// ---- Register transport ----

func (d *Device) writeRegister(reg, val byte) error {
	d.buf[0], d.buf[1] = reg, val
	if err := d.bus.Tx(d.Address, d.buf[:2], nil); err != nil {
		return errcode.New(errcode.TransportWrite, "write_register", errors.Wrapf(err, "reg 0x%02X", reg))
	}
	return nil
}

func (d *Device) readRegister(reg byte) (byte, error) {
	d.buf[0] = reg
	if err := d.bus.Tx(d.Address, d.buf[:1], d.buf[1:2]); err != nil {
		return 0, errcode.New(errcode.TransportRead, "read_register", errors.Wrapf(err, "reg 0x%02X", reg))
	}
	return d.buf[1], nil
}

func (d *Device) readRaw(n int) ([]byte, error) {
	r := d.buf[:n]
	if err := d.bus.Tx(d.Address, nil, r); err != nil {
		return nil, errcode.New(errcode.TransportRead, "read_raw", errors.Wrapf(err, "%d bytes", n))
	}
	return r, nil
}

type nopReporter struct{}

func (nopReporter) Publish(float64) {}
func (nopReporter) SetWarning()     {}
func (nopReporter) ClearWarning()   {}
func (nopReporter) MarkFailed()     {}
