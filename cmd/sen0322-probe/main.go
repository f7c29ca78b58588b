// Command sen0322-probe runs measurement cycles directly against a SEN0322,
// bypassing the HAL, and logs each outcome. Useful for bring-up and for
// checking wiring and address jumpers.
package main

import (
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	o2 "o2hal/drivers/sen0322"
	"o2hal/errcode"
	"o2hal/services/hal"
)

var (
	busName    = flag.String("bus", "", "periph I2C bus name (\"\" = first, \"1\", \"/dev/i2c-1\")")
	addr       = flag.Uint("addr", uint(o2.Address), "7-bit device address (0x70..0x73)")
	cycles     = flag.Int("cycles", 5, "measurement cycles to run")
	interval   = flag.Duration("interval", time.Second, "pause between cycles")
	samples    = flag.Int("samples", 3, "samples per cycle")
	decoding   = flag.String("decoding", "fixed_point", "frame decoding (fixed_point|raw16)")
	smoothing  = flag.String("smoothing", "ema", "cross-cycle smoothing (ema|none)")
	begin      = flag.Bool("begin", false, "send the collect-phase command on init")
	useSim     = flag.Bool("sim", false, "probe a simulated sensor instead of hardware")
	simPercent = flag.Float64("sim-percent", 20.9, "oxygen level reported by the simulator")
	verbose    = flag.Bool("v", false, "debug logging (raw frames, key)")
)

// probeReporter logs what the driver reports.
type probeReporter struct{ warned bool }

func (p *probeReporter) Publish(v float64) { log.WithField("percent", v).Info("oxygen") }
func (p *probeReporter) SetWarning()       { p.warned = true }
func (p *probeReporter) ClearWarning()     { p.warned = false }
func (p *probeReporter) MarkFailed()       { log.Error("sensor marked failed") }

func main() {
	flag.Parse()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	dec, ok := o2.ParseDecoding(*decoding)
	if !ok {
		log.Fatalf("unknown decoding %q", *decoding)
	}
	sm, ok := o2.ParseSmoothing(*smoothing)
	if !ok {
		log.Fatalf("unknown smoothing %q", *smoothing)
	}
	if *addr > 0xFFFF || !o2.ValidAddress(uint16(*addr)) {
		log.Fatalf("address 0x%02X outside 0x70..0x73", *addr)
	}

	var i2c drivers.I2C
	if *useSim {
		s := hal.NewSimSEN0322(*simPercent, 0)
		s.SetRaw16(dec == o2.DecodeRaw16)
		i2c = s
	} else {
		b, err := hal.OpenI2C(*busName)
		if err != nil {
			log.WithError(err).Fatal("open bus")
		}
		defer b.Close()
		i2c = b
	}

	rep := &probeReporter{}
	dev := o2.New(i2c, rep)
	dev.Configure(o2.Config{
		Address:     uint16(*addr),
		Samples:     *samples,
		Decoding:    dec,
		Smoothing:   sm,
		BeginOnInit: *begin,
	})

	failures := 0
	for i := 1; i <= *cycles; i++ {
		err := dev.Update()
		c := dev.LastCycle()
		entry := log.WithFields(log.Fields{
			"cycle":     i,
			"key":       c.Key,
			"valid":     c.Valid,
			"discarded": c.Discarded,
			"faults":    c.Faults,
			"warning":   rep.warned,
		})
		if err != nil {
			failures++
			entry.WithField("code", errcode.Of(err)).WithError(err).Warn("cycle produced no value")
			if dev.State() == o2.StateFailed {
				break
			}
		} else {
			entry.WithField("mean", c.Mean).Info("cycle ok")
		}
		if i < *cycles {
			time.Sleep(*interval)
		}
	}

	if failures > 0 {
		log.Warnf("%d of %d cycles failed", failures, *cycles)
		os.Exit(1)
	}
}
