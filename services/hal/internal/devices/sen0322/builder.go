// services/hal/internal/devices/sen0322/builder.go
package sen0322

import (
	"time"

	"github.com/pkg/errors"

	o2 "o2hal/drivers/sen0322"
	"o2hal/errcode"
	"o2hal/services/hal/internal/consts"
	"o2hal/services/hal/internal/registry"
	"o2hal/services/hal/internal/util"
	"o2hal/x/timex"
)

// Register this device type with the registry.
func init() {
	registry.RegisterBuilder("sen0322", builder{})
}

// DefaultPeriod applies when period_ms is absent.
const DefaultPeriod = 5 * time.Second

// Params is the JSON shape of a sen0322 device entry.
type Params struct {
	Addr          int     `json:"addr"`
	Samples       int     `json:"samples"`
	Decoding      string  `json:"decoding"`
	Smoothing     string  `json:"smoothing"`
	Alpha         float64 `json:"alpha"`
	FixedKey      float64 `json:"fixed_key"`
	BeginOnInit   bool    `json:"begin_on_init"`
	KeySettleMS   int     `json:"key_settle_ms"`
	DataSettleMS  int     `json:"data_settle_ms"`
	BeginSettleMS int     `json:"begin_settle_ms"`
	PeriodMS      int     `json:"period_ms"`
}

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	if in.BusRefType != consts.BusI2C || in.BusRefID == "" {
		return registry.BuildOutput{}, errcode.New(errcode.MissingBusRef, "sen0322", nil)
	}
	i2c, ok := in.Buses.ByID(in.BusRefID)
	if !ok {
		return registry.BuildOutput{}, &errcode.E{C: errcode.UnknownBus, Op: "sen0322", Msg: in.BusRefID}
	}
	var p Params
	if err := util.DecodeJSON(in.ParamsJSON, &p); err != nil {
		return registry.BuildOutput{}, errcode.New(errcode.InvalidParams, "sen0322", errors.WithMessage(err, "params"))
	}
	cfg, err := p.config()
	if err != nil {
		return registry.BuildOutput{}, err
	}
	if in.Log != nil {
		cfg.Log = in.Log.WithField("device", in.DeviceID)
	}
	return registry.BuildOutput{
		Adaptor:     newAdaptor(in.DeviceID, in.BusRefID, i2c, cfg),
		BusID:       in.BusRefID,
		SampleEvery: timex.Ms(p.PeriodMS, DefaultPeriod),
	}, nil
}

// config validates p and maps it onto the driver configuration.
func (p Params) config() (o2.Config, error) {
	bad := func(msg string) error {
		return &errcode.E{C: errcode.InvalidParams, Op: "sen0322", Msg: msg}
	}
	// Zero selects the default address.
	if p.Addr != 0 && (p.Addr < 0 || !o2.ValidAddress(uint16(p.Addr))) {
		return o2.Config{}, bad("addr must be 0x70..0x73")
	}
	if p.Samples < 0 || p.Samples > o2.MaxSamples {
		return o2.Config{}, bad("samples must be 1..16")
	}
	if p.Alpha < 0 || p.Alpha > 1 {
		return o2.Config{}, bad("alpha must be in (0,1]")
	}
	if p.FixedKey < 0 {
		return o2.Config{}, bad("fixed_key must be positive")
	}
	dec, ok := o2.ParseDecoding(p.Decoding)
	if !ok {
		return o2.Config{}, bad("unknown decoding " + p.Decoding)
	}
	sm, ok := o2.ParseSmoothing(p.Smoothing)
	if !ok {
		return o2.Config{}, bad("unknown smoothing " + p.Smoothing)
	}
	return o2.Config{
		Address:     uint16(p.Addr),
		Samples:     p.Samples,
		Decoding:    dec,
		Smoothing:   sm,
		Alpha:       p.Alpha,
		FixedKey:    p.FixedKey,
		BeginOnInit: p.BeginOnInit,
		KeySettle:   timex.Ms(p.KeySettleMS, 0),
		DataSettle:  timex.Ms(p.DataSettleMS, 0),
		BeginSettle: timex.Ms(p.BeginSettleMS, 0),
	}, nil
}
