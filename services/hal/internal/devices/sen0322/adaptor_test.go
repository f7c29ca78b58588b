// services/hal/internal/devices/sen0322/adaptor_test.go

package sen0322

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	o2 "o2hal/drivers/sen0322"
	"o2hal/errcode"
	"o2hal/services/hal/internal/consts"
	"o2hal/services/hal/internal/halcore"
	"o2hal/services/hal/internal/platform"
	"o2hal/services/hal/internal/registry"
	"o2hal/types"
)

func nosleep(time.Duration) {}

func newTestAdaptor(t *testing.T, sim *platform.SimSEN0322, cfg o2.Config) *adaptor {
	t.Helper()
	log, _ := test.NewNullLogger()
	cfg.Sleep = nosleep
	cfg.Log = log
	return newAdaptor("o2", "i2c0", sim, cfg)
}

func TestBuilder_Defaults(t *testing.T) {
	f := platform.NewSimFactory("i2c0")
	b, ok := registry.Lookup("sen0322")
	if !ok {
		t.Fatal("sen0322 builder not registered")
	}
	out, err := b.Build(registry.BuildInput{
		Ctx:        context.Background(),
		Buses:      f,
		DeviceID:   "o2-main",
		Type:       "sen0322",
		BusRefType: "i2c",
		BusRefID:   "i2c0",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.BusID != "i2c0" || out.SampleEvery != DefaultPeriod {
		t.Fatalf("out = %+v", out)
	}
	caps := out.Adaptor.Capabilities()
	if len(caps) != 1 || caps[0].Kind != consts.KindOxygen {
		t.Fatalf("caps = %+v", caps)
	}
	info, ok := caps[0].Info.(types.OxygenInfo)
	if !ok {
		t.Fatalf("info type %T", caps[0].Info)
	}
	if info.Addr != 0x73 || info.Samples != 3 || info.Decoding != "fixed_point" || info.Smoothing != "ema" || info.Alpha != 0.3 {
		t.Fatalf("info = %+v", info)
	}
}

func TestBuilder_Params(t *testing.T) {
	f := platform.NewSimFactory("i2c1")
	out, err := builder{}.Build(registry.BuildInput{
		Buses:    f,
		DeviceID: "o2",
		ParamsJSON: map[string]any{
			"addr":            0x70,
			"samples":         10,
			"decoding":        "raw16",
			"smoothing":       "none",
			"fixed_key":       o2.FieldKey,
			"data_settle_ms":  50000,
			"begin_settle_ms": 20,
			"period_ms":       1000,
		},
		BusRefType: "i2c",
		BusRefID:   "i2c1",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ad := out.Adaptor.(*adaptor)
	c := ad.dev.Config()
	if ad.dev.Address != 0x70 || c.Samples != 10 || c.Decoding != o2.DecodeRaw16 || c.Smoothing != o2.SmoothingNone {
		t.Fatalf("config = %+v", c)
	}
	if c.DataSettle != time.Second {
		t.Fatalf("data settle = %v, want capped", c.DataSettle)
	}
	if c.BeginSettle != 20*time.Millisecond {
		t.Fatalf("begin settle = %v", c.BeginSettle)
	}
	if out.SampleEvery != time.Second {
		t.Fatalf("period = %v", out.SampleEvery)
	}
	if info := ad.Capabilities()[0].Info.(types.OxygenInfo); info.Alpha != 0 {
		t.Fatalf("alpha should be omitted without smoothing: %+v", info)
	}
}

func TestBuilder_Errors(t *testing.T) {
	f := platform.NewSimFactory("i2c0")
	cases := []struct {
		name string
		in   registry.BuildInput
		want errcode.Code
	}{
		{"no bus ref", registry.BuildInput{Buses: f}, errcode.MissingBusRef},
		{"unknown bus", registry.BuildInput{Buses: f, BusRefType: "i2c", BusRefID: "i2c9"}, errcode.UnknownBus},
		{"bad decoding", registry.BuildInput{Buses: f, BusRefType: "i2c", BusRefID: "i2c0",
			ParamsJSON: map[string]any{"decoding": "msb"}}, errcode.InvalidParams},
		{"bad samples", registry.BuildInput{Buses: f, BusRefType: "i2c", BusRefID: "i2c0",
			ParamsJSON: map[string]any{"samples": 40}}, errcode.InvalidParams},
		{"addr outside switch range", registry.BuildInput{Buses: f, BusRefType: "i2c", BusRefID: "i2c0",
			ParamsJSON: map[string]any{"addr": 0x50}}, errcode.InvalidParams},
		{"negative addr", registry.BuildInput{Buses: f, BusRefType: "i2c", BusRefID: "i2c0",
			ParamsJSON: map[string]any{"addr": -1}}, errcode.InvalidParams},
		{"bad json", registry.BuildInput{Buses: f, BusRefType: "i2c", BusRefID: "i2c0",
			ParamsJSON: `{"addr":"x"}`}, errcode.InvalidParams},
	}
	for _, tc := range cases {
		_, err := builder{}.Build(tc.in)
		if errcode.Of(err) != tc.want {
			t.Errorf("%s: err = %v, want %s", tc.name, err, tc.want)
		}
	}
}

func TestAdaptor_CollectPublishesValue(t *testing.T) {
	sim := platform.NewSimSEN0322(20.9, 0)
	ad := newTestAdaptor(t, sim, o2.Config{})

	if after, err := ad.Trigger(context.Background()); err != nil || after != 0 {
		t.Fatalf("Trigger = %v, %v", after, err)
	}
	s, err := ad.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(s) != 1 || s[0].Kind != consts.KindOxygen {
		t.Fatalf("sample = %+v", s)
	}
	v := s[0].Payload.(types.OxygenValue)
	if math.Abs(v.Percent-20.9) > 0.01 || v.Samples != 3 || math.Abs(v.Key-o2.DefaultKey) > 1e-12 || v.TSms == 0 {
		t.Fatalf("value = %+v", v)
	}
}

func TestAdaptor_CollectErrors(t *testing.T) {
	sim := platform.NewSimSEN0322(20.9, 0)
	ad := newTestAdaptor(t, sim, o2.Config{})

	sim.FailReads(o2.RegKey, 1)
	_, err := ad.Collect(context.Background())
	if errcode.Of(err) != errcode.TransportRead {
		t.Fatalf("err = %v", err)
	}
	if halcore.Terminal(err) {
		t.Fatal("calibration failure must not be terminal")
	}
	st, _ := ad.Control(consts.KindOxygen, consts.CtrlStatus, nil)
	if !st.(types.OxygenStatus).Warning {
		t.Fatal("status should report warning")
	}

	sim.SetPercent(35)
	if _, err := ad.Collect(context.Background()); errcode.Of(err) != errcode.NoValidSamples {
		t.Fatalf("err = %v, want no_valid_samples", err)
	}
}

func TestAdaptor_InitFailureAndReset(t *testing.T) {
	sim := platform.NewSimSEN0322(20.9, 0)
	ad := newTestAdaptor(t, sim, o2.Config{BeginOnInit: true})

	sim.FailWrites(o2.RegCollectPhase, 1)
	_, err := ad.Collect(context.Background())
	if !errors.Is(err, errcode.InitFailed) || !halcore.Terminal(err) {
		t.Fatalf("first collect err = %v", err)
	}
	n := sim.Transactions()
	if _, err := ad.Collect(context.Background()); !errors.Is(err, errcode.DeviceFailed) {
		t.Fatalf("second collect err = %v", err)
	}
	if sim.Transactions() != n {
		t.Fatal("failed driver touched the bus")
	}

	res, err := ad.Control(consts.KindOxygen, consts.CtrlReset, nil)
	if err != nil || !res.(types.OKReply).OK {
		t.Fatalf("reset = %v, %v", res, err)
	}
	if st := ad.dev.State(); st != o2.StateUninitialized {
		t.Fatalf("state after reset = %v", st)
	}
	if _, err := ad.Collect(context.Background()); err != nil {
		t.Fatalf("collect after reset: %v", err)
	}
}

func TestAdaptor_StatusAndUnsupported(t *testing.T) {
	sim := platform.NewSimSEN0322(20.9, 0)
	ad := newTestAdaptor(t, sim, o2.Config{Samples: 2})
	if _, err := ad.Collect(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := ad.Control(consts.KindOxygen, consts.CtrlStatus, nil)
	if err != nil {
		t.Fatal(err)
	}
	st := res.(types.OxygenStatus)
	if st.State != "ready" || st.Valid != 2 || st.Attempts != 2 || st.Warning || st.Smoothed == 0 {
		t.Fatalf("status = %+v", st)
	}
	if _, err := ad.Control(consts.KindOxygen, "calibrate", nil); err != halcore.ErrUnsupported {
		t.Fatalf("unknown method err = %v", err)
	}
	if _, err := ad.Control("temperature", consts.CtrlReset, nil); err != halcore.ErrUnsupported {
		t.Fatalf("foreign kind err = %v", err)
	}
}
