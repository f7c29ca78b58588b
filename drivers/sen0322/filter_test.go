package sen0322

import (
	"math"
	"testing"
)

func TestEMA_SeedThenBlend(t *testing.T) {
	e := EMA{Alpha: DefaultAlpha}
	if _, ok := e.Value(); ok {
		t.Fatal("zero EMA should be unseeded")
	}
	if got := e.Update(20.0); got != 20.0 {
		t.Fatalf("seed = %v, want 20", got)
	}
	got := e.Update(21.0)
	if want := 0.3*21.0 + 0.7*20.0; math.Abs(got-want) > 1e-12 {
		t.Fatalf("blend = %v, want %v", got, want)
	}
	v, ok := e.Value()
	if !ok || v != got {
		t.Fatalf("Value() = %v, %v", v, ok)
	}
	e.Reset()
	if got := e.Update(5); got != 5 {
		t.Fatalf("after Reset, seed = %v", got)
	}
}

func TestParseSmoothing(t *testing.T) {
	cases := map[string]Smoothing{
		"":        SmoothingEMA,
		"ema":     SmoothingEMA,
		"none":    SmoothingNone,
		"average": SmoothingNone,
	}
	for in, want := range cases {
		got, ok := ParseSmoothing(in)
		if !ok || got != want {
			t.Errorf("ParseSmoothing(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseSmoothing("median"); ok {
		t.Fatal("unknown smoothing accepted")
	}
}
