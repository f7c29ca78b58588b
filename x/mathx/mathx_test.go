package mathx

import (
	"math"
	"testing"
	"time"
)

func TestClamp(t *testing.T) {
	if got := Clamp(50*time.Millisecond, 200*time.Millisecond, time.Hour); got != 200*time.Millisecond {
		t.Fatalf("Clamp low = %v", got)
	}
	if got := Clamp(2*time.Hour, 200*time.Millisecond, time.Hour); got != time.Hour {
		t.Fatalf("Clamp high = %v", got)
	}
	if got := Clamp(5, 10, 0); got != 5 {
		t.Fatalf("Clamp swapped bounds = %v", got)
	}
}

func TestBetween(t *testing.T) {
	cases := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{30, true},
		{20.9, true},
		{-0.01, false},
		{30.01, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}
	for _, tc := range cases {
		if got := Between(tc.v, 0, 30); got != tc.want {
			t.Errorf("Between(%v, 0, 30) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestMean(t *testing.T) {
	if _, ok := Mean([]float64(nil)); ok {
		t.Fatal("empty mean should report !ok")
	}
	m, ok := Mean([]float64{20, 21, 22})
	if !ok || math.Abs(m-21) > 1e-12 {
		t.Fatalf("Mean = %v, %v", m, ok)
	}
}
