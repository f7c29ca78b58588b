package sen0322

import "strconv"

// DefaultAlpha is the EMA weight given to each new cycle mean.
const DefaultAlpha = 0.3

// Smoothing selects how cycle means are combined across cycles.
type Smoothing uint8

const (
	// SmoothingEMA feeds one mean per cycle into an exponential moving average.
	SmoothingEMA Smoothing = iota
	// SmoothingNone publishes each cycle mean as-is.
	SmoothingNone
)

func (s Smoothing) String() string {
	switch s {
	case SmoothingEMA:
		return "ema"
	case SmoothingNone:
		return "none"
	default:
		return "smoothing(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSmoothing accepts the String forms; "" selects the default.
func ParseSmoothing(s string) (Smoothing, bool) {
	switch s {
	case "", "ema":
		return SmoothingEMA, true
	case "none", "average":
		return SmoothingNone, true
	}
	return 0, false
}

// EMA is an exponential moving average. The zero value is unseeded; the
// first Update seeds it with the input.
type EMA struct {
	Alpha float64

	v      float64
	seeded bool
}

// Update folds x into the average and returns the new state:
// state = Alpha*x + (1-Alpha)*state.
func (e *EMA) Update(x float64) float64 {
	if !e.seeded {
		e.v = x
		e.seeded = true
		return e.v
	}
	e.v = e.Alpha*x + (1-e.Alpha)*e.v
	return e.v
}

// Value returns the current state; ok is false before the first Update.
func (e *EMA) Value() (float64, bool) { return e.v, e.seeded }

func (e *EMA) Reset() {
	e.v = 0
	e.seeded = false
}
