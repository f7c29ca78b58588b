package sen0322

import (
	"strconv"

	"o2hal/errcode"
	"o2hal/x/mathx"
)

// Physical range of the sensor, in %vol. Readings outside are discarded.
const (
	MinPercent = 0.0
	MaxPercent = 30.0
)

const (
	// DefaultKey is used when the key register reads zero.
	DefaultKey = 20.9 / 120.0
	// FieldKey is the constant some deployments pin the factor to.
	FieldKey = 0.18463

	raw16Scale = 0.01
)

// Decoding selects how a raw oxygen frame is interpreted.
type Decoding uint8

const (
	// DecodeFixedPoint reads three bytes (integer, tenths, hundredths) and
	// scales them by the calibration factor.
	DecodeFixedPoint Decoding = iota
	// DecodeRaw16 reads two bytes, low byte first, scaled by 0.01. The
	// calibration factor is not applied.
	DecodeRaw16
)

// Width is the raw frame length for d.
func (d Decoding) Width() int {
	if d == DecodeRaw16 {
		return 2
	}
	return 3
}

func (d Decoding) String() string {
	switch d {
	case DecodeFixedPoint:
		return "fixed_point"
	case DecodeRaw16:
		return "raw16"
	default:
		return "decoding(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDecoding accepts the String forms; "" selects the default.
func ParseDecoding(s string) (Decoding, bool) {
	switch s {
	case "", "fixed_point":
		return DecodeFixedPoint, true
	case "raw16":
		return DecodeRaw16, true
	}
	return 0, false
}

// KeyFactor maps the calibration register byte to a scale factor.
func KeyFactor(b byte) float64 {
	if b == 0 {
		return DefaultKey
	}
	return float64(b) / 1000.0
}

// Decode converts a raw frame into a percentage. Values outside
// [MinPercent, MaxPercent] are rejected with errcode.OutOfRange, never
// clamped.
func Decode(d Decoding, raw []byte, key float64) (float64, error) {
	if len(raw) < d.Width() {
		return 0, errcode.New(errcode.InvalidPayload, "decode", nil)
	}
	var v float64
	switch d {
	case DecodeRaw16:
		v = float64(uint16(raw[1])<<8|uint16(raw[0])) * raw16Scale
	default:
		v = key * (float64(raw[0]) + float64(raw[1])/10.0 + float64(raw[2])/100.0)
	}
	if !mathx.Between(v, MinPercent, MaxPercent) { // also rejects NaN
		return v, &errcode.E{C: errcode.OutOfRange, Op: "decode", Msg: strconv.FormatFloat(v, 'f', 2, 64)}
	}
	return v, nil
}
