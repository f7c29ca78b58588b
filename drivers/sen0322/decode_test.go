package sen0322

import (
	"errors"
	"math"
	"testing"

	"o2hal/errcode"
)

const tol = 1e-9

func TestKeyFactor(t *testing.T) {
	if got := KeyFactor(0); math.Abs(got-20.9/120) > tol {
		t.Fatalf("KeyFactor(0) = %v, want default", got)
	}
	for _, b := range []byte{1, 120, 185, 255} {
		if got, want := KeyFactor(b), float64(b)/1000; math.Abs(got-want) > tol {
			t.Errorf("KeyFactor(%d) = %v, want %v", b, got, want)
		}
	}
}

func TestDecodeFixedPoint(t *testing.T) {
	cases := []struct {
		raw  [3]byte
		key  float64
		want float64
	}{
		{[3]byte{100, 0, 0}, 0.209, 20.9},
		{[3]byte{113, 2, 0}, FieldKey, FieldKey * 113.2},
		{[3]byte{0, 0, 0}, DefaultKey, 0},
		{[3]byte{12, 3, 4}, 1, 12.34},
	}
	for _, tc := range cases {
		got, err := Decode(DecodeFixedPoint, tc.raw[:], tc.key)
		if err != nil {
			t.Fatalf("Decode(% X, %v): %v", tc.raw, tc.key, err)
		}
		if math.Abs(got-tc.want) > tol {
			t.Errorf("Decode(% X, %v) = %v, want %v", tc.raw, tc.key, got, tc.want)
		}
	}
}

// Every in-range triple decodes to key*(a + b/10 + c/100).
func TestDecodeFixedPoint_Exhaustive(t *testing.T) {
	key := DefaultKey
	for a := 0; a < 256; a++ {
		for b := 0; b < 10; b++ {
			for c := 0; c < 10; c++ {
				want := key * (float64(a) + float64(b)/10 + float64(c)/100)
				got, err := Decode(DecodeFixedPoint, []byte{byte(a), byte(b), byte(c)}, key)
				if want > MaxPercent {
					if !errors.Is(err, errcode.OutOfRange) {
						t.Fatalf("(%d,%d,%d) -> %v accepted", a, b, c, got)
					}
					continue
				}
				if err != nil || math.Abs(got-want) > tol {
					t.Fatalf("(%d,%d,%d) = %v, %v; want %v", a, b, c, got, err, want)
				}
			}
		}
	}
}

func TestDecodeRaw16(t *testing.T) {
	got, err := Decode(DecodeRaw16, []byte{0x64, 0x00}, 123)
	if err != nil || math.Abs(got-1.00) > tol {
		t.Fatalf("Decode raw16 0x0064 = %v, %v; want 1.00", got, err)
	}
	got, err = Decode(DecodeRaw16, []byte{0x2A, 0x08}, 0)
	if err != nil || math.Abs(got-20.90) > tol {
		t.Fatalf("Decode raw16 0x082A = %v, %v; want 20.90", got, err)
	}
}

func TestDecodeRejectsOutOfRange(t *testing.T) {
	// 0x0BB9 = 3001 -> 30.01 %
	v, err := Decode(DecodeRaw16, []byte{0xB9, 0x0B}, 0)
	if !errors.Is(err, errcode.OutOfRange) {
		t.Fatalf("err = %v, want out_of_range", err)
	}
	if v <= MaxPercent {
		t.Fatalf("value should be reported unclamped, got %v", v)
	}
	if _, err := Decode(DecodeFixedPoint, []byte{1, 0, 0}, -1); !errors.Is(err, errcode.OutOfRange) {
		t.Fatalf("negative reading accepted: %v", err)
	}
	if _, err := Decode(DecodeFixedPoint, []byte{1, 0, 0}, math.NaN()); !errors.Is(err, errcode.OutOfRange) {
		t.Fatalf("NaN reading accepted: %v", err)
	}
}

func TestDecodeShortFrame(t *testing.T) {
	if _, err := Decode(DecodeFixedPoint, []byte{1, 2}, 1); errcode.Of(err) != errcode.InvalidPayload {
		t.Fatalf("err = %v, want invalid_payload", err)
	}
}

func TestParseDecoding(t *testing.T) {
	for _, d := range []Decoding{DecodeFixedPoint, DecodeRaw16} {
		got, ok := ParseDecoding(d.String())
		if !ok || got != d {
			t.Errorf("ParseDecoding(%q) = %v, %v", d.String(), got, ok)
		}
	}
	if d, ok := ParseDecoding(""); !ok || d != DecodeFixedPoint {
		t.Fatal("empty decoding should select fixed_point")
	}
	if _, ok := ParseDecoding("msb"); ok {
		t.Fatal("unknown decoding accepted")
	}
}
