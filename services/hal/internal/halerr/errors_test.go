package halerr

import (
	"errors"
	"testing"

	"o2hal/errcode"
)

func TestErrorsAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"busy":                       ErrBusy,
		"invalid_period":             ErrInvalidPeriod,
		"invalid_capability_address": ErrInvalidCapAddr,
		"unknown_capability":         ErrUnknownCap,
		"no_adaptor":                 ErrNoAdaptor,
		"device_failed":              ErrDeviceFailed,
		"missing_bus_ref":            ErrMissingBusRef,
		"unknown_bus":                ErrUnknownBus,
		"invalid_params":             ErrInvalidParams,
		"unsupported":                ErrUnsupported,
	}
	for want, e := range cases {
		if e == nil || e.Error() != want {
			t.Fatalf("error %q mismatch: got %#v", want, e)
		}
	}
}

func TestErrorsMatchCodes(t *testing.T) {
	wrapped := &errcode.E{C: errcode.UnknownBus, Op: "build", Msg: "i2c9"}
	if !errors.Is(wrapped, ErrUnknownBus) {
		t.Fatal("errcode.E should match the halerr sentinel")
	}
	if errcode.Of(ErrBusy) != errcode.Busy {
		t.Fatal("sentinel should map back to its code")
	}
}
