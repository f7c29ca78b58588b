package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cause := errors.New("i2c nack")
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", NoValidSamples, NoValidSamples},
		{"wrapped E", New(TransportRead, "read_raw", cause), TransportRead},
		{"fmt wrapped E", fmt.Errorf("cycle: %w", New(TransportWrite, "write_register", cause)), TransportWrite},
		{"foreign", cause, Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestEIsAndUnwrap(t *testing.T) {
	cause := errors.New("bus error")
	err := fmt.Errorf("update: %w", New(InitFailed, "init", cause))

	if !errors.Is(err, InitFailed) {
		t.Fatal("errors.Is should match on code")
	}
	if errors.Is(err, DeviceFailed) {
		t.Fatal("errors.Is matched the wrong code")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable through Unwrap")
	}
	if got := New(TransportRead, "read_key", cause).Error(); got != "read_key: transport_read: bus error" {
		t.Fatalf("Error() = %q", got)
	}
}
