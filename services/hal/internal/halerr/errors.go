// Package halerr holds the control-plane errors the HAL replies with. Each is
// an errcode.Code so replies carry the same short strings as device errors.
package halerr

import "o2hal/errcode"

var (
	// Service/control plane
	ErrBusy           error = errcode.Busy
	ErrInvalidPeriod  error = errcode.InvalidPeriod
	ErrInvalidCapAddr error = errcode.InvalidCapAddr
	ErrUnknownCap     error = errcode.UnknownCapability
	ErrNoAdaptor      error = errcode.NoAdaptor
	ErrDeviceFailed   error = errcode.DeviceFailed

	// Build/config
	ErrMissingBusRef error = errcode.MissingBusRef
	ErrUnknownBus    error = errcode.UnknownBus
	ErrInvalidParams error = errcode.InvalidParams

	// Generic / pass-through
	ErrUnsupported error = errcode.Unsupported
)
