// services/hal/internal/halcore/types.go
package halcore

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"

	"o2hal/errcode"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    string // e.g. "oxygen"
	Payload any    // JSON-serialisable
	TsMs    int64  // producer timestamp (ms)
}

// Sample is a batch collected together.
type Sample []Reading

// CapInfo describes one capability’s retained info document.
type CapInfo struct {
	Kind string // capability kind
	Info any    // small JSONable document
}

// Adaptor abstracts a concrete device/driver. Must not own goroutines or the bus.
type Adaptor interface {
	ID() string
	Capabilities() []CapInfo
	// Split-phase measurement cycle.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	Collect(ctx context.Context) (Sample, error)
	// Optional pass-through control for device-specific methods.
	Control(kind, method string, payload any) (result any, err error)
}

// WorkerConfig centralises timings and limits.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
}

// MeasureReq asks a worker to service an adaptor.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool   // true for "read_now"
	Gen     uint32 // device generation; bumped on reset and rebuild
}

// Result emitted by a worker. Gen echoes the request's generation.
type Result struct {
	ID     string
	Gen    uint32
	Sample Sample
	Err    error
}

var (
	// ErrNotReady signals the worker to retry Collect after backoff.
	ErrNotReady = errors.New("not ready")
	// ErrUnsupported for adaptor Control pass-through.
	ErrUnsupported error = errcode.Unsupported
)

// Terminal reports whether err means the device will not produce further
// readings until it is reset. The service stops scheduling such devices.
func Terminal(err error) bool {
	switch errcode.Of(err) {
	case errcode.InitFailed, errcode.DeviceFailed:
		return true
	}
	return false
}

// ---- Buses ----

// I2CBusFactory injects configured I²C instances by id.
// Uses the TinyGo drivers.I2C interface so drivers stay portable to MCU builds.
type I2CBusFactory interface {
	ByID(id string) (drivers.I2C, bool)
}
