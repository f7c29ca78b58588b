// services/hal/internal/consts/consts.go
package consts

// Top-level topics
const (
	TokConfig     = "config"
	TokHAL        = "hal"
	TokCapability = "capability"
	TokInfo       = "info"
	TokState      = "state"
	TokValue      = "value"
	TokControl    = "control"
)

// Control verbs
const (
	CtrlReadNow = "read_now"
	CtrlSetRate = "set_rate"
	CtrlReset   = "reset"
	CtrlStatus  = "status"
)

// Capability kinds used in service wiring
const (
	KindOxygen = "oxygen"
)

// Bus reference types
const (
	BusI2C = "i2c"
)
