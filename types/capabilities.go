package types

// ------------------------
// Capability kinds
// ------------------------

type Kind string

const (
	KindOxygen Kind = "oxygen"
)
