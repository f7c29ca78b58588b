package types

// HAL configuration supplied on topic "config/hal".

type HALConfig struct {
	Devices []Device `json:"devices"`
}

type Device struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Params any    `json:"params,omitempty"`
	BusRef BusRef `json:"bus_ref,omitempty"`
}

type BusRef struct {
	Type string `json:"type"` // "i2c"
	ID   string `json:"id"`   // "i2c0", "i2c1", ...
}

// BridgeConfig is supplied on "config/bridge".
type BridgeConfig struct {
	Broker   string `json:"broker"`    // e.g. "tcp://localhost:1883"
	ClientID string `json:"client_id"` // defaults to "o2hal"
	Prefix   string `json:"prefix"`    // remote topic prefix
	QoS      byte   `json:"qos"`
}

// MetricsConfig is supplied on "config/metrics".
type MetricsConfig struct {
	Listen string `json:"listen"` // e.g. ":9108"; empty disables HTTP
}
