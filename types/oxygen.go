package types

// ------------------------
// Oxygen
// ------------------------

type OxygenInfo struct {
	Sensor    string  `json:"sensor"` // "sen0322"
	Addr      uint16  `json:"addr"`
	Bus       string  `json:"bus"`
	Unit      string  `json:"unit"` // "%vol"
	Decoding  string  `json:"decoding"`
	Smoothing string  `json:"smoothing"`
	Samples   int     `json:"samples"`
	Alpha     float64 `json:"alpha,omitempty"`
}

type OxygenValue struct {
	Percent float64 `json:"percent"`
	// Valid samples that contributed to this cycle's mean.
	Samples int     `json:"samples"`
	Key     float64 `json:"key"`
	TSms    int64   `json:"ts_ms"`
}

// OxygenStatus is the reply to the "status" control.
type OxygenStatus struct {
	State     string  `json:"state"` // driver lifecycle state
	Warning   bool    `json:"warning"`
	Attempts  int     `json:"attempts"`
	Valid     int     `json:"valid"`
	Discarded int     `json:"discarded"`
	Faults    int     `json:"faults"`
	Key       float64 `json:"key,omitempty"`
	Smoothed  float64 `json:"smoothed,omitempty"`
}
